// Package cache keeps image descriptions so that the same photo is not sent
// to a vision model twice. It has an in-memory LRU tier (L1) in front of a
// compressed, persistent disk tier (L2) with TTL cleanup.
package cache
