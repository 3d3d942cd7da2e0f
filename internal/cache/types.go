package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the tier capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when an entry on disk cannot be decoded.
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("cache closed")
)

// Level identifies a cache tier.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Stats are counters for one tier.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int64
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Config sizes both tiers.
type Config struct {
	MemoryCapacity int64 `mapstructure:"memory_capacity" yaml:"memory_capacity"`
	DiskCapacity   int64 `mapstructure:"disk_capacity" yaml:"disk_capacity"`
	// DiskPath disables the disk tier when empty.
	DiskPath         string        `mapstructure:"path" yaml:"path"`
	CompressionLevel int           `mapstructure:"compression_level" yaml:"compression_level"`
	TTL              time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MemoryCapacity:   1 << 20,
		DiskCapacity:     32 << 20,
		CompressionLevel: 3,
		TTL:              30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Key derives the cache key for a description of an image. The same image
// described by another model or in another language is a different entry.
func Key(imageDigest, provider, language string) string {
	h := sha256.New()
	for _, part := range []string{imageDigest, provider, strings.ToLower(language)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the hex SHA-256 of data, used to identify image content.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
