// Package prefs persists the narration preferences (reading rate and
// auto-read) and the first-run tutorial flag across sessions.
package prefs

import (
	"context"
	"errors"
)

// Persisted keys.
const (
	KeyRate         = "narration.rate"
	KeyAutoRead     = "narration.autoRead"
	KeyTutorialDone = "onboarding.tutorialDone"
)

// Defaults used when a key is missing or unreadable.
const (
	DefaultRate         = 0.8
	DefaultAutoRead     = true
	DefaultTutorialDone = false
)

var (
	// ErrClosed is returned when writing to a store that has been closed.
	ErrClosed = errors.New("preference store is closed")
	// ErrInvalidValue is returned when a stored value can't be parsed.
	ErrInvalidValue = errors.New("invalid preference value")
	// ErrUnknownKey is returned by the typed helpers for keys they don't manage.
	ErrUnknownKey = errors.New("unknown preference key")
)

// Store is a string key/value store. Implementations must be safe for
// concurrent use. A missing key is reported with ok == false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Keys lists every key managed by Preferences.
func Keys() []string {
	return []string{KeyRate, KeyAutoRead, KeyTutorialDone}
}
