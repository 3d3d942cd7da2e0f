package speech

import (
	"context"
	"errors"
	"fmt"
)

const silentMaxRate = 10

// Prober is implemented by backends that can tell up front that they will
// not produce audio. Engine.Speak refuses to start when Probe fails.
type Prober interface {
	Probe() error
}

// SilentBackend stands in when no synthesizer is usable. It never plays
// anything, so narration falls back to the displayed text.
type SilentBackend struct {
	reason error
}

// NewSilentBackend returns a backend that refuses every request with reason.
func NewSilentBackend(reason error) *SilentBackend {
	if reason == nil {
		reason = ErrBackendUnavailable
	}
	return &SilentBackend{reason: reason}
}

// Name implements Backend.
func (b *SilentBackend) Name() string { return "silent" }

// MaxRate implements Backend.
func (b *SilentBackend) MaxRate() float64 { return silentMaxRate }

// Probe implements Prober.
func (b *SilentBackend) Probe() error {
	if errors.Is(b.reason, ErrBackendUnavailable) {
		return b.reason
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, b.reason)
}

// Say implements Backend.
func (b *SilentBackend) Say(context.Context, Request) error { return b.Probe() }
