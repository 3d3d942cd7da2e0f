//go:build nocgo
// +build nocgo

package speech

import (
	"context"
	"fmt"
)

// PiperBackend is unavailable without cgo.
type PiperBackend struct{ cfg PiperConfig }

// NewPiperBackend always fails in nocgo builds.
func NewPiperBackend(PiperConfig) (*PiperBackend, error) {
	return nil, fmt.Errorf("%w: audio output needs cgo", ErrBackendUnavailable)
}

// Name implements Backend.
func (b *PiperBackend) Name() string { return "piper" }

// MaxRate implements Backend.
func (b *PiperBackend) MaxRate() float64 { return b.cfg.MaxRate }

// Say implements Backend.
func (b *PiperBackend) Say(context.Context, Request) error { return ErrBackendUnavailable }
