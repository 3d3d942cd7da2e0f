package gesture

import (
	"sync"
	"time"
)

// DoubleTapWindow is the longest gap between two taps of a double tap.
const DoubleTapWindow = 300 * time.Millisecond

// TapKind classifies a tap.
type TapKind int

const (
	// SingleTap is a tap with no recent predecessor.
	SingleTap TapKind = iota
	// DoubleTap is the second tap inside the window.
	DoubleTap
)

func (k TapKind) String() string {
	if k == DoubleTap {
		return "double"
	}
	return "single"
}

// TapDisambiguator tells single taps from double taps. The first tap of a
// pair is reported as a SingleTap straight away; callers act on it
// immediately and the second tap upgrades the gesture.
type TapDisambiguator struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

// NewTapDisambiguator uses window, or DoubleTapWindow when window is zero.
func NewTapDisambiguator(window time.Duration) *TapDisambiguator {
	if window <= 0 {
		window = DoubleTapWindow
	}
	return &TapDisambiguator{window: window}
}

// Classify records a tap at t. A double tap resets the sequence so that a
// third quick tap starts over as a single tap.
func (d *TapDisambiguator) Classify(t time.Time) TapKind {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && t.Sub(d.last) < d.window && !t.Before(d.last) {
		d.last = time.Time{}
		return DoubleTap
	}
	d.last = t
	return SingleTap
}

// Reset forgets the previous tap.
func (d *TapDisambiguator) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}
