// Package mock provides a scriptable speech backend for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dgnsrekt/narrate/internal/speech"
)

// Call records one Say invocation.
type Call struct {
	Text string
	Rate float64
}

// Backend is a speech.Backend whose utterances last until the test finishes
// them with Finish or Fail, or until they are cancelled.
type Backend struct {
	mu       sync.Mutex
	calls    []Call
	active   int
	maxSeen  int
	finish   chan error
	maxRate  float64
	startErr error

	// Began receives every request once Say has started playback.
	Began chan Call
}

// New returns a Backend with the given maximum rate.
func New(maxRate float64) *Backend {
	return &Backend{
		maxRate: maxRate,
		finish:  make(chan error),
		Began:   make(chan Call, 64),
	}
}

// Name implements speech.Backend.
func (b *Backend) Name() string { return "mock" }

// MaxRate implements speech.Backend.
func (b *Backend) MaxRate() float64 { return b.maxRate }

// FailNextStart makes the next Say return err immediately.
func (b *Backend) FailNextStart(err error) {
	b.mu.Lock()
	b.startErr = err
	b.mu.Unlock()
}

// Say implements speech.Backend.
func (b *Backend) Say(ctx context.Context, req speech.Request) error {
	call := Call{Text: req.Text, Rate: req.Rate}

	b.mu.Lock()
	b.calls = append(b.calls, call)
	if err := b.startErr; err != nil {
		b.startErr = nil
		b.mu.Unlock()
		return err
	}
	b.active++
	if b.active > b.maxSeen {
		b.maxSeen = b.active
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	if req.Started != nil {
		req.Started()
	}
	b.Began <- call

	select {
	case err := <-b.finish:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish completes the playing utterance successfully.
func (b *Backend) Finish() { b.finish <- nil }

// Fail completes the playing utterance with err.
func (b *Backend) Fail(err error) { b.finish <- err }

// Calls returns every request seen so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// MaxConcurrent is the highest number of simultaneous Say calls observed.
func (b *Backend) MaxConcurrent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSeen
}

// Active is the number of Say calls currently playing.
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}
