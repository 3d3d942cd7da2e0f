// Package speech owns the text-to-speech output. An Engine guarantees that at
// most one utterance is audible at a time; platform Backends do the actual
// synthesis and are only ever driven through an Engine.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmptyText is returned when asked to speak nothing.
	ErrEmptyText = errors.New("nothing to speak")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("speech engine is closed")
	// ErrBackendUnavailable is returned when no synthesizer can be found.
	ErrBackendUnavailable = errors.New("speech backend is not available")
	// ErrStillSpeaking is returned when the previous utterance refuses to
	// stop in time.
	ErrStillSpeaking = errors.New("previous utterance did not stop")
)

// Error describes a backend failure.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request is a single synthesis job handed to a Backend.
type Request struct {
	Text     string
	Rate     float64
	Language string
	// Started must be called by the backend when audio output begins.
	Started func()
}

// Backend synthesizes and plays text. Say blocks until playback finishes or
// ctx is cancelled, in which case it must stop output promptly.
type Backend interface {
	Name() string
	Say(ctx context.Context, req Request) error
	// MaxRate is the fastest rate the backend can honor.
	MaxRate() float64
}

// Outcome is the terminal result of an utterance.
type Outcome int

const (
	// Pending means the utterance has not finished yet.
	Pending Outcome = iota
	// Done means the text was spoken to the end.
	Done
	// Stopped means the utterance was cancelled.
	Stopped
	// Failed means the backend reported an error.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Utterance is one Speak call. Its outcome is resolved exactly once.
type Utterance struct {
	ID   uint64
	Text string
	Rate float64

	started   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	endOnce   sync.Once

	mu      sync.Mutex
	outcome Outcome
	err     error
	stopped bool
	cancel  context.CancelFunc
}

func newUtterance(id uint64, text string, rate float64) *Utterance {
	return &Utterance{
		ID:      id,
		Text:    text,
		Rate:    rate,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Started is closed when audio output begins.
func (u *Utterance) Started() <-chan struct{} { return u.started }

// Done is closed once the outcome is known and the terminal hook has run.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Outcome returns the terminal outcome, or Pending.
func (u *Utterance) Outcome() Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.outcome
}

// Err returns the backend error for a Failed utterance.
func (u *Utterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Wait blocks until the utterance finishes or ctx is done.
func (u *Utterance) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-u.done:
		return u.Outcome(), u.Err()
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

func (u *Utterance) markStarted() bool {
	first := false
	u.startOnce.Do(func() {
		close(u.started)
		first = true
	})
	return first
}

// requestStop cancels playback and reports whether the utterance was still
// running.
func (u *Utterance) requestStop() bool {
	u.mu.Lock()
	if u.outcome != Pending {
		u.mu.Unlock()
		return false
	}
	u.stopped = true
	cancel := u.cancel
	u.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// settle records the outcome. Done is closed separately by finish, once the
// terminal hook has run.
func (u *Utterance) settle(sayErr error) Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.outcome != Pending {
		return u.outcome
	}
	switch {
	case u.stopped:
		u.outcome = Stopped
	case sayErr != nil:
		u.outcome = Failed
		u.err = sayErr
	default:
		u.outcome = Done
	}
	return u.outcome
}

func (u *Utterance) finish() {
	u.endOnce.Do(func() { close(u.done) })
}

// Hooks are optional callbacks fired by the Engine. Exactly one of OnDone,
// OnStopped or OnError fires per utterance, before its Done channel closes,
// so it always precedes the next utterance's callbacks. Hooks must not call
// back into the Engine.
type Hooks struct {
	OnStart   func(u *Utterance)
	OnDone    func(u *Utterance)
	OnStopped func(u *Utterance)
	OnError   func(u *Utterance, err error)
}
