package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultStopTimeout bounds how long Speak waits for the previous utterance
// to fall silent.
const DefaultStopTimeout = 3 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithHooks installs lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLanguage sets the language passed to the backend.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stopTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine serializes speech on a single Backend.
type Engine struct {
	backend     Backend
	hooks       Hooks
	language    string
	stopTimeout time.Duration
	logger      *log.Logger

	// opMu serializes Speak, Stop and Close.
	opMu sync.Mutex

	mu      sync.Mutex
	current *Utterance
	nextID  uint64
	closed  bool
}

// NewEngine wraps backend.
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:     backend,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default().WithPrefix("speech")
	}
	return e
}

// Backend returns the name of the underlying backend.
func (e *Engine) Backend() string {
	return e.backend.Name()
}

// MaxRate reports the fastest rate the backend supports.
func (e *Engine) MaxRate() float64 {
	return e.backend.MaxRate()
}

// Speaking reports whether an utterance is in flight.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Speak stops whatever is playing, waits for it to go quiet, then starts
// speaking text at rate. It returns as soon as the new utterance is queued
// on the backend.
func (e *Engine) Speak(text string, rate float64) (*Utterance, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if p, ok := e.backend.(Prober); ok {
		if err := p.Probe(); err != nil {
			return nil, &Error{Backend: e.backend.Name(), Op: "speak", Err: err}
		}
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	prev := e.current
	e.mu.Unlock()

	if prev != nil {
		prev.requestStop()
		if err := e.waitQuiet(prev); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.nextID++
	u := newUtterance(e.nextID, text, rate)
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	e.current = u
	e.mu.Unlock()

	e.logger.Debug("Speaking", "id", u.ID, "rate", rate, "chars", len(text), "backend", e.backend.Name())
	go e.run(ctx, u)
	return u, nil
}

func (e *Engine) run(ctx context.Context, u *Utterance) {
	req := Request{
		Text:     u.Text,
		Rate:     u.Rate,
		Language: e.language,
		Started: func() {
			if u.markStarted() && e.hooks.OnStart != nil {
				e.hooks.OnStart(u)
			}
		},
	}

	err := e.backend.Say(ctx, req)
	if err != nil && ctx.Err() == nil {
		err = &Error{Backend: e.backend.Name(), Op: "say", Err: err}
	}

	out := u.settle(err)
	u.cancel()
	defer u.finish()

	e.mu.Lock()
	if e.current == u {
		e.current = nil
	}
	e.mu.Unlock()

	switch out {
	case Done:
		e.logger.Debug("Utterance finished", "id", u.ID)
		if e.hooks.OnDone != nil {
			e.hooks.OnDone(u)
		}
	case Stopped:
		e.logger.Debug("Utterance stopped", "id", u.ID)
		if e.hooks.OnStopped != nil {
			e.hooks.OnStopped(u)
		}
	case Failed:
		e.logger.Warn("Utterance failed", "id", u.ID, "err", u.Err())
		if e.hooks.OnError != nil {
			e.hooks.OnError(u, u.Err())
		}
	}
}

func (e *Engine) waitQuiet(u *Utterance) error {
	t := time.NewTimer(e.stopTimeout)
	defer t.Stop()
	select {
	case <-u.Done():
		return nil
	case <-t.C:
		return fmt.Errorf("%w: utterance %d after %s", ErrStillSpeaking, u.ID, e.stopTimeout)
	}
}

// Stop cancels the current utterance, if any. It does not wait for the
// backend to go quiet; the next Speak does that. Calling Stop when nothing
// is playing is a no-op.
func (e *Engine) Stop() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	u := e.current
	e.mu.Unlock()

	if u != nil && u.requestStop() {
		e.logger.Debug("Stop requested", "id", u.ID)
	}
}

// Close stops playback and waits for it to end. Further Speak calls fail.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	u := e.current
	e.mu.Unlock()

	if u != nil {
		u.requestStop()
		return e.waitQuiet(u)
	}
	return nil
}
