package prefs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const writeTimeout = 5 * time.Second

// Settings is the typed view of the persisted preferences.
type Settings struct {
	Rate     float64
	AutoRead bool
	// TutorialDone is set once the spoken tutorial has been heard to the end.
	TutorialDone bool
}

// DefaultSettings returns the settings used when nothing has been persisted.
func DefaultSettings() Settings {
	return Settings{Rate: DefaultRate, AutoRead: DefaultAutoRead, TutorialDone: DefaultTutorialDone}
}

// Preferences wraps a Store with typed accessors. Reads happen once through
// Load; writes are handed to a single background writer so callers never
// block on storage. Pending writes are coalesced per key, the last value wins.
type Preferences struct {
	store  Store
	logger *log.Logger

	mu       sync.Mutex
	pending  map[string]string
	busy     bool
	closed   bool
	flushers []chan struct{}

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts the background writer for store. Call Close to stop it.
func New(store Store, logger *log.Logger) *Preferences {
	if logger == nil {
		logger = log.Default().WithPrefix("prefs")
	}
	p := &Preferences{
		store:   store,
		logger:  logger,
		pending: make(map[string]string),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Load reads the persisted settings. Missing keys and read or parse failures
// fall back to the defaults; failures are logged, never returned.
func (p *Preferences) Load(ctx context.Context) Settings {
	s := DefaultSettings()

	if v, ok := p.read(ctx, KeyRate); ok {
		if r, err := ParseRate(v); err != nil {
			p.logger.Warn("Ignoring stored rate", "value", v, "err", err)
		} else {
			s.Rate = r
		}
	}
	if v, ok := p.read(ctx, KeyAutoRead); ok {
		if b, err := ParseAutoRead(v); err != nil {
			p.logger.Warn("Ignoring stored auto-read flag", "value", v, "err", err)
		} else {
			s.AutoRead = b
		}
	}
	if v, ok := p.read(ctx, KeyTutorialDone); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			p.logger.Warn("Ignoring stored tutorial flag", "value", v, "err", err)
		} else {
			s.TutorialDone = b
		}
	}

	p.logger.Debug("Loaded preferences", "rate", s.Rate, "autoRead", s.AutoRead, "tutorialDone", s.TutorialDone)
	return s
}

func (p *Preferences) read(ctx context.Context, key string) (string, bool) {
	v, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Could not read preference", "key", key, "err", err)
		return "", false
	}
	return v, ok
}

// SaveRate schedules the rate to be persisted.
func (p *Preferences) SaveRate(rate float64) {
	p.enqueue(KeyRate, FormatRate(rate))
}

// SaveAutoRead schedules the auto-read flag to be persisted.
func (p *Preferences) SaveAutoRead(on bool) {
	p.enqueue(KeyAutoRead, strconv.FormatBool(on))
}

// SaveTutorialDone schedules the tutorial to be remembered as heard.
func (p *Preferences) SaveTutorialDone() {
	p.enqueue(KeyTutorialDone, "true")
}

func (p *Preferences) enqueue(key, value string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("Dropping preference write", "key", key, "err", ErrClosed)
		return
	}
	p.pending[key] = value
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every write scheduled before the call has been
// attempted, or ctx is done.
func (p *Preferences) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pending) == 0 && !p.busy {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.flushers = append(p.flushers, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes whatever is pending and stops the writer. It is safe to call
// more than once.
func (p *Preferences) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	<-p.done
	return nil
}

func (p *Preferences) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *Preferences) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			waiters := p.flushers
			p.flushers = nil
			p.busy = false
			p.mu.Unlock()
			for _, w := range waiters {
				close(w)
			}
			return
		}
		batch := p.pending
		p.pending = make(map[string]string)
		p.busy = true
		p.mu.Unlock()

		keys := make([]string, 0, len(batch))
		for k := range batch {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := p.store.Set(ctx, k, batch[k]); err != nil {
				p.logger.Error("Could not persist preference", "key", k, "err", err)
			}
			cancel()
		}
	}
}

// ParseRate parses a stored rate.
func ParseRate(v string) (float64, error) {
	r, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: rate %q", ErrInvalidValue, v)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return 0, fmt.Errorf("%w: rate %q", ErrInvalidValue, v)
	}
	return r, nil
}

// FormatRate renders a rate the way it is stored.
func FormatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// ParseAutoRead parses a stored auto-read flag.
func ParseAutoRead(v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: autoRead %q", ErrInvalidValue, v)
	}
	return b, nil
}

// Normalize validates value for key and returns it in stored form.
func Normalize(key, value string) (string, error) {
	switch key {
	case KeyRate:
		r, err := ParseRate(value)
		if err != nil {
			return "", err
		}
		return FormatRate(r), nil
	case KeyAutoRead:
		b, err := ParseAutoRead(value)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case KeyTutorialDone:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%w: tutorialDone %q", ErrInvalidValue, value)
		}
		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}
