// Package a11y observes whether a platform screen reader is running, so
// narration can step aside instead of talking over it.
package a11y

import "sync"

// Monitor reports screen reader activity.
type Monitor interface {
	Enabled() bool
	// Subscribe calls fn on every change until the returned cancel func is
	// called. fn may be called from any goroutine.
	Subscribe(fn func(active bool)) (cancel func())
}

// Static is a Monitor whose value is set by hand. The zero value reports an
// inactive screen reader.
type Static struct {
	mu     sync.Mutex
	active bool
	subs   map[int]func(bool)
	next   int
}

// NewStatic returns a Static monitor in the given state.
func NewStatic(active bool) *Static {
	return &Static{active: active}
}

// Enabled implements Monitor.
func (s *Static) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Subscribe implements Monitor.
func (s *Static) Subscribe(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(bool))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set changes the state and notifies subscribers when it actually changed.
func (s *Static) Set(active bool) {
	s.mu.Lock()
	if s.active == active {
		s.mu.Unlock()
		return
	}
	s.active = active
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(active)
	}
}
