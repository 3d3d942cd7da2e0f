package narration

import "time"

// Snapshot is the observable state of the controller.
type Snapshot struct {
	Session      string
	State        State
	Image        string
	Description  string
	FetchFailed  bool
	Rate         float64
	MaxRate      float64
	AutoRead     bool
	ScreenReader bool
	// UserStopped is set when the user paused narration with a tap.
	UserStopped bool
}

// RetakeRequest is emitted on a double tap: the user wants a new photo.
type RetakeRequest struct {
	Session string
	Image   string
	At      time.Time
}

// Snapshot returns the most recently published state. It is safe to call
// from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.last
}

// Subscribe returns a channel that receives a snapshot after every change.
// Slow readers only see the latest snapshot. The channel is closed when Run
// returns or cancel is called.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- c.last
	if c.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.snapMu.Lock()
		defer c.snapMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Retakes delivers double-tap retake requests. Only the latest unread
// request is kept.
func (c *Controller) Retakes() <-chan RetakeRequest {
	return c.retakes
}

// publish must be called from the loop, or before Run starts.
func (c *Controller) publish() {
	snap := Snapshot{
		Session:      c.session,
		State:        c.m.state(),
		Image:        c.image,
		Description:  c.description,
		FetchFailed:  c.fetchFailed,
		Rate:         c.rates.Rate(),
		MaxRate:      c.rates.MaxRate(),
		AutoRead:     c.autoRead,
		ScreenReader: c.screenReader,
		UserStopped:  c.userStopped,
	}

	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.last = snap
	for _, ch := range c.subs {
		offerLatest(ch, snap)
	}
}

func (c *Controller) emitRetake(req RetakeRequest) {
	select {
	case c.retakes <- req:
	default:
		select {
		case <-c.retakes:
		default:
		}
		select {
		case c.retakes <- req:
		default:
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subs = nil
}

// offerLatest replaces any unread value in ch with v.
func offerLatest(ch chan Snapshot, v Snapshot) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
