// Package narration coordinates a description session: fetching the
// description, reading it aloud, and reacting to taps, rate gestures,
// preference changes and the platform screen reader. Between sessions it
// speaks short guidance such as the first-run tutorial.
//
// All decisions are made on a single goroutine (Run). Public methods hand
// their work to that goroutine and wait for it; background completions are
// posted back to it and dropped when they belong to an older session or
// utterance.
package narration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/a11y"
	"github.com/dgnsrekt/narrate/internal/analytics"
	"github.com/dgnsrekt/narrate/internal/gesture"
	"github.com/dgnsrekt/narrate/internal/prefs"
	"github.com/dgnsrekt/narrate/internal/speech"
	"github.com/google/uuid"
)

// Provider produces a description for an image reference.
type Provider interface {
	Describe(ctx context.Context, image string) (string, error)
}

// Speaker is the single-flight speech output.
type Speaker interface {
	Speak(text string, rate float64) (*speech.Utterance, error)
	Stop()
	MaxRate() float64
}

// Preferences loads and persists the user's settings.
type Preferences interface {
	Load(ctx context.Context) prefs.Settings
	SaveRate(rate float64)
	SaveAutoRead(on bool)
	SaveTutorialDone()
}

// Tracker records product analytics events.
type Tracker interface {
	Track(event string, props map[string]interface{})
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Provider     Provider
	Speaker      Speaker
	Preferences  Preferences
	ScreenReader a11y.Monitor
	// Tracker is optional.
	Tracker Tracker
	Logger  *log.Logger
	// ErrorText replaces the description when the fetch fails. It should be
	// localized.
	ErrorText string
	Gesture   gesture.RateConfig
	TapWindow time.Duration
}

// Controller is the narration state machine.
type Controller struct {
	provider Provider
	speaker  Speaker
	prefs    Preferences
	sr       a11y.Monitor
	tracker  Tracker
	logger   *log.Logger
	errText  string

	rates *gesture.RateController
	taps  *gesture.TapDisambiguator

	ops     chan func()
	stopped chan struct{}
	running bool
	runMu   sync.Mutex

	// Owned by the Run goroutine.
	m            *machine
	session      string
	image        string
	description  string
	fetchFailed  bool
	autoRead     bool
	screenReader bool
	userStopped  bool
	utter        *speech.Utterance
	guide        *speech.Utterance
	fetchCancel  context.CancelFunc
	baseCtx      context.Context

	snapMu  sync.Mutex
	last    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	retakes chan RetakeRequest

	tutorialDone atomic.Bool
}

// New builds a Controller and loads the persisted preferences once.
func New(ctx context.Context, d Deps) (*Controller, error) {
	switch {
	case d.Provider == nil:
		return nil, fmt.Errorf("%w: provider", ErrMissingDependency)
	case d.Speaker == nil:
		return nil, fmt.Errorf("%w: speaker", ErrMissingDependency)
	case d.Preferences == nil:
		return nil, fmt.Errorf("%w: preferences", ErrMissingDependency)
	}
	if d.ScreenReader == nil {
		d.ScreenReader = a11y.NewStatic(false)
	}
	if d.Logger == nil {
		d.Logger = log.Default().WithPrefix("narration")
	}
	if d.ErrorText == "" {
		d.ErrorText = "Sorry, the image could not be analyzed."
	}
	if d.Gesture == (gesture.RateConfig{}) {
		d.Gesture = gesture.DefaultRateConfig()
	}

	settings := d.Preferences.Load(ctx)

	c := &Controller{
		provider: d.Provider,
		speaker:  d.Speaker,
		prefs:    d.Preferences,
		sr:       d.ScreenReader,
		tracker:  d.Tracker,
		logger:   d.Logger,
		errText:  d.ErrorText,
		taps:     gesture.NewTapDisambiguator(d.TapWindow),
		ops:      make(chan func()),
		stopped:  make(chan struct{}),
		m:        newMachine(),
		autoRead: settings.AutoRead,
		subs:     make(map[int]chan Snapshot),
		retakes:  make(chan RetakeRequest, 1),
		baseCtx:  context.Background(),
	}
	c.rates = gesture.NewRateController(d.Gesture, settings.Rate, gesture.WithPersister(d.Preferences))
	c.rates.SetMaxRate(d.Speaker.MaxRate())
	c.screenReader = d.ScreenReader.Enabled()
	c.tutorialDone.Store(settings.TutorialDone)
	c.m.onTransition = func(from, to State) {
		c.logger.Debug("State", "from", from, "to", to, "session", c.session)
		c.publish()
	}
	c.publish()
	return c, nil
}

// Run processes events until ctx is done. It must be running for any other
// method to make progress.
func (c *Controller) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.runMu.Unlock()

	c.baseCtx = ctx
	unsub := c.sr.Subscribe(func(active bool) {
		c.post(func() { c.onScreenReader(active) })
	})
	defer unsub()

	// The initial value may have changed between New and Run.
	c.onScreenReader(c.sr.Enabled())

	for {
		select {
		case op := <-c.ops:
			op()
		case <-ctx.Done():
			c.endSession()
			close(c.stopped)
			c.closeSubscribers()
			return nil
		}
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(done) }:
	case <-c.stopped:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrNotRunning
	}
}

// post queues fn from a background goroutine. Never call it from the loop.
func (c *Controller) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.stopped:
	}
}

// Start begins a session for image, fetching its description. Any session
// in progress is ended first.
func (c *Controller) Start(image string) error {
	return c.do(func() { c.startSession(image, "", false) })
}

// StartWithDescription begins a session with an already known description.
func (c *Controller) StartWithDescription(image, description string) error {
	return c.do(func() { c.startSession(image, description, true) })
}

// End stops narration and ends the session, e.g. when navigating away.
// A fetch still in flight is cancelled and its result ignored. Guidance
// being spoken is silenced too.
func (c *Controller) End() error {
	return c.do(func() {
		c.endSession()
		c.stopGuidance()
	})
}

// Announce speaks guidance such as a tutorial page or a camera prompt at the
// current rate. It is dropped while a session is open, since the session
// owns speech, and while a screen reader is active. A newer announcement
// interrupts an older one.
func (c *Controller) Announce(text string) error {
	return c.do(func() { c.onAnnounce(text) })
}

// TutorialDone reports whether the first-run tutorial has been completed.
func (c *Controller) TutorialDone() bool {
	return c.tutorialDone.Load()
}

// CompleteTutorial remembers that the tutorial was heard to the end.
func (c *Controller) CompleteTutorial() error {
	return c.do(func() {
		if c.tutorialDone.Swap(true) {
			return
		}
		c.prefs.SaveTutorialDone()
		c.track(analytics.EventTutorialDone, nil)
		c.logger.Info("Tutorial completed")
	})
}

// Tap handles a tap at the given time.
func (c *Controller) Tap(at time.Time) error {
	return c.do(func() { c.onTap(at) })
}

// DragDelta handles one movement of a rate drag.
func (c *Controller) DragDelta(dy float64) error {
	return c.do(func() {
		r, changed := c.rates.DragDelta(dy)
		if changed {
			c.onRateCommitted(r)
		}
	})
}

// DragEnd finishes a rate drag and persists the rate.
func (c *Controller) DragEnd() error {
	return c.do(func() {
		r := c.rates.DragEnd()
		c.logger.Debug("Drag finished", "rate", r)
	})
}

// SelectRate applies a discrete speed choice.
func (c *Controller) SelectRate(rate float64) error {
	return c.do(func() { c.onSelectRate(rate) })
}

// SetAutoRead toggles and persists the auto-read preference.
func (c *Controller) SetAutoRead(on bool) error {
	return c.do(func() { c.onAutoRead(on) })
}

func (c *Controller) startSession(image, description string, prefetched bool) {
	if c.session != "" {
		c.endSession()
	}
	// Guidance keeps playing through the fetch; the description interrupts it.
	c.guide = nil

	c.session = uuid.NewString()
	c.image = image
	c.description = ""
	c.fetchFailed = false
	c.userStopped = false
	c.taps.Reset()
	c.rates.SetMaxRate(c.speaker.MaxRate())
	c.track(analytics.EventPhotoTaken, map[string]interface{}{"prefetched": prefetched})
	c.logger.Info("Session started", "session", c.session, "image", image, "prefetched", prefetched)

	if prefetched {
		c.description = description
		c.afterDescription()
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.fetchCancel = cancel
	c.setState(Analyzing)

	session := c.session
	go func() {
		text, err := c.provider.Describe(ctx, image)
		c.post(func() { c.onDescribed(session, text, err) })
	}()
}

func (c *Controller) onDescribed(session, text string, err error) {
	if session != c.session || c.m.state() != Analyzing {
		c.logger.Debug("Dropping stale description", "session", session)
		return
	}
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}

	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty description")
	}
	if err != nil {
		c.logger.Warn("Could not describe image", "session", session, "err", err)
		c.description = c.errText
		c.fetchFailed = true
	} else {
		c.description = strings.TrimSpace(text)
	}
	c.afterDescription()
}

// afterDescription reads the description if eligible, otherwise parks the
// session in Stopped.
func (c *Controller) afterDescription() {
	if c.eligible() {
		c.speakFromStart()
		return
	}
	c.setState(Stopped)
}

func (c *Controller) eligible() bool {
	return c.autoRead && !c.screenReader
}

// speakFromStart (re)starts reading the description at the current rate.
func (c *Controller) speakFromStart() {
	rate := c.rates.Rate()
	u, err := c.speaker.Speak(c.description, rate)
	if err != nil {
		c.logger.Error("Could not start speech", "session", c.session, "err", err)
		c.utter = nil
		c.setState(Failed)
		return
	}
	c.utter = u
	c.setState(Speaking)

	session := c.session
	go func() {
		<-u.Done()
		c.post(func() { c.onUtteranceEnd(session, u) })
	}()
}

func (c *Controller) onUtteranceEnd(session string, u *speech.Utterance) {
	if session != c.session || u != c.utter {
		return
	}
	c.utter = nil
	if c.m.state() != Speaking {
		return
	}

	switch u.Outcome() {
	case speech.Done:
		c.setState(Idle)
	case speech.Failed:
		c.logger.Warn("Speech failed", "session", session, "err", u.Err())
		c.setState(Stopped)
	default:
		c.setState(Stopped)
	}
}

func (c *Controller) onAnnounce(text string) {
	text = strings.TrimSpace(text)
	if text == "" || c.session != "" {
		return
	}
	if c.screenReader {
		c.logger.Debug("Screen reader active, not announcing", "text", text)
		return
	}
	u, err := c.speaker.Speak(text, c.rates.Rate())
	if err != nil {
		c.logger.Warn("Could not speak guidance", "err", err)
		c.guide = nil
		return
	}
	c.guide = u
}

func (c *Controller) stopGuidance() {
	if c.guide == nil {
		return
	}
	if c.guide.Outcome() == speech.Pending {
		c.speaker.Stop()
	}
	c.guide = nil
}

// stopSpeech silences the engine and forgets the current utterance.
func (c *Controller) stopSpeech() {
	c.speaker.Stop()
	c.utter = nil
	c.guide = nil
}

func (c *Controller) onTap(at time.Time) {
	if c.session == "" {
		return
	}
	if c.m.state() == Analyzing {
		c.logger.Debug("Ignoring tap while analyzing")
		return
	}

	switch c.taps.Classify(at) {
	case gesture.DoubleTap:
		c.stopSpeech()
		req := RetakeRequest{Session: c.session, Image: c.image, At: at}
		c.track(analytics.EventRetake, nil)
		c.endSession()
		c.emitRetake(req)
	case gesture.SingleTap:
		if c.m.state() != Speaking {
			return
		}
		c.stopSpeech()
		c.userStopped = true
		c.setState(Stopped)
	}
}

func (c *Controller) onRateCommitted(rate float64) {
	c.logger.Debug("Rate committed", "rate", rate)
	if c.description != "" && c.m.state() != Analyzing && c.eligible() {
		c.userStopped = false
		c.speakFromStart()
		return
	}
	c.publish()
}

func (c *Controller) onSelectRate(rate float64) {
	r := c.rates.SetRate(rate)
	c.logger.Debug("Rate selected", "rate", r)
	if c.description != "" && c.m.state() != Analyzing && !c.screenReader {
		c.userStopped = false
		c.speakFromStart()
		return
	}
	c.publish()
}

func (c *Controller) onAutoRead(on bool) {
	if on == c.autoRead {
		return
	}
	c.autoRead = on
	c.prefs.SaveAutoRead(on)
	c.track(analytics.EventAutoRead, map[string]interface{}{"enabled": on})

	st := c.m.state()
	if on {
		if c.description != "" && st != Analyzing && st != Speaking && !c.userStopped && !c.screenReader {
			c.speakFromStart()
			return
		}
		c.publish()
		return
	}

	c.stopSpeech()
	if c.description != "" && st != Analyzing {
		c.setState(Stopped)
	}
	c.publish()
}

func (c *Controller) onScreenReader(active bool) {
	if active == c.screenReader {
		return
	}
	c.screenReader = active
	c.logger.Info("Screen reader", "active", active)
	if active {
		c.stopSpeech()
		if c.m.state() == Speaking {
			c.setState(Stopped)
		}
	}
	c.publish()
}

func (c *Controller) endSession() {
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	if c.utter != nil {
		c.stopSpeech()
	}
	if c.session != "" {
		c.logger.Info("Session ended", "session", c.session)
	}
	c.session = ""
	c.image = ""
	c.description = ""
	c.fetchFailed = false
	c.userStopped = false
	c.taps.Reset()
	if c.m.state() != Idle {
		c.setState(Idle)
	}
	c.publish()
}

func (c *Controller) setState(s State) {
	if err := c.m.transition(s); err != nil {
		c.logger.Error("Refusing state change", "err", err)
	}
}

func (c *Controller) track(event string, props map[string]interface{}) {
	if c.tracker != nil {
		c.tracker.Track(event, props)
	}
}
