package narration

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/a11y"
	"github.com/dgnsrekt/narrate/internal/prefs"
	"github.com/dgnsrekt/narrate/internal/speech"
	"github.com/dgnsrekt/narrate/internal/speech/mock"
)

const errorText = "Could not analyze the image."

type result struct {
	text string
	err  error
}

type fetch struct {
	image string
	reply chan result
}

// fakeProvider hands every Describe call to the test, which answers it.
type fakeProvider struct {
	calls chan *fetch
}

func (p *fakeProvider) Describe(_ context.Context, image string) (string, error) {
	f := &fetch{image: image, reply: make(chan result, 1)}
	p.calls <- f
	r := <-f.reply
	return r.text, r.err
}

// countingSpeaker counts Stop calls and can refuse to start.
type countingSpeaker struct {
	*speech.Engine
	stops    atomic.Int32
	failNext atomic.Bool
}

func (s *countingSpeaker) Stop() {
	s.stops.Add(1)
	s.Engine.Stop()
}

func (s *countingSpeaker) Speak(text string, rate float64) (*speech.Utterance, error) {
	if s.failNext.Swap(false) {
		return nil, errors.New("no audio device")
	}
	return s.Engine.Speak(text, rate)
}

type harness struct {
	t        *testing.T
	c        *Controller
	provider *fakeProvider
	backend  *mock.Backend
	speaker  *countingSpeaker
	store    *prefs.MemoryStore
	prefs    *prefs.Preferences
	sr       *a11y.Static
}

func quietLogger() *log.Logger {
	l := log.New(os.Stderr)
	l.SetLevel(log.FatalLevel)
	return l
}

func newHarness(t *testing.T, stored map[string]string) *harness {
	t.Helper()
	ctx := context.Background()

	store := prefs.NewMemoryStore()
	for k, v := range stored {
		_ = store.Set(ctx, k, v)
	}
	p := prefs.New(store, quietLogger())

	backend := mock.New(10)
	spk := &countingSpeaker{Engine: speech.NewEngine(backend, speech.WithLogger(quietLogger()))}
	sr := a11y.NewStatic(false)
	prov := &fakeProvider{calls: make(chan *fetch, 8)}

	c, err := New(ctx, Deps{
		Provider:     prov,
		Speaker:      spk,
		Preferences:  p,
		ScreenReader: sr,
		Logger:       quietLogger(),
		ErrorText:    errorText,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = c.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = spk.Close()
		_ = p.Close()
	})

	return &harness{t: t, c: c, provider: prov, backend: backend, speaker: spk, store: store, prefs: p, sr: sr}
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) nextFetch() *fetch {
	h.t.Helper()
	select {
	case f := <-h.provider.calls:
		return f
	case <-time.After(2 * time.Second):
		h.t.Fatal("provider was never called")
	}
	return nil
}

func (h *harness) began() mock.Call {
	h.t.Helper()
	select {
	case c := <-h.backend.Began:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("speech never started")
	}
	return mock.Call{}
}

func (h *harness) noSpeech() {
	h.t.Helper()
	select {
	case c := <-h.backend.Began:
		h.t.Fatalf("unexpected speech: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) waitFor(desc string, ok func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := h.c.Snapshot()
		if ok(s) {
			return s
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; last snapshot %+v", desc, s)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitState(want State) Snapshot {
	h.t.Helper()
	return h.waitFor("state "+want.String(), func(s Snapshot) bool { return s.State == want })
}

func (h *harness) flushed(key string) string {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.must(h.prefs.Flush(ctx))
	v, _, _ := h.store.Get(ctx, key)
	return v
}

// speaking starts a prefetched session and waits for speech.
func (h *harness) speaking(desc string) mock.Call {
	h.t.Helper()
	h.must(h.c.StartWithDescription("photo.jpg", desc))
	call := h.began()
	h.waitState(Speaking)
	return call
}

func TestFetchThenSpeak(t *testing.T) {
	h := newHarness(t, nil)

	h.must(h.c.Start("photo.jpg"))
	if s := h.c.Snapshot(); s.State != Analyzing || s.Session == "" {
		t.Fatalf("after Start: %+v", s)
	}

	f := h.nextFetch()
	if f.image != "photo.jpg" {
		t.Fatalf("provider got %q", f.image)
	}
	f.reply <- result{text: "  A red door.  "}

	call := h.began()
	if call.Text != "A red door." || call.Rate != prefs.DefaultRate {
		t.Fatalf("spoke %+v", call)
	}
	s := h.waitState(Speaking)
	if s.Description != "A red door." || s.FetchFailed {
		t.Fatalf("snapshot: %+v", s)
	}
}

func TestFetchFailureSpeaksErrorText(t *testing.T) {
	h := newHarness(t, nil)

	h.must(h.c.Start("photo.jpg"))
	h.nextFetch().reply <- result{err: errors.New("503")}

	if call := h.began(); call.Text != errorText {
		t.Fatalf("spoke %q", call.Text)
	}
	s := h.waitState(Speaking)
	if !s.FetchFailed || s.Description != errorText {
		t.Fatalf("snapshot: %+v", s)
	}
}

func TestFetchFailureWithAutoReadOffStops(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyAutoRead: "false"})

	h.must(h.c.Start("photo.jpg"))
	h.nextFetch().reply <- result{err: errors.New("timeout")}

	s := h.waitState(Stopped)
	if s.Description != errorText {
		t.Fatalf("description: %q", s.Description)
	}
	h.noSpeech()
}

func TestSingleTapStopsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A cat on a sofa.")

	now := time.Now()
	h.must(h.c.Tap(now))
	s := h.waitState(Stopped)
	if !s.UserStopped {
		t.Fatal("tap stop should be marked as user stopped")
	}
	if got := h.speaker.stops.Load(); got != 1 {
		t.Fatalf("Stop called %d times", got)
	}

	// A later tap on a stopped session does nothing.
	h.must(h.c.Tap(now.Add(time.Second)))
	if got := h.speaker.stops.Load(); got != 1 {
		t.Fatalf("Stop called %d times after idle tap", got)
	}
	if s := h.c.Snapshot(); s.State != Stopped {
		t.Fatalf("state after second tap: %s", s.State)
	}
}

func TestTapsIgnoredWhileAnalyzing(t *testing.T) {
	h := newHarness(t, nil)
	h.must(h.c.Start("photo.jpg"))
	h.nextFetch()

	now := time.Now()
	h.must(h.c.Tap(now))
	h.must(h.c.Tap(now.Add(100 * time.Millisecond)))

	if s := h.c.Snapshot(); s.State != Analyzing {
		t.Fatalf("state: %s", s.State)
	}
	select {
	case r := <-h.c.Retakes():
		t.Fatalf("retake while analyzing: %+v", r)
	default:
	}
}

func TestDoubleTapRequestsRetake(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A bicycle.")
	session := h.c.Snapshot().Session

	now := time.Now()
	h.must(h.c.Tap(now))
	h.must(h.c.Tap(now.Add(250 * time.Millisecond)))

	select {
	case r := <-h.c.Retakes():
		if r.Session != session || r.Image != "photo.jpg" {
			t.Fatalf("retake: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no retake emitted")
	}
	s := h.waitState(Idle)
	if s.Session != "" || s.Description != "" {
		t.Fatalf("session not ended: %+v", s)
	}
	h.waitFor("speech to stop", func(Snapshot) bool { return !h.speaker.Speaking() })
}

func TestDoubleTapEndsSessionFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		from  State
	}{
		{
			name:  "speaking",
			setup: func(h *harness) { h.speaking("A bicycle.") },
			from:  Speaking,
		},
		{
			name: "stopped by tap",
			setup: func(h *harness) {
				h.speaking("A bicycle.")
				h.must(h.c.Tap(time.Now().Add(-time.Second)))
				h.waitState(Stopped)
			},
			from: Stopped,
		},
		{
			name: "failed to speak",
			setup: func(h *harness) {
				h.speaker.failNext.Store(true)
				h.must(h.c.StartWithDescription("photo.jpg", "A bicycle."))
				h.waitState(Failed)
			},
			from: Failed,
		},
		{
			name: "finished reading",
			setup: func(h *harness) {
				h.speaking("A bicycle.")
				h.backend.Finish()
				h.waitState(Idle)
			},
			from: Idle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(h)
			s := h.c.Snapshot()
			if s.State != tt.from || s.Session == "" {
				t.Fatalf("setup left %+v", s)
			}
			session := s.Session

			now := time.Now()
			h.must(h.c.Tap(now))
			h.must(h.c.Tap(now.Add(250 * time.Millisecond)))

			select {
			case r := <-h.c.Retakes():
				if r.Session != session || r.Image != "photo.jpg" {
					t.Fatalf("retake: %+v", r)
				}
			case <-time.After(time.Second):
				t.Fatal("no retake emitted")
			}
			s = h.waitFor("session to end", func(s Snapshot) bool { return s.Session == "" })
			if s.State != Idle || s.Description != "" {
				t.Fatalf("session not cleared: %+v", s)
			}
			h.waitFor("speech to stop", func(Snapshot) bool { return !h.speaker.Speaking() })
		})
	}
}

func TestCommittedRatePersistsWithoutDragEnd(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyRate: "1", prefs.KeyAutoRead: "false"})
	h.must(h.c.StartWithDescription("photo.jpg", "A lamp."))
	h.waitState(Stopped)

	h.must(h.c.DragDelta(-75))
	if s := h.c.Snapshot(); s.Rate != 1.5 {
		t.Fatalf("rate not committed: %+v", s)
	}
	if v := h.flushed(prefs.KeyRate); v != "1.5" {
		t.Fatalf("persisted rate %q, want 1.5", v)
	}
}

func TestDragRestartsAtNewRate(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyRate: "1"})
	if call := h.speaking("A tree."); call.Rate != 1 {
		t.Fatalf("initial rate %v", call.Rate)
	}

	h.must(h.c.DragDelta(-150))
	call := h.began()
	if call.Rate != 2 || call.Text != "A tree." {
		t.Fatalf("restart: %+v", call)
	}
	h.waitState(Speaking)
	if h.backend.MaxConcurrent() != 1 {
		t.Fatal("utterances overlapped")
	}

	h.must(h.c.DragEnd())
	if v := h.flushed(prefs.KeyRate); v != "2" {
		t.Fatalf("persisted rate %q", v)
	}
}

func TestDragWithAutoReadOffOnlyPersists(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyRate: "1", prefs.KeyAutoRead: "false"})
	h.must(h.c.StartWithDescription("photo.jpg", "A lamp."))
	h.waitState(Stopped)

	h.must(h.c.DragDelta(-75))
	h.must(h.c.DragEnd())
	h.noSpeech()

	if s := h.c.Snapshot(); s.Rate != 1.5 || s.State != Stopped {
		t.Fatalf("snapshot: %+v", s)
	}
	if v := h.flushed(prefs.KeyRate); v != "1.5" {
		t.Fatalf("persisted rate %q", v)
	}
}

func TestSelectRateRestartsFromStopped(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A bridge.")
	h.must(h.c.Tap(time.Now()))
	h.waitState(Stopped)

	h.must(h.c.SelectRate(3))
	if call := h.began(); call.Rate != 3 {
		t.Fatalf("restart rate %v", call.Rate)
	}
	s := h.waitState(Speaking)
	if s.UserStopped {
		t.Fatal("speed selection should clear the paused flag")
	}
	if v := h.flushed(prefs.KeyRate); v != "3" {
		t.Fatalf("persisted rate %q", v)
	}
}

func TestAutoReadOffStopsExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A window.")
	before := h.speaker.stops.Load()

	h.must(h.c.SetAutoRead(false))
	s := h.waitState(Stopped)
	if s.AutoRead {
		t.Fatal("snapshot still shows auto-read")
	}
	if got := h.speaker.stops.Load() - before; got != 1 {
		t.Fatalf("Stop called %d times", got)
	}
	if v := h.flushed(prefs.KeyAutoRead); v != "false" {
		t.Fatalf("persisted autoRead %q", v)
	}
}

func TestAutoReadOnResumes(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyAutoRead: "false"})
	h.must(h.c.StartWithDescription("photo.jpg", "A chair."))
	h.waitState(Stopped)
	h.noSpeech()

	h.must(h.c.SetAutoRead(true))
	if call := h.began(); call.Text != "A chair." {
		t.Fatalf("spoke %q", call.Text)
	}
	h.waitState(Speaking)
}

func TestAutoReadOnDoesNotOverrideTapStop(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A fence.")
	h.must(h.c.Tap(time.Now()))
	h.waitState(Stopped)

	h.must(h.c.SetAutoRead(false))
	h.must(h.c.SetAutoRead(true))
	h.noSpeech()
	if s := h.c.Snapshot(); s.State != Stopped {
		t.Fatalf("state: %s", s.State)
	}
}

func TestScreenReaderSuppressesNarration(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyRate: "1"})
	h.speaking("A street.")

	h.sr.Set(true)
	h.waitFor("screen reader", func(s Snapshot) bool { return s.ScreenReader && s.State == Stopped })

	h.must(h.c.DragDelta(-150))
	h.noSpeech()

	h.must(h.c.Start("next.jpg"))
	h.nextFetch().reply <- result{text: "A car."}
	h.waitFor("description", func(s Snapshot) bool { return s.Description == "A car." })
	h.waitState(Stopped)
	h.noSpeech()

	// Going inactive does not resume on its own.
	h.sr.Set(false)
	h.waitFor("screen reader off", func(s Snapshot) bool { return !s.ScreenReader })
	h.noSpeech()
}

func TestAnnounceSpeaksOnlyBetweenSessions(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.KeyRate: "1.2"})

	h.must(h.c.Announce("Ready."))
	if call := h.began(); call.Text != "Ready." || call.Rate != 1.2 {
		t.Fatalf("announcement: %+v", call)
	}
	if s := h.c.Snapshot(); s.State != Idle || s.Session != "" {
		t.Fatalf("announcing changed the session: %+v", s)
	}

	// A session takes over speech and mutes later guidance.
	h.speaking("A lamp.")
	h.must(h.c.Announce("Ready."))
	h.noSpeech()

	h.must(h.c.End())
	h.must(h.c.Announce(" "))
	h.noSpeech()
}

func TestAnnounceRespectsScreenReader(t *testing.T) {
	h := newHarness(t, nil)
	h.sr.Set(true)
	h.waitFor("screen reader", func(s Snapshot) bool { return s.ScreenReader })

	h.must(h.c.Announce("Ready."))
	h.noSpeech()
}

func TestEndSilencesGuidance(t *testing.T) {
	h := newHarness(t, nil)
	h.must(h.c.Announce("Step 1 of 5"))
	h.began()

	before := h.speaker.stops.Load()
	h.must(h.c.End())
	if got := h.speaker.stops.Load() - before; got != 1 {
		t.Fatalf("stops = %d, want 1", got)
	}

	// Nothing left to silence.
	h.must(h.c.End())
	if got := h.speaker.stops.Load() - before; got != 1 {
		t.Fatalf("stops after second End = %d, want 1", got)
	}
}

func TestCompleteTutorialPersistsOnce(t *testing.T) {
	h := newHarness(t, nil)
	if h.c.TutorialDone() {
		t.Fatal("fresh preferences report the tutorial as done")
	}

	h.must(h.c.CompleteTutorial())
	h.must(h.c.CompleteTutorial())
	if !h.c.TutorialDone() {
		t.Fatal("tutorial not marked done")
	}
	if got := h.flushed(prefs.KeyTutorialDone); got != "true" {
		t.Fatalf("stored flag = %q, want true", got)
	}

	seen := newHarness(t, map[string]string{prefs.KeyTutorialDone: "true"})
	if !seen.c.TutorialDone() {
		t.Fatal("stored flag was not loaded")
	}
}

func TestNaturalCompletionGoesIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A mug.")
	h.backend.Finish()
	s := h.waitState(Idle)
	if s.Description != "A mug." {
		t.Fatal("description should survive completion")
	}
}

func TestAsyncSpeechErrorStops(t *testing.T) {
	h := newHarness(t, nil)
	h.speaking("A clock.")
	h.backend.Fail(errors.New("device unplugged"))
	h.waitState(Stopped)
}

func TestSpeakRefusalFailsThenRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.speaker.failNext.Store(true)
	h.must(h.c.StartWithDescription("photo.jpg", "A plant."))
	h.waitState(Failed)

	h.must(h.c.SelectRate(1.5))
	h.began()
	h.waitState(Speaking)
}

func TestStaleFetchIsIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.must(h.c.Start("first.jpg"))
	first := h.nextFetch()
	h.must(h.c.Start("second.jpg"))
	second := h.nextFetch()

	first.reply <- result{text: "Old photo."}
	h.noSpeech()
	if s := h.c.Snapshot(); s.State != Analyzing || s.Image != "second.jpg" {
		t.Fatalf("stale result applied: %+v", s)
	}

	second.reply <- result{text: "New photo."}
	if call := h.began(); call.Text != "New photo." {
		t.Fatalf("spoke %q", call.Text)
	}
}

func TestEndDuringAnalyzing(t *testing.T) {
	h := newHarness(t, nil)
	h.must(h.c.Start("photo.jpg"))
	f := h.nextFetch()

	h.must(h.c.End())
	if s := h.c.Snapshot(); s.State != Idle || s.Session != "" {
		t.Fatalf("after End: %+v", s)
	}

	f.reply <- result{text: "Too late."}
	h.noSpeech()
	if s := h.c.Snapshot(); s.State != Idle {
		t.Fatalf("late result changed state to %s", s.State)
	}
}

func TestSubscribeSeesTransitions(t *testing.T) {
	h := newHarness(t, nil)
	ch, cancel := h.c.Subscribe()
	defer cancel()

	<-ch // current snapshot
	h.must(h.c.Start("photo.jpg"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.State == Analyzing {
				return
			}
		case <-deadline:
			t.Fatal("never saw Analyzing")
		}
	}
}

func TestMethodsFailAfterRunExits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := prefs.New(prefs.NewMemoryStore(), quietLogger())
	defer p.Close() //nolint:errcheck
	c, err := New(ctx, Deps{
		Provider:    &fakeProvider{calls: make(chan *fetch, 1)},
		Speaker:     speech.NewEngine(mock.New(2)),
		Preferences: p,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	<-done

	if err := c.Start("x.jpg"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Start after exit: %v", err)
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run: %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(context.Background(), Deps{}); !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	m := newMachine()
	if err := m.transition(Idle); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Idle -> Idle should be rejected, got %v", err)
	}
	for _, s := range []State{Analyzing, Speaking, Stopped, Speaking, Idle} {
		if err := m.transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if err := m.transition(Idle); err == nil {
		t.Fatal("Idle -> Idle should be rejected")
	}
}
