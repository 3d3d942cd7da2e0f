package speech_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/internal/speech"
	"github.com/dgnsrekt/narrate/internal/speech/mock"
)

func waitBegan(t *testing.T, b *mock.Backend) mock.Call {
	t.Helper()
	select {
	case c := <-b.Began:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("backend never started")
	}
	return mock.Call{}
}

// waitOutcome waits for u to finish. The backend error of a Failed
// utterance is not a timeout; callers check Err themselves.
func waitOutcome(t *testing.T, u *speech.Utterance) speech.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := u.Wait(ctx)
	if out == speech.Pending {
		t.Fatalf("utterance %d never finished: %v", u.ID, err)
	}
	return out
}

func TestSpeakCompletes(t *testing.T) {
	b := mock.New(3)
	var done atomic.Int32
	e := speech.NewEngine(b, speech.WithHooks(speech.Hooks{
		OnDone: func(*speech.Utterance) { done.Add(1) },
	}))

	u, err := e.Speak("hello", 1.2)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	c := waitBegan(t, b)
	if c.Text != "hello" || c.Rate != 1.2 {
		t.Fatalf("unexpected call %+v", c)
	}
	select {
	case <-u.Started():
	default:
		t.Fatal("Started not closed after playback began")
	}

	b.Finish()
	if out := waitOutcome(t, u); out != speech.Done {
		t.Fatalf("outcome: got %s, want done", out)
	}

	deadline := time.Now().Add(time.Second)
	for done.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if done.Load() != 1 {
		t.Fatalf("OnDone fired %d times", done.Load())
	}
}

func TestSpeakInterruptsPrevious(t *testing.T) {
	b := mock.New(3)
	e := speech.NewEngine(b)

	first, err := e.Speak("first", 1)
	if err != nil {
		t.Fatal(err)
	}
	waitBegan(t, b)

	second, err := e.Speak("second", 2)
	if err != nil {
		t.Fatal(err)
	}
	if out := waitOutcome(t, first); out != speech.Stopped {
		t.Fatalf("first outcome: got %s, want stopped", out)
	}
	waitBegan(t, b)

	if b.MaxConcurrent() != 1 {
		t.Fatalf("utterances overlapped: max concurrent %d", b.MaxConcurrent())
	}
	b.Finish()
	if out := waitOutcome(t, second); out != speech.Done {
		t.Fatalf("second outcome: got %s, want done", out)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b := mock.New(3)
	var stopped atomic.Int32
	e := speech.NewEngine(b, speech.WithHooks(speech.Hooks{
		OnStopped: func(*speech.Utterance) { stopped.Add(1) },
	}))

	e.Stop()

	u, err := e.Speak("text", 1)
	if err != nil {
		t.Fatal(err)
	}
	waitBegan(t, b)
	e.Stop()
	e.Stop()

	if out := waitOutcome(t, u); out != speech.Stopped {
		t.Fatalf("outcome: got %s", out)
	}
	e.Stop()

	deadline := time.Now().Add(time.Second)
	for (stopped.Load() != 1 || e.Speaking()) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if stopped.Load() != 1 {
		t.Fatalf("OnStopped fired %d times", stopped.Load())
	}
	if e.Speaking() {
		t.Fatal("engine still speaking after stop")
	}
}

func TestBackendFailure(t *testing.T) {
	b := mock.New(3)
	e := speech.NewEngine(b)

	u, err := e.Speak("text", 1)
	if err != nil {
		t.Fatal(err)
	}
	waitBegan(t, b)
	boom := errors.New("device lost")
	b.Fail(boom)

	if out := waitOutcome(t, u); out != speech.Failed {
		t.Fatalf("outcome: got %s", out)
	}
	var se *speech.Error
	if !errors.As(u.Err(), &se) || se.Backend != "mock" {
		t.Fatalf("expected *speech.Error from mock, got %v", u.Err())
	}
	if !errors.Is(u.Err(), boom) {
		t.Fatalf("cause not preserved: %v", u.Err())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if out, err := u.Wait(ctx); out != speech.Failed || !errors.Is(err, boom) {
		t.Fatalf("Wait: %s, %v", out, err)
	}
}

func TestTerminalHookPrecedesNextUtterance(t *testing.T) {
	b := mock.New(3)
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(format string, u *speech.Utterance) {
		mu.Lock()
		events = append(events, fmt.Sprintf(format, u.ID))
		mu.Unlock()
	}
	e := speech.NewEngine(b, speech.WithHooks(speech.Hooks{
		OnStart: func(u *speech.Utterance) { record("start#%d", u) },
		OnDone:  func(u *speech.Utterance) { record("done#%d", u) },
		OnStopped: func(u *speech.Utterance) {
			time.Sleep(50 * time.Millisecond)
			record("stopped#%d", u)
		},
	}))

	if _, err := e.Speak("one", 1); err != nil {
		t.Fatal(err)
	}
	waitBegan(t, b)
	second, err := e.Speak("two", 1)
	if err != nil {
		t.Fatal(err)
	}
	waitBegan(t, b)
	b.Finish()
	if out := waitOutcome(t, second); out != speech.Done {
		t.Fatalf("second outcome: %s", out)
	}
	third, err := e.Speak("three", 1)
	if err != nil {
		t.Fatal(err)
	}
	waitBegan(t, b)
	e.Stop()
	waitOutcome(t, third)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"start#1", "stopped#1", "start#2", "done#2", "start#3", "stopped#3"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
}

func TestSpeakRejectsEmptyAndClosed(t *testing.T) {
	e := speech.NewEngine(mock.New(3))
	if _, err := e.Speak("   ", 1); !errors.Is(err, speech.ErrEmptyText) {
		t.Fatalf("empty text: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Speak("hi", 1); !errors.Is(err, speech.ErrEngineClosed) {
		t.Fatalf("after close: %v", err)
	}
}

func TestExactlyOneTerminalOutcomePerUtterance(t *testing.T) {
	b := mock.New(3)
	var terminal atomic.Int32
	count := func(*speech.Utterance) { terminal.Add(1) }
	e := speech.NewEngine(b, speech.WithHooks(speech.Hooks{
		OnDone:    count,
		OnStopped: count,
		OnError:   func(*speech.Utterance, error) { terminal.Add(1) },
	}))

	const n = 25
	var utts []*speech.Utterance
	for i := 0; i < n; i++ {
		u, err := e.Speak("again", float64(i%3)+0.5)
		if err != nil {
			t.Fatalf("Speak %d: %v", i, err)
		}
		waitBegan(t, b)
		utts = append(utts, u)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	for _, u := range utts {
		if out := waitOutcome(t, u); out != speech.Stopped {
			t.Fatalf("utterance %d: %s", u.ID, out)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for terminal.Load() != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if terminal.Load() != n {
		t.Fatalf("terminal callbacks: got %d, want %d", terminal.Load(), n)
	}
	if b.MaxConcurrent() != 1 {
		t.Fatalf("max concurrent: %d", b.MaxConcurrent())
	}
}

func TestMaxRateComesFromBackend(t *testing.T) {
	e := speech.NewEngine(mock.New(4.5))
	if e.MaxRate() != 4.5 {
		t.Fatalf("MaxRate: %v", e.MaxRate())
	}
}

func TestSilentBackendRefusesToStart(t *testing.T) {
	var started atomic.Int32
	e := speech.NewEngine(speech.NewSilentBackend(errors.New("no espeak")), speech.WithHooks(speech.Hooks{
		OnStart: func(*speech.Utterance) { started.Add(1) },
	}))

	u, err := e.Speak("hello", 1)
	if u != nil || !errors.Is(err, speech.ErrBackendUnavailable) {
		t.Fatalf("Speak: %v, %v", u, err)
	}
	var se *speech.Error
	if !errors.As(err, &se) || se.Backend != "silent" {
		t.Fatalf("expected *speech.Error from silent, got %v", err)
	}
	if e.Speaking() || started.Load() != 0 {
		t.Fatal("silent backend should never start")
	}
	if e.MaxRate() <= 0 {
		t.Fatalf("MaxRate: %v", e.MaxRate())
	}
}
