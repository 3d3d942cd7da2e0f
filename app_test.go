package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/internal/describe"
	"github.com/dgnsrekt/narrate/internal/i18n"
	"github.com/dgnsrekt/narrate/internal/narration"
	"github.com/dgnsrekt/narrate/internal/prefs"
	"github.com/dgnsrekt/narrate/internal/speech"
)

type mapStore map[string][]byte

func (m mapStore) Get(k string) ([]byte, bool) {
	v, ok := m[k]
	return v, ok
}

func (m mapStore) Put(k string, v []byte) error {
	m[k] = v
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) Track(event string, props map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf("%s %v", event, props["prefetched"]))
}

type unusedDescriber struct{}

func (unusedDescriber) DescribeImage(context.Context, describe.Image) (string, error) {
	return "", errors.New("not reached")
}

func TestSpeechBackendFallsBackToSilent(t *testing.T) {
	missing := speech.Config{
		Backend: speech.BackendExec,
		Exec:    speech.ExecConfig{Command: "no-such-synthesizer"},
	}
	if b := speechBackend(missing, true); b.Name() != "silent" {
		t.Fatalf("missing synthesizer: got backend %q", b.Name())
	}
	if b := speechBackend(speech.DefaultConfig(), false); b.Name() != "silent" {
		t.Fatalf("speech disabled: got backend %q", b.Name())
	}
}

func TestPrintShowsErrorTextWhenDescribeFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	oldWidth := width
	width = 80
	defer func() { width = oldWidth }()

	tr := i18n.New("en")
	provider := describe.NewCached(unusedDescriber{}, mapStore{}, "test/model", "en", 0, nil)
	preferences := prefs.New(prefs.NewMemoryStore(), nil)
	defer preferences.Close() //nolint:errcheck

	events := &eventLog{}
	ctrl, err := narration.New(ctx, narration.Deps{
		Provider:    provider,
		Speaker:     speech.NewEngine(speech.NewSilentBackend(nil)),
		Preferences: preferences,
		Tracker:     events,
		ErrorText:   tr.T(i18n.AnalysisFailed),
	})
	if err != nil {
		t.Fatal(err)
	}
	a := &app{tr: tr, provider: provider, ctrl: ctrl}

	var buf bytes.Buffer
	image := filepath.Join(t.TempDir(), "missing.jpg")
	if err := a.runPrint(ctx, &buf, image, true); err != nil {
		t.Fatalf("runPrint: %v", err)
	}
	if !strings.Contains(buf.String(), "could not analyze") {
		t.Fatalf("error text not printed:\n%s", buf.String())
	}

	// The error text is handed to narration like any description.
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 1 || events.events[0] != "photo_taken true" {
		t.Fatalf("events: %v", events.events)
	}
}
