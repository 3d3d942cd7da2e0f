package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/a11y"
	"github.com/dgnsrekt/narrate/internal/analytics"
	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/config"
	"github.com/dgnsrekt/narrate/internal/describe"
	"github.com/dgnsrekt/narrate/internal/i18n"
	"github.com/dgnsrekt/narrate/internal/narration"
	"github.com/dgnsrekt/narrate/internal/prefs"
	"github.com/dgnsrekt/narrate/internal/speech"
	"golang.org/x/term"
)

var errSpeechDisabled = errors.New("speech disabled")

// app holds the long-lived collaborators of a narration session.
type app struct {
	cfg      config.Config
	tr       *i18n.Translator
	provider *describe.Cached
	ctrl     *narration.Controller

	closers []func() error
}

// newApp wires the configured backends into a narration controller. The
// controller still has to be started with Run. Without speak no synthesizer
// is looked up.
func newApp(ctx context.Context, c config.Config, speak bool) (*app, error) {
	a := &app{cfg: c, tr: i18n.New(c.Lang)}
	lang := a.tr.Lang()

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	tracker := analytics.New(log.Default().WithPrefix("analytics"))
	tracker.SetEnabled(c.Analytics.Enabled)
	if err := tracker.AddSink(tracker.LogSink()); err != nil {
		return nil, err
	}
	if c.Analytics.Path != "" {
		if err := tracker.AddFileSink(c.Analytics.Path); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, tracker.Close)
	tracker.Track(analytics.EventAppOpen, map[string]interface{}{"lang": lang})

	store, err := openPrefsStore(ctx, c.Prefs)
	if err != nil {
		return nil, err
	}
	if cl, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, cl.Close)
	}
	preferences := prefs.New(store, log.Default().WithPrefix("prefs"))
	a.closers = append(a.closers, preferences.Close)

	engine := speech.NewEngine(speechBackend(c.Speech, speak),
		speech.WithLanguage(lang),
		speech.WithLogger(log.Default().WithPrefix("speech")),
	)
	a.closers = append(a.closers, engine.Close)
	log.Info("Speech backend", "name", engine.Backend(), "max_rate", engine.MaxRate())

	descriptions, err := cache.NewManager(c.Cache, log.Default().WithPrefix("cache"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, descriptions.Close)

	model, err := describe.New(c.Describe, lang, log.Default().WithPrefix("describe"))
	if err != nil {
		return nil, err
	}
	label := model.Name() + "/" + model.Model()
	a.provider = describe.NewCached(model, descriptions, label, lang, c.Describe.MaxDimension, nil)

	ctrl, err := narration.New(ctx, narration.Deps{
		Provider:     a.provider,
		Speaker:      engine,
		Preferences:  preferences,
		ScreenReader: a.screenReader(c.ScreenReader),
		Tracker:      tracker,
		Logger:       log.Default().WithPrefix("narration"),
		ErrorText:    a.tr.T(i18n.AnalysisFailed),
		Gesture:      c.Gesture,
		TapWindow:    c.TapWindow,
	})
	if err != nil {
		return nil, err
	}
	a.ctrl = ctrl

	ok = true
	return a, nil
}

// screenReader picks the monitor for mode. In auto mode a missing session
// bus means no screen reader.
func (a *app) screenReader(mode string) a11y.Monitor {
	switch mode {
	case config.ScreenReaderOn:
		return a11y.NewStatic(true)
	case config.ScreenReaderOff:
		return a11y.NewStatic(false)
	}
	m, err := a11y.NewDBusMonitor(log.Default().WithPrefix("a11y"))
	if err != nil {
		log.Debug("Screen reader status unavailable", "error", err)
		return a11y.NewStatic(false)
	}
	a.closers = append(a.closers, m.Close)
	return m
}

// speechBackend builds the configured synthesizer. A missing synthesizer is
// not fatal: narration falls back to the displayed text.
func speechBackend(c speech.Config, speak bool) speech.Backend {
	if !speak {
		return speech.NewSilentBackend(errSpeechDisabled)
	}
	b, err := speech.NewBackend(c)
	if err != nil {
		log.Warn("No speech output, descriptions are only shown", "error", err)
		return speech.NewSilentBackend(err)
	}
	return b
}

// openPrefsStore builds the configured preference store.
func openPrefsStore(ctx context.Context, c config.PrefsConfig) (prefs.Store, error) {
	switch c.Store {
	case config.PrefsRedis:
		s, err := prefs.NewRedisStore(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.PrefsMemory:
		return prefs.NewMemoryStore(), nil
	default:
		return prefs.NewFileStore(c.Path), nil
	}
}

// Close releases everything in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// runPrint describes image, writes the description to w and, when speak is
// set, reads it aloud before returning. A failed description is replaced by
// the localized error text, as in the TUI.
func (a *app) runPrint(ctx context.Context, w io.Writer, image string, speak bool) error {
	return a.withController(ctx, func(ctx context.Context) error {
		text, err := a.printDescription(ctx, w, image)
		if err != nil || !speak {
			return err
		}
		return speakAndWait(ctx, a.ctrl, image, text)
	})
}

// withController runs the controller loop for the duration of fn.
func (a *app) withController(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.ctrl.Run(ctx) }()

	err := fn(ctx)
	cancel()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}

// describe returns the description of image, or the localized error text
// and true when the provider fails.
func (a *app) describe(ctx context.Context, image string) (string, bool) {
	text, err := a.provider.Describe(ctx, image)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty description")
	}
	if err != nil {
		log.Warn("Could not describe image", "image", image, "error", err)
		return a.tr.T(i18n.AnalysisFailed), true
	}
	return strings.TrimSpace(text), false
}

// printDescription renders the description of image to w. Only write errors
// are returned.
func (a *app) printDescription(ctx context.Context, w io.Writer, image string) (string, error) {
	text, _ := a.describe(ctx, image)
	if err := a.render(w, text); err != nil {
		return "", err
	}
	return text, nil
}

func (a *app) render(w io.Writer, text string) error {
	style := styles.AutoStyle
	if f, ok := w.(interface{ Fd() uintptr }); !ok || !term.IsTerminal(int(f.Fd())) {
		style = styles.NoTTYStyle
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(int(width)), //nolint:gosec
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}

	md := "# " + a.tr.T(i18n.ImageDescription) + "\n\n" + text + "\n"
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("unable to render description: %w", err)
	}
	if _, err := fmt.Fprint(w, out); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}

// speakAndWait starts a session with a known description and returns once
// narration is no longer speaking it.
func speakAndWait(ctx context.Context, ctrl *narration.Controller, image, text string) error {
	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := ctrl.StartWithDescription(image, text); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-snaps:
			if !ok {
				return nil
			}
			if s.Description != text || s.State == narration.Speaking {
				continue
			}
			if s.State == narration.Failed {
				log.Warn("Could not read the description aloud", "image", image)
			}
			return nil
		}
	}
}
