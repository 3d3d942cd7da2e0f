// Package ui provides the terminal front end of narrate. It renders the
// narration state and turns key presses and mouse gestures into taps and
// rate drags. Outside a session it speaks its prompts so the program can be
// used without looking at the screen.
package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/gesture"
	"github.com/dgnsrekt/narrate/internal/i18n"
	"github.com/dgnsrekt/narrate/internal/narration"
	"github.com/mitchellh/go-homedir"
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "copied"
	ellipsis             = "…"
)

// Controller is the part of the narration controller the UI drives.
type Controller interface {
	Start(image string) error
	End() error
	Tap(at time.Time) error
	DragDelta(dy float64) error
	DragEnd() error
	SelectRate(rate float64) error
	SetAutoRead(on bool) error
	Subscribe() (<-chan narration.Snapshot, func())
	Retakes() <-chan narration.RetakeRequest
	Announce(text string) error
	CompleteTutorial() error
}

// NewProgram returns a new Tea program. photos may be nil outside watch
// mode.
func NewProgram(cfg Config, ctrl Controller, photos <-chan string) *tea.Program {
	log.Debug("Starting narrate", "mouse", cfg.EnableMouse, "watch", cfg.WatchDir)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, ctrl, photos), opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type (
	snapshotMsg             narration.Snapshot
	retakeMsg               narration.RetakeRequest
	photoMsg                string
	controllerDoneMsg       struct{}
	statusMessageTimeoutMsg struct{}
	statusMsg               string
	dragIdleMsg             struct{ seq int }
)

// state is the top-level application state.
type state int

const (
	// stateTutorial reads the first-run tutorial page by page.
	stateTutorial state = iota
	// stateAskPhoto shows the path prompt.
	stateAskPhoto
	// stateWaitPhoto waits for the camera inbox.
	stateWaitPhoto
	stateSession
)

func (s state) String() string {
	return map[state]string{
		stateTutorial:  "reading the tutorial",
		stateAskPhoto:  "asking for a photo",
		stateWaitPhoto: "waiting for a photo",
		stateSession:   "showing session",
	}[s]
}

// Common stuff we'll need to access in all models.
type commonModel struct {
	cfg    Config
	tr     *i18n.Translator
	width  int
	height int
}

type model struct {
	common *commonModel
	state  state
	ctrl   Controller

	snaps       <-chan narration.Snapshot
	unsubscribe func()
	photos      <-chan string

	snap    narration.Snapshot
	pager   pagerModel
	input   textinput.Model
	spinner spinner.Model
	spin    bool

	tutorialStep int

	// Keyboard and wheel drags.
	dragging bool
	dragSeq  int

	// Mouse drags.
	mouseDown bool
	mouseY    int
	moved     bool

	now func() time.Time
}

func newModel(cfg Config, ctrl Controller, photos <-chan string) model {
	cfg = cfg.withDefaults()
	common := &commonModel{
		cfg: cfg,
		tr:  i18n.New(cfg.Lang),
	}

	in := textinput.New()
	in.Prompt = "› "
	in.Placeholder = common.tr.T(i18n.TakePhoto)
	in.CharLimit = 4096

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))

	snaps, unsubscribe := ctrl.Subscribe()
	m := model{
		common:      common,
		ctrl:        ctrl,
		snaps:       snaps,
		unsubscribe: unsubscribe,
		photos:      photos,
		pager:       newPagerModel(common),
		input:       in,
		spinner:     sp,
		now:         time.Now,
	}

	switch {
	case cfg.Image != "":
		m.state = stateSession
	case cfg.Tutorial:
		m.state = stateTutorial
	case cfg.WatchDir != "":
		m.state = stateWaitPhoto
	default:
		m.state = stateAskPhoto
		m.input.Focus()
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForSnapshot(m.snaps),
		waitForRetake(m.ctrl.Retakes()),
	}
	if m.photos != nil {
		cmds = append(cmds, waitForPhoto(m.photos))
	}
	switch m.state {
	case stateSession:
		cmds = append(cmds, startCmd(m.ctrl, m.common.cfg.Image))
	case stateTutorial:
		cmds = append(cmds, announceCmd(m.ctrl, m.common.tr.T(i18n.TutorialSteps[0])))
	case stateAskPhoto:
		cmds = append(cmds, textinput.Blink, announceCmd(m.ctrl, m.common.tr.T(i18n.CameraReady)))
	case stateWaitPhoto:
		cmds = append(cmds, announceCmd(m.ctrl, m.common.tr.T(i18n.CameraWatching)))
	}
	return tea.Batch(cmds...)
}

// askForPhoto leaves the tutorial or a finished session for the photo
// prompt, or for the inbox in watch mode. It returns the guidance to speak.
func (m model) askForPhoto(prompt i18n.Key) (model, tea.Cmd, string) {
	if m.common.cfg.WatchDir != "" {
		m.state = stateWaitPhoto
		return m, nil, m.common.tr.T(i18n.CameraWatching)
	}
	m.state = stateAskPhoto
	m.input.Placeholder = m.common.tr.T(prompt)
	m.input.SetValue("")
	return m, tea.Batch(m.input.Focus(), textinput.Blink), m.common.tr.T(i18n.CameraReady)
}

// advanceTutorial reads the next tutorial page, or finishes the tutorial
// after the last one.
func (m model) advanceTutorial() (tea.Model, tea.Cmd) {
	m.tutorialStep++
	if m.tutorialStep < len(i18n.TutorialSteps) {
		return m, announceCmd(m.ctrl, m.common.tr.T(i18n.TutorialSteps[m.tutorialStep]))
	}
	log.Debug("Tutorial finished")
	next, cmd, say := m.askForPhoto(i18n.TakePhoto)
	return next, tea.Batch(cmd, finishTutorialCmd(next.ctrl, say))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.state { //nolint:exhaustive
		case stateAskPhoto:
			return m.updateInput(msg)
		case stateTutorial:
			return m.handleTutorialKey(msg)
		}
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	// Window size is received when starting up and on every resize
	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height
		m.input.Width = max(0, msg.Width-8)
		m.pager.setSize(msg.Width, msg.Height)
		m.pager.setSnapshot(m.snap)

	case snapshotMsg:
		m.snap = narration.Snapshot(msg)
		m.pager.setSnapshot(m.snap)
		cmds = append(cmds, waitForSnapshot(m.snaps))
		if m.snap.State == narration.Analyzing && !m.spin {
			m.spin = true
			m.pager.spinner = m.spinner.View()
			cmds = append(cmds, m.spinner.Tick)
		}

	case controllerDoneMsg:
		log.Debug("Controller stopped, quitting")
		return m, tea.Quit

	case retakeMsg:
		log.Debug("Retake requested", "image", msg.Image)
		var (
			cmd tea.Cmd
			say string
		)
		m, cmd, say = m.askForPhoto(i18n.NextPhoto)
		cmds = append(cmds, cmd, announceCmd(m.ctrl, say), waitForRetake(m.ctrl.Retakes()))

	case photoMsg:
		// A photo arriving mid-tutorial cuts it short; it is read again next time.
		m.state = stateSession
		m.input.Blur()
		cmds = append(cmds, takePhotoCmd(m.ctrl, string(msg), m.common.tr.T(i18n.CameraTaking)), waitForPhoto(m.photos))

	case dragIdleMsg:
		if m.dragging && msg.seq == m.dragSeq {
			m.dragging = false
			cmds = append(cmds, dragEndCmd(m.ctrl))
		}

	case spinner.TickMsg:
		if m.snap.State != narration.Analyzing {
			m.spin = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.pager.spinner = m.spinner.View()
		cmds = append(cmds, cmd)

	case statusMsg:
		cmds = append(cmds, m.pager.showStatusMessage(string(msg), false))

	case errMsg:
		log.Error("UI error", "error", msg.err)
		cmds = append(cmds, m.pager.showStatusMessage(msg.err.Error(), true))

	case statusMessageTimeoutMsg:
		m.pager.clearStatusMessage()

	default:
		if m.state == stateAskPhoto {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()
	case "esc":
		if m.input.Value() == "" {
			return m, m.quit()
		}
		m.input.SetValue("")
		m.pager.clearStatusMessage()
		return m, announceCmd(m.ctrl, m.common.tr.T(i18n.CameraCancelled))
	case "enter":
		path := strings.TrimSpace(m.input.Value())
		if path == "" {
			return m, nil
		}
		if expanded, err := homedir.Expand(path); err == nil {
			path = expanded
		}
		if err := checkPhoto(path); err != nil {
			log.Warn("Unusable photo", "image", path, "error", err)
			failed := m.common.tr.T(i18n.CameraFailed)
			return m, tea.Batch(announceCmd(m.ctrl, failed), m.pager.showStatusMessage(failed, true))
		}
		m.state = stateSession
		m.input.Blur()
		m.input.SetValue("")
		m.pager.clearStatusMessage()
		return m, takePhotoCmd(m.ctrl, path, m.common.tr.T(i18n.CameraTaking))
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleTutorialKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, m.quit()
	case " ", "enter":
		return m.advanceTutorial()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c", "esc":
		return m, m.quit()

	case " ", "enter":
		if m.state != stateSession {
			return m, nil
		}
		return m, tapCmd(m.ctrl, m.now())

	case "up", "k", "+":
		return m.dragStep(-m.common.cfg.KeyStep)

	case "down", "j", "-":
		return m.dragStep(m.common.cfg.KeyStep)

	case "1", "2", "3", "4", "5", "6":
		r, ok := gesture.Preset(int(key[0]-'1'), m.maxRate())
		if !ok {
			return m, nil
		}
		return m, selectRateCmd(m.ctrl, r)

	case "a":
		on := !m.snap.AutoRead
		note := m.common.tr.T(i18n.AutoReadOff)
		if on {
			note = m.common.tr.T(i18n.AutoReadOn)
		}
		return m, tea.Batch(setAutoReadCmd(m.ctrl, on), statusCmd(note))

	case "c":
		if m.snap.Description == "" || m.snap.FetchFailed {
			return m, nil
		}
		return m, copyCmd(m.snap.Description, m.common.tr.T(i18n.Copied))

	case "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		m.pager.viewport, cmd = m.pager.viewport.Update(msg)
		return m, cmd

	case "?":
		m.pager.toggleHelp()
	}
	return m, nil
}

// handleMouse maps a press and release without movement to a tap, and a
// vertical drag with the left button to rate deltas.
func (m model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		return m.dragStep(-m.common.cfg.KeyStep)
	case msg.Button == tea.MouseButtonWheelDown:
		return m.dragStep(m.common.cfg.KeyStep)

	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		m.mouseDown = true
		m.mouseY = msg.Y
		m.moved = false

	case msg.Action == tea.MouseActionMotion && m.mouseDown:
		rows := msg.Y - m.mouseY
		if rows == 0 {
			return m, nil
		}
		m.mouseY = msg.Y
		m.moved = true
		return m, dragDeltaCmd(m.ctrl, float64(rows)*m.common.cfg.RowHeight)

	case msg.Action == tea.MouseActionRelease && m.mouseDown:
		m.mouseDown = false
		if m.moved {
			return m, dragEndCmd(m.ctrl)
		}
		if m.state == stateTutorial {
			return m.advanceTutorial()
		}
		if m.state != stateSession {
			return m, nil
		}
		return m, tapCmd(m.ctrl, m.now())
	}
	return m, nil
}

// dragStep feeds one discrete drag movement and schedules DragEnd once the
// steps stop coming.
func (m model) dragStep(dy float64) (tea.Model, tea.Cmd) {
	m.dragging = true
	m.dragSeq++
	seq := m.dragSeq
	return m, tea.Batch(
		dragDeltaCmd(m.ctrl, dy),
		tea.Tick(m.common.cfg.DragIdle, func(time.Time) tea.Msg {
			return dragIdleMsg{seq: seq}
		}),
	)
}

func (m model) maxRate() float64 {
	if m.snap.MaxRate > 0 {
		return m.snap.MaxRate
	}
	return gesture.DefaultMaxRate
}

// quit ends the session before the program exits so that speech stops.
func (m model) quit() tea.Cmd {
	if m.dragging {
		_ = m.ctrl.DragEnd()
	}
	if err := m.ctrl.End(); err != nil && !errors.Is(err, narration.ErrNotRunning) {
		log.Error("Unable to end session", "error", err)
	}
	m.unsubscribe()
	return tea.Quit
}

func (m model) View() string {
	switch m.state { //nolint:exhaustive
	case stateTutorial:
		return m.pager.tutorialView(m.tutorialStep)
	case stateAskPhoto:
		return m.pager.promptView(m.input.View())
	case stateWaitPhoto:
		return m.pager.waitingView(m.common.cfg.WatchDir)
	default:
		return m.pager.View()
	}
}

// COMMANDS

func waitForSnapshot(ch <-chan narration.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return controllerDoneMsg{}
		}
		return snapshotMsg(s)
	}
}

func waitForRetake(ch <-chan narration.RetakeRequest) tea.Cmd {
	return func() tea.Msg {
		return retakeMsg(<-ch)
	}
}

func waitForPhoto(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return photoMsg(p)
	}
}

func startCmd(c Controller, image string) tea.Cmd {
	return func() tea.Msg {
		log.Info("Describing photo", "image", image)
		return errOrNil(c.Start(image))
	}
}

// takePhotoCmd says the photo arrived, then starts describing it. The
// announcement has to come first: once the session is open, guidance is
// muted.
func takePhotoCmd(c Controller, image, taking string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Announce(taking); err != nil {
			return errMsg{err}
		}
		log.Info("Describing photo", "image", image)
		return errOrNil(c.Start(image))
	}
}

func announceCmd(c Controller, text string) tea.Cmd {
	return func() tea.Msg { return errOrNil(c.Announce(text)) }
}

// finishTutorialCmd records the tutorial as heard, then speaks the first
// prompt.
func finishTutorialCmd(c Controller, say string) tea.Cmd {
	return func() tea.Msg {
		if err := c.CompleteTutorial(); err != nil {
			return errMsg{err}
		}
		return errOrNil(c.Announce(say))
	}
}

// checkPhoto reports whether path names a readable file.
func checkPhoto(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func tapCmd(c Controller, at time.Time) tea.Cmd {
	return func() tea.Msg { return errOrNil(c.Tap(at)) }
}

func dragDeltaCmd(c Controller, dy float64) tea.Cmd {
	return func() tea.Msg { return errOrNil(c.DragDelta(dy)) }
}

func dragEndCmd(c Controller) tea.Cmd {
	return func() tea.Msg { return errOrNil(c.DragEnd()) }
}

func selectRateCmd(c Controller, r float64) tea.Cmd {
	return func() tea.Msg { return errOrNil(c.SelectRate(r)) }
}

func setAutoReadCmd(c Controller, on bool) tea.Cmd {
	return func() tea.Msg { return errOrNil(c.SetAutoRead(on)) }
}

func copyCmd(text, done string) tea.Cmd {
	return func() tea.Msg {
		if err := clipboard.WriteAll(text); err != nil {
			return errMsg{err}
		}
		return statusMsg(done)
	}
}

func statusCmd(s string) tea.Cmd {
	return func() tea.Msg { return statusMsg(s) }
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

func errOrNil(err error) tea.Msg {
	if err != nil {
		return errMsg{err}
	}
	return nil
}

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		b.WriteString(i + v + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
