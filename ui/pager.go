package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/narrate/internal/i18n"
	"github.com/dgnsrekt/narrate/internal/narration"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

const (
	statusBarHeight = 1
	maxTextWidth    = 80
)

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ECFD65")).
			Background(lipgloss.Color("#6124DF")).
			Bold(true)

	statusBarSpeedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"}).
				Background(statusBarBg).
				Render

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarHelpStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(lipgloss.AdaptiveColor{Light: "#DCDCDC", Dark: "#323232"}).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render

	statusBarErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(red).
				Render

	helpViewStyle = lipgloss.NewStyle().
			Foreground(statusBarNoteFg).
			Background(lipgloss.AdaptiveColor{Light: "#f2f2f2", Dark: "#1B1B1B"}).
			Render

	titleStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	failedStyle  = lipgloss.NewStyle().Foreground(red)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8E8E8E", Dark: "#747373"})
)

type pagerModel struct {
	common   *commonModel
	viewport viewport.Model
	showHelp bool

	statusMessage      string
	statusIsError      bool
	statusMessageTimer *time.Timer

	snap    narration.Snapshot
	spinner string
}

func newPagerModel(common *commonModel) pagerModel {
	vp := viewport.New(0, 0)
	vp.YPosition = 0
	return pagerModel{
		common:   common,
		viewport: vp,
	}
}

func (m *pagerModel) setSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h - statusBarHeight
	if m.showHelp {
		m.viewport.Height -= strings.Count(m.helpView(), "\n") + 1
	}
	m.viewport.Height = max(0, m.viewport.Height)
}

func (m *pagerModel) toggleHelp() {
	m.showHelp = !m.showHelp
	m.setSize(m.common.width, m.common.height)
}

// setSnapshot re-renders the description pane for s.
func (m *pagerModel) setSnapshot(s narration.Snapshot) {
	if s.Description != m.snap.Description {
		m.viewport.GotoTop()
	}
	m.snap = s
	m.viewport.SetContent(m.content())
}

// showStatusMessage shows msg in the status bar for a few seconds.
func (m *pagerModel) showStatusMessage(msg string, isError bool) tea.Cmd {
	m.statusMessage = msg
	m.statusIsError = isError
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)
	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m *pagerModel) clearStatusMessage() {
	m.statusMessage = ""
	m.statusIsError = false
}

func (m pagerModel) textWidth() int {
	w := m.common.width - 4
	if w <= 0 || w > maxTextWidth {
		return maxTextWidth
	}
	return w
}

func (m pagerModel) content() string {
	tr := m.common.tr
	s := m.snap

	if s.State == narration.Analyzing {
		return "\n" + indent(m.spinner+" "+tr.T(i18n.Analyzing), 2)
	}
	if s.Description == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(tr.T(i18n.ImageDescription)))
	b.WriteString("\n\n")
	text := wordwrap.String(s.Description, m.textWidth())
	if s.FetchFailed {
		text = failedStyle.Render(text)
	}
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString(subtleStyle.Render(tr.T(i18n.DoubleTapToRetake)))
	return "\n" + indent(b.String(), 2)
}

func (m pagerModel) View() string {
	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")

	// Footer
	m.statusBarView(&b)

	if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}

	return b.String()
}

// note is the left-hand text of the status bar.
func (m pagerModel) note() string {
	tr := m.common.tr
	s := m.snap

	var parts []string
	switch {
	case s.ScreenReader:
		parts = append(parts, tr.T(i18n.ScreenReaderActive))
	case s.State == narration.Stopped && s.UserStopped:
		parts = append(parts, tr.T(i18n.Paused))
	case s.State == narration.Speaking:
		parts = append(parts, "▶")
	}
	if s.Image != "" {
		parts = append(parts, filepath.Base(s.Image))
	}
	if !s.AutoRead {
		parts = append(parts, tr.T(i18n.AutoReadOff))
	}
	return strings.Join(parts, " ")
}

func (m pagerModel) statusBarView(b *strings.Builder) {
	showStatusMessage := m.statusMessage != ""

	logo := logoStyle.Render(" narrate ")
	speed := statusBarSpeedStyle(" " + m.common.tr.T(i18n.Speed, m.snap.Rate) + " ")
	helpNote := statusBarHelpStyle(" ? Help ")

	style := statusBarNoteStyle
	note := m.note()
	if showStatusMessage {
		note = m.statusMessage
		style = statusBarMessageStyle
		if m.statusIsError {
			style = statusBarErrorStyle
		}
	}

	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(speed)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)
	note = style(note)

	// Empty space
	padding := max(0,
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(speed)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := style(strings.Repeat(" ", padding))

	fmt.Fprintf(b, "%s%s%s%s%s",
		logo,
		note,
		emptySpace,
		speed,
		helpNote,
	)
}

func (m pagerModel) helpView() (s string) {
	items := strings.Split(m.common.tr.T(i18n.Help), " • ")
	s = "\n" + strings.Join(items, "\n")

	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.common.width > 0 {
		lines := strings.Split(s, "\n")
		for i := 0; i < len(lines); i++ {
			l := runewidth.StringWidth(lines[i])
			n := max(m.common.width-l, 0)
			lines[i] += strings.Repeat(" ", n)
		}

		s = strings.Join(lines, "\n")
	}

	return helpViewStyle(s)
}

func (m pagerModel) promptView(input string) string {
	tr := m.common.tr
	s := titleStyle.Render(tr.T(i18n.TakePhoto)) + "\n\n" + input
	if m.statusMessage != "" {
		s += "\n\n" + failedStyle.Render(m.statusMessage)
	}
	s += "\n\n" + subtleStyle.Render("enter: describe • esc: cancel • ctrl+c: quit")
	return "\n" + indent(s, 2)
}

// tutorialView shows one tutorial page; step counts from zero.
func (m pagerModel) tutorialView(step int) string {
	tr := m.common.tr
	total := len(i18n.TutorialSteps)
	var b strings.Builder
	b.WriteString(titleStyle.Render("narrate"))
	b.WriteString("\n\n")
	b.WriteString(subtleStyle.Render(tr.T(i18n.TutorialStep, step+1, total)))
	b.WriteString("\n\n")
	b.WriteString(wordwrap.String(tr.T(i18n.TutorialSteps[step]), m.textWidth()))
	b.WriteString("\n\n")
	b.WriteString(subtleStyle.Render(tr.T(i18n.TutorialContinue) + " • q: quit"))
	return "\n" + indent(b.String(), 2)
}

func (m pagerModel) waitingView(dir string) string {
	s := m.common.tr.T(i18n.WaitingForPhoto, dir)
	if m.common.width > 0 {
		s = runewidth.Truncate(s, max(m.common.width-4, 10), ellipsis)
	}
	return "\n" + indent(s, 2) + "\n\n" + indent(subtleStyle.Render("q: quit"), 2)
}
