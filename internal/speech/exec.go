package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// baseWPM is the speaking rate, in words per minute, that maps to rate 1.0.
const baseWPM = 175

// Synthesizers probed by DetectCommand, in order of preference.
var knownCommands = []string{"espeak-ng", "espeak", "say", "spd-say"}

// ExecConfig configures an ExecBackend.
type ExecConfig struct {
	// Command is the synthesizer binary. Empty means auto-detect.
	Command string `mapstructure:"command" yaml:"command" env:"NARRATE_SPEECH_COMMAND"`
	// Voice overrides the voice chosen from the language.
	Voice string `mapstructure:"voice" yaml:"voice"`
	// MaxWPM caps the speaking rate. Zero uses the command's known limit.
	MaxWPM int `mapstructure:"max_wpm" yaml:"max_wpm"`
}

// ExecBackend speaks through a command-line synthesizer such as espeak-ng,
// macOS say or speech-dispatcher's spd-say.
type ExecBackend struct {
	path   string
	kind   string
	voice  string
	maxWPM int
}

// DetectCommand returns the first known synthesizer found on PATH.
func DetectCommand() (string, error) {
	for _, c := range knownCommands {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s found in PATH", ErrBackendUnavailable, strings.Join(knownCommands, ", "))
}

// NewExecBackend resolves the configured synthesizer.
func NewExecBackend(cfg ExecConfig) (*ExecBackend, error) {
	path := cfg.Command
	if path == "" {
		p, err := DetectCommand()
		if err != nil {
			return nil, err
		}
		path = p
	} else {
		p, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, path, err)
		}
		path = p
	}

	kind := filepath.Base(path)
	b := &ExecBackend{path: path, kind: kind, voice: cfg.Voice, maxWPM: cfg.MaxWPM}
	if b.maxWPM <= 0 {
		b.maxWPM = defaultMaxWPM(kind)
	}
	return b, nil
}

func defaultMaxWPM(kind string) int {
	switch kind {
	case "espeak", "espeak-ng":
		return 450
	case "say":
		return 700
	case "spd-say":
		// spd-say takes -100..100, which covers roughly 0.5x to 3x.
		return 3 * baseWPM
	default:
		return 2 * baseWPM
	}
}

// Name implements Backend.
func (b *ExecBackend) Name() string {
	return b.kind
}

// MaxRate implements Backend.
func (b *ExecBackend) MaxRate() float64 {
	return math.Round(float64(b.maxWPM)/baseWPM*10) / 10
}

// Say implements Backend.
func (b *ExecBackend) Say(ctx context.Context, req Request) error {
	name, args, stdin := b.command(req)

	cmd := exec.CommandContext(ctx, name, args...)
	// stdin must be in place before Start.
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", b.kind, err)
	}
	if req.Started != nil {
		req.Started()
	}

	err := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return fmt.Errorf("%s exited: %w: %s", b.kind, err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%s failed: %w", b.kind, err)
	}
	return nil
}

func (b *ExecBackend) wpm(rate float64) int {
	w := int(math.Round(baseWPM * rate))
	if w < 80 {
		w = 80
	}
	if w > b.maxWPM {
		w = b.maxWPM
	}
	return w
}

// command builds the invocation. Text goes through stdin where the tool
// supports it so it never shows up in the process list.
func (b *ExecBackend) command(req Request) (string, []string, string) {
	voice := b.voice
	switch b.kind {
	case "say":
		args := []string{"-r", strconv.Itoa(b.wpm(req.Rate)), "-f", "-"}
		if voice != "" {
			args = append(args, "-v", voice)
		}
		return b.path, args, req.Text
	case "spd-say":
		r := int(math.Round((req.Rate - 1) * 50))
		r = max(-100, min(100, r))
		args := []string{"-w", "-r", strconv.Itoa(r)}
		if req.Language != "" {
			args = append(args, "-l", req.Language)
		}
		args = append(args, "--", req.Text)
		return b.path, args, ""
	default:
		if voice == "" {
			voice = espeakVoice(req.Language)
		}
		args := []string{"-s", strconv.Itoa(b.wpm(req.Rate)), "-v", voice, "--stdin"}
		return b.path, args, req.Text
	}
}

// espeakVoice maps a BCP 47 tag to an espeak voice name.
func espeakVoice(lang string) string {
	l := strings.ToLower(lang)
	switch {
	case strings.HasPrefix(l, "zh"):
		return "cmn"
	case l == "":
		return "en-us"
	case strings.HasPrefix(l, "en-gb"):
		return "en-gb"
	case strings.HasPrefix(l, "en"):
		return "en-us"
	default:
		if i := strings.IndexByte(l, '-'); i > 0 {
			return l[:i]
		}
		return l
	}
}
