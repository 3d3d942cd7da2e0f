//go:build !nocgo
// +build !nocgo

package speech

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
)

func audioContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio context already running at %d Hz, model needs %d Hz", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// PiperBackend runs the piper neural synthesizer and streams its raw PCM
// output straight to the sound card.
type PiperBackend struct {
	cfg PiperConfig
}

// NewPiperBackend checks that piper and the model exist.
func NewPiperBackend(cfg PiperConfig) (*PiperBackend, error) {
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: piper model not configured", ErrBackendUnavailable)
	}
	p, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, cfg.Binary, err)
	}
	cfg.Binary = p
	return &PiperBackend{cfg: cfg}, nil
}

// Name implements Backend.
func (b *PiperBackend) Name() string { return "piper" }

// MaxRate implements Backend.
func (b *PiperBackend) MaxRate() float64 { return b.cfg.MaxRate }

// Say implements Backend.
func (b *PiperBackend) Say(ctx context.Context, req Request) error {
	actx, err := audioContext(b.cfg.SampleRate)
	if err != nil {
		return err
	}

	args := []string{
		"--model", b.cfg.Model,
		"--output_raw",
		"--length_scale", strconv.FormatFloat(LengthScale(req.Rate), 'f', 3, 64),
	}
	if b.cfg.Speaker > 0 {
		args = append(args, "--speaker", strconv.Itoa(b.cfg.Speaker))
	}

	cmd := exec.CommandContext(ctx, b.cfg.Binary, args...)
	cmd.Stdin = strings.NewReader(req.Text + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start piper: %w", err)
	}

	src := &firstReadNotifier{r: stdout, fn: req.Started}
	player := actx.NewPlayer(src)
	player.Play()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			_ = player.Close()
			_ = cmd.Wait()
			return ctx.Err()
		case <-tick.C:
		}
	}

	if err := player.Err(); err != nil && err != io.EOF {
		_ = player.Close()
		_ = cmd.Wait()
		return fmt.Errorf("playback failed: %w", err)
	}
	_ = player.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("piper exited: %w", err)
	}
	return nil
}

// firstReadNotifier calls fn the first time audio bytes come through.
type firstReadNotifier struct {
	r    io.Reader
	fn   func()
	once sync.Once
}

func (n *firstReadNotifier) Read(p []byte) (int, error) {
	c, err := n.r.Read(p)
	if c > 0 && n.fn != nil {
		n.once.Do(n.fn)
	}
	return c, err
}
