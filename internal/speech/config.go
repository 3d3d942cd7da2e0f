package speech

import (
	"errors"
	"fmt"
)

// Backend names accepted by Config.Backend.
const (
	BackendAuto  = "auto"
	BackendExec  = "exec"
	BackendPiper = "piper"
)

// PiperConfig configures a PiperBackend.
type PiperConfig struct {
	Binary     string  `mapstructure:"binary" yaml:"binary"`
	Model      string  `mapstructure:"model" yaml:"model" env:"NARRATE_PIPER_MODEL"`
	Speaker    int     `mapstructure:"speaker" yaml:"speaker"`
	SampleRate int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	MaxRate    float64 `mapstructure:"max_rate" yaml:"max_rate"`
}

func (c PiperConfig) withDefaults() PiperConfig {
	if c.Binary == "" {
		c.Binary = "piper"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 22050
	}
	if c.MaxRate == 0 {
		c.MaxRate = 4
	}
	return c
}

// Config selects and configures a backend.
type Config struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Exec    ExecConfig  `mapstructure:"exec" yaml:"exec"`
	Piper   PiperConfig `mapstructure:"piper" yaml:"piper"`
}

// DefaultConfig returns the auto-detecting configuration.
func DefaultConfig() Config {
	return Config{Backend: BackendAuto, Piper: PiperConfig{}.withDefaults()}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendExec, BackendPiper, "":
	default:
		return fmt.Errorf("unknown speech backend %q", c.Backend)
	}
	if c.Piper.MaxRate < 0 || c.Piper.Speaker < 0 || c.Exec.MaxWPM < 0 {
		return errors.New("speech limits must not be negative")
	}
	if c.Backend == BackendPiper && c.Piper.Model == "" {
		return errors.New("speech backend piper requires piper.model")
	}
	return nil
}

// NewBackend builds the configured backend. In auto mode piper is preferred
// when a model is configured, falling back to a command-line synthesizer.
func NewBackend(c Config) (Backend, error) {
	switch c.Backend {
	case BackendPiper:
		return NewPiperBackend(c.Piper)
	case BackendExec:
		return NewExecBackend(c.Exec)
	default:
		if c.Piper.Model != "" {
			if b, err := NewPiperBackend(c.Piper); err == nil {
				return b, nil
			}
		}
		return NewExecBackend(c.Exec)
	}
}

// LengthScale converts a rate into piper's length_scale, which is a duration
// multiplier: faster speech means shorter phonemes.
func LengthScale(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return 1 / rate
}
