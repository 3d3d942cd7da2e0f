// Package config assembles the application settings from the config file,
// NARRATE_ environment variables, flags bound through viper, and API keys
// taken from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/describe"
	"github.com/dgnsrekt/narrate/internal/gesture"
	"github.com/dgnsrekt/narrate/internal/prefs"
	"github.com/dgnsrekt/narrate/internal/speech"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Preference store kinds.
const (
	PrefsFile   = "file"
	PrefsRedis  = "redis"
	PrefsMemory = "memory"
)

// Screen reader detection modes.
const (
	ScreenReaderAuto = "auto"
	ScreenReaderOn   = "on"
	ScreenReaderOff  = "off"
)

// PrefsConfig selects where preferences live.
type PrefsConfig struct {
	Store string            `mapstructure:"store" yaml:"store"`
	Path  string            `mapstructure:"path" yaml:"path"`
	Redis prefs.RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// AnalyticsConfig controls event tracking. Events never leave the machine:
// they go to the debug log and, when Path is set, to a JSON lines file.
type AnalyticsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Config is the complete application configuration.
type Config struct {
	Lang         string             `mapstructure:"lang" yaml:"lang"`
	LogLevel     string             `mapstructure:"log_level" yaml:"log_level"`
	Mouse        bool               `mapstructure:"mouse" yaml:"mouse"`
	ScreenReader string             `mapstructure:"screen_reader" yaml:"screen_reader"`
	TapWindow    time.Duration      `mapstructure:"tap_window" yaml:"tap_window"`
	Gesture      gesture.RateConfig `mapstructure:"gesture" yaml:"gesture"`
	Speech       speech.Config      `mapstructure:"speech" yaml:"speech"`
	Describe     describe.Config    `mapstructure:"describe" yaml:"describe"`
	Cache        cache.Config       `mapstructure:"cache" yaml:"cache"`
	Prefs        PrefsConfig        `mapstructure:"prefs" yaml:"prefs"`
	Analytics    AnalyticsConfig    `mapstructure:"analytics" yaml:"analytics"`
}

// Secrets are read from the environment only.
type Secrets struct {
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	DashScopeKey  string `env:"DASHSCOPE_API_KEY"`
	RedisPassword string `env:"NARRATE_REDIS_PASSWORD"`
}

// SetDefaults registers the default of every key on v, so that environment
// variables can override keys missing from the config file.
func SetDefaults(v *viper.Viper, dirs Dirs) {
	g := gesture.DefaultRateConfig()
	s := speech.DefaultConfig()
	d := describe.DefaultConfig()
	c := cache.DefaultConfig()

	v.SetDefault("lang", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("mouse", true)
	v.SetDefault("screen_reader", ScreenReaderAuto)
	v.SetDefault("tap_window", gesture.DoubleTapWindow)

	v.SetDefault("gesture.sensitivity", g.Sensitivity)
	v.SetDefault("gesture.throttle", g.Throttle)
	v.SetDefault("gesture.deadband", g.Deadband)

	v.SetDefault("speech.backend", s.Backend)
	v.SetDefault("speech.exec.command", "")
	v.SetDefault("speech.exec.voice", "")
	v.SetDefault("speech.exec.max_wpm", 0)
	v.SetDefault("speech.piper.binary", s.Piper.Binary)
	v.SetDefault("speech.piper.model", "")
	v.SetDefault("speech.piper.speaker", 0)
	v.SetDefault("speech.piper.sample_rate", s.Piper.SampleRate)
	v.SetDefault("speech.piper.max_rate", s.Piper.MaxRate)

	v.SetDefault("describe.provider", d.Provider)
	v.SetDefault("describe.openai.model", d.OpenAI.Model)
	v.SetDefault("describe.openai.base_url", "")
	v.SetDefault("describe.qwen.model", d.Qwen.Model)
	v.SetDefault("describe.qwen.base_url", d.Qwen.BaseURL)
	v.SetDefault("describe.max_tokens", d.MaxTokens)
	v.SetDefault("describe.max_dimension", d.MaxDimension)
	v.SetDefault("describe.timeout", d.Timeout)

	v.SetDefault("cache.memory_capacity", c.MemoryCapacity)
	v.SetDefault("cache.disk_capacity", c.DiskCapacity)
	v.SetDefault("cache.path", filepath.Join(dirs.Cache, "descriptions"))
	v.SetDefault("cache.compression_level", c.CompressionLevel)
	v.SetDefault("cache.ttl", c.TTL)
	v.SetDefault("cache.cleanup_interval", c.CleanupInterval)

	v.SetDefault("prefs.store", PrefsFile)
	v.SetDefault("prefs.path", filepath.Join(dirs.Data, "preferences.json"))
	v.SetDefault("prefs.redis.addr", "localhost:6379")
	v.SetDefault("prefs.redis.db", 0)
	v.SetDefault("prefs.redis.namespace", "narrate:")

	v.SetDefault("analytics.enabled", true)
	v.SetDefault("analytics.path", "")
}

// Load decodes v, fills in secrets from the environment and validates the
// result.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}

	// NARRATE_SPEECH_COMMAND and NARRATE_PIPER_MODEL.
	if err := env.Parse(&c.Speech); err != nil {
		return Config{}, fmt.Errorf("unable to read speech environment: %w", err)
	}
	secrets, err := env.ParseAs[Secrets]()
	if err != nil {
		return Config{}, fmt.Errorf("unable to read environment: %w", err)
	}
	c.Describe.OpenAI.APIKey = secrets.OpenAIKey
	c.Describe.Qwen.APIKey = secrets.DashScopeKey
	if secrets.RedisPassword != "" {
		c.Prefs.Redis.Password = secrets.RedisPassword
	}

	for _, p := range []*string{&c.Prefs.Path, &c.Cache.DiskPath, &c.Analytics.Path, &c.Speech.Piper.Model, &c.Speech.Piper.Binary} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return Config{}, fmt.Errorf("unable to expand %q: %w", *p, err)
		}
		*p = expanded
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	switch c.ScreenReader {
	case ScreenReaderAuto, ScreenReaderOn, ScreenReaderOff:
	default:
		errs = append(errs, fmt.Errorf("screen_reader must be auto, on or off, got %q", c.ScreenReader))
	}
	switch c.Prefs.Store {
	case PrefsFile:
		if c.Prefs.Path == "" {
			errs = append(errs, errors.New("prefs.path is required for the file store"))
		}
	case PrefsRedis:
		if c.Prefs.Redis.Addr == "" {
			errs = append(errs, errors.New("prefs.redis.addr is required for the redis store"))
		}
	case PrefsMemory:
	default:
		errs = append(errs, fmt.Errorf("prefs.store must be file, redis or memory, got %q", c.Prefs.Store))
	}
	if c.TapWindow < 0 {
		errs = append(errs, errors.New("tap_window must not be negative"))
	}
	if err := c.Gesture.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gesture: %w", err))
	}
	if err := c.Speech.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("speech: %w", err))
	}
	if err := c.Describe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("describe: %w", err))
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		errs = append(errs, fmt.Errorf("cache.compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads KEY=value pairs from the given files into the
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("unable to load %s: %w", p, err)
		}
	}
	return nil
}

// ParseLevel validates a log level name.
func ParseLevel(s string) (string, error) {
	switch l := strings.ToLower(s); l {
	case "", "info":
		return "info", nil
	case "debug", "warn", "error":
		return l, nil
	default:
		return "", fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}
