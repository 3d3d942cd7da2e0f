// Package describe turns a photo into a spoken-style description using a
// vision model.
package describe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrNoAPIKey is returned when the selected provider has no key.
	ErrNoAPIKey = errors.New("missing API key")

	// ErrEmptyResponse is returned when the model answered without text.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrUnsupportedImage is returned for files that are not JPEG, PNG, GIF
	// or WebP.
	ErrUnsupportedImage = errors.New("unsupported image format")

	// ErrUnknownProvider is returned for a provider name that is not known.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Provider describes the image at the given path.
type Provider interface {
	Describe(ctx context.Context, image string) (string, error)
}

// Provider names.
const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
)

const (
	DefaultOpenAIModel  = "gpt-4.1-nano"
	DefaultQwenModel    = "qwen-vl-plus"
	DefaultQwenBaseURL  = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultMaxTokens    = 4000
	DefaultMaxDimension = 1568
	DefaultTimeout      = 60 * time.Second
	DefaultJPEGQuality  = 80
)

// Endpoint configures one OpenAI-compatible service.
type Endpoint struct {
	APIKey  string `mapstructure:"-" yaml:"-"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// Config selects and configures the vision provider.
type Config struct {
	// Provider is auto, openai or qwen. Auto picks Qwen for Chinese when a
	// DashScope key is available, OpenAI otherwise.
	Provider     string        `mapstructure:"provider" yaml:"provider"`
	OpenAI       Endpoint      `mapstructure:"openai" yaml:"openai"`
	Qwen         Endpoint      `mapstructure:"qwen" yaml:"qwen"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxDimension int           `mapstructure:"max_dimension" yaml:"max_dimension"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the built-in provider settings, without keys.
func DefaultConfig() Config {
	return Config{
		Provider:     ProviderAuto,
		OpenAI:       Endpoint{Model: DefaultOpenAIModel},
		Qwen:         Endpoint{Model: DefaultQwenModel, BaseURL: DefaultQwenBaseURL},
		MaxTokens:    DefaultMaxTokens,
		MaxDimension: DefaultMaxDimension,
		Timeout:      DefaultTimeout,
	}
}

// Validate checks the static settings. Keys are checked when a provider is
// built.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAuto, ProviderOpenAI, ProviderQwen:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	if c.MaxDimension < 0 {
		return fmt.Errorf("max_dimension must not be negative, got %d", c.MaxDimension)
	}
	return nil
}

// Resolve picks the provider name for a UI language.
func (c Config) Resolve(lang string) string {
	switch c.Provider {
	case ProviderOpenAI, ProviderQwen:
		return c.Provider
	}
	if isChinese(lang) && c.Qwen.APIKey != "" {
		return ProviderQwen
	}
	if c.OpenAI.APIKey == "" && c.Qwen.APIKey != "" {
		return ProviderQwen
	}
	return ProviderOpenAI
}

// New builds the provider for lang.
func New(c Config, lang string, logger *log.Logger) (*OpenAI, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	name := c.Resolve(lang)
	ep := c.OpenAI
	defaults := DefaultConfig().OpenAI
	if name == ProviderQwen {
		ep = c.Qwen
		defaults = DefaultConfig().Qwen
	}
	if ep.Model == "" {
		ep.Model = defaults.Model
	}
	if ep.BaseURL == "" {
		ep.BaseURL = defaults.BaseURL
	}
	if ep.APIKey == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoAPIKey, name)
	}

	return NewOpenAI(OpenAIConfig{
		Name:         name,
		Endpoint:     ep,
		Prompt:       Prompt(name, lang),
		MaxTokens:    c.MaxTokens,
		MaxDimension: c.MaxDimension,
		Timeout:      c.Timeout,
		Logger:       logger,
	}), nil
}

func isChinese(lang string) bool {
	return strings.HasPrefix(strings.ToLower(lang), "zh")
}
