package describe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible vision provider.
type OpenAIConfig struct {
	// Name labels the provider in logs and cache keys.
	Name         string
	Endpoint     Endpoint
	Prompt       string
	MaxTokens    int
	MaxDimension int
	Timeout      time.Duration
	Logger       *log.Logger
}

// OpenAI asks a chat completion model with image input for a description.
// It serves both OpenAI and DashScope's compatible mode.
type OpenAI struct {
	client  *openai.Client
	name    string
	model   string
	prompt  string
	tokens  int
	maxDim  int
	timeout time.Duration
	logger  *log.Logger
}

// NewOpenAI returns a provider for cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.Endpoint.APIKey)
	if cfg.Endpoint.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.Endpoint.BaseURL, "/")
	}
	if cfg.Name == "" {
		cfg.Name = ProviderOpenAI
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("describe")
	}
	if cfg.Prompt == "" {
		cfg.Prompt = Prompt(cfg.Name, "en")
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		name:    cfg.Name,
		model:   cfg.Endpoint.Model,
		prompt:  cfg.Prompt,
		tokens:  cfg.MaxTokens,
		maxDim:  cfg.MaxDimension,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Name returns the provider label.
func (p *OpenAI) Name() string { return p.name }

// Model returns the model identifier.
func (p *OpenAI) Model() string { return p.model }

// Describe implements Provider.
func (p *OpenAI) Describe(ctx context.Context, path string) (string, error) {
	img, err := LoadImage(path, p.maxDim)
	if err != nil {
		return "", err
	}
	return p.DescribeImage(ctx, img)
}

// DescribeImage sends an already prepared image.
func (p *OpenAI) DescribeImage(ctx context.Context, img Image) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.logger.Debug("Describing image",
		"provider", p.name,
		"model", p.model,
		"size", humanize.Bytes(uint64(len(img.Data))),
		"original", humanize.Bytes(uint64(img.OriginalSize)),
		"dimensions", fmt.Sprintf("%dx%d", img.Width, img.Height),
	)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: p.prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: img.DataURI()},
				},
			},
		}},
		MaxCompletionTokens: p.tokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}

	text := PlainText(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}
	p.logger.Info("Image described",
		"provider", p.name,
		"took", time.Since(start).Round(time.Millisecond),
		"tokens", resp.Usage.CompletionTokens,
	)
	return text, nil
}
