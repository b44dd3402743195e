// Package generator produces assistant replies from a conversation context.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
)

// ErrEmptyReply is returned when the model answers without any text.
var ErrEmptyReply = errors.New("empty reply")

// Config configures the Anthropic generator.
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int64
	SystemPrompt string
	BaseURL      string
	MaxRetries   int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Anthropic generates replies with the Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
}

// NewAnthropic creates a generator. The API key is required.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		system:    cfg.SystemPrompt,
	}, nil
}

// Generate sends the context and message as one user turn and returns the
// concatenated text of the reply.
func (a *Anthropic) Generate(ctx context.Context, history []string, message string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Prompt(history, message))),
		},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Prompt renders the user turn sent to the model.
func Prompt(history []string, message string) string {
	return "Context:\n" + strings.Join(history, "\n") + "\n\nUser Message: " + message
}

// Echo answers without a model. It is used when no API key is configured.
type Echo struct {
	Name string
}

func (e Echo) Generate(_ context.Context, history []string, message string) (string, error) {
	name := e.Name
	if name == "" {
		name = "Recall"
	}
	return fmt.Sprintf("%s heard: %s (%d context lines)", name, message, len(history)), nil
}
