package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend creates a Messages API backend with SDK retries
// disabled.
func NewAnthropicBackend(baseURL, apiKey, model string) *AnthropicBackend {
	opts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(apiKey)),
		aoption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...), model: model}
}

// Name returns "anthropic".
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, p Prompt) (*Response, error) {
	maxTokens := int64(p.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 500
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   maxTokens,
		System:      []anthropic.TextBlockParam{{Text: p.System}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(p.Input))},
		Temperature: anthropic.Float(p.Temperature),
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: anthropic status %d", ClassifyStatus(apiErr.StatusCode), apiErr.StatusCode)
		}
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Response{
		Content:    sb.String(),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}
