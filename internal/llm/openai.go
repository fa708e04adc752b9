package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint. The
// hosted AI gateway speaks the same protocol.
type OpenAIBackend struct {
	name   string
	client openai.Client
	model  string
}

// NewOpenAIBackend creates a chat completions backend. SDK retries are
// disabled; failures surface to the user immediately.
func NewOpenAIBackend(name, baseURL, apiKey, model string) *OpenAIBackend {
	opts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(apiKey)),
		ooption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAIBackend{
		name:   name,
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name returns the provider name.
func (b *OpenAIBackend) Name() string { return b.name }

// Generate implements Backend.
func (b *OpenAIBackend) Generate(ctx context.Context, p Prompt) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.Input),
		},
		Temperature: openai.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %s status %d: %s", ClassifyStatus(apiErr.StatusCode), b.name, apiErr.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("%s chat completion: %w", b.name, err)
	}

	out := &Response{TokensUsed: int(resp.Usage.TotalTokens)}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}
