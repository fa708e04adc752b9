package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API directly.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a Gemini API backend.
func NewGeminiBackend(ctx context.Context, baseURL, apiKey, model string) (*GeminiBackend, error) {
	cfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(baseURL) != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimSpace(baseURL)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

// Name returns "gemini".
func (b *GeminiBackend) Name() string { return "gemini" }

// Generate implements Backend.
func (b *GeminiBackend) Generate(ctx context.Context, p Prompt) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       genai.Ptr(float32(p.Temperature)),
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(p.Input), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: gemini status %d: %s", ClassifyStatus(apiErr.Code), apiErr.Code, apiErr.Message)
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) {
			return nil, fmt.Errorf("%w: gemini status %d: %s", ClassifyStatus(apiErrPtr.Code), apiErrPtr.Code, apiErrPtr.Message)
		}
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &Response{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}
