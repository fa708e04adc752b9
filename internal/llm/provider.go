package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names accepted by NewBackend.
const (
	ProviderGateway   = "gateway"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// DefaultGatewayURL is the OpenAI-compatible AI gateway the hosted app used.
const DefaultGatewayURL = "https://ai.gateway.lovable.dev/v1"

var defaultModels = map[string]string{
	ProviderGateway:   "google/gemini-2.5-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderGemini:    "gemini-2.5-flash",
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(strings.TrimSpace(provider))]
}

// NewBackend builds the backend for cfg.
func NewBackend(ctx context.Context, cfg ProviderConfig) (Backend, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGateway
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing provider api key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel(provider)
	}

	switch provider {
	case ProviderGateway:
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = DefaultGatewayURL
		}
		return NewOpenAIBackend(ProviderGateway, baseURL, cfg.APIKey, model), nil
	case ProviderOpenAI:
		return NewOpenAIBackend(ProviderOpenAI, cfg.BaseURL, cfg.APIKey, model), nil
	case ProviderAnthropic:
		return NewAnthropicBackend(cfg.BaseURL, cfg.APIKey, model), nil
	case ProviderGemini:
		return NewGeminiBackend(ctx, cfg.BaseURL, cfg.APIKey, model)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Provider)
	}
}
