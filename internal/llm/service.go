package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/pocketagent/internal/safety"
	"github.com/ashureev/pocketagent/internal/templates"
)

// Service checks input, composes the system prompt for the agent's
// template, and calls the configured backend.
type Service struct {
	backend Backend
	catalog *templates.Catalog
	logger  *slog.Logger
}

// NewService wraps backend. A nil catalog selects the embedded one.
func NewService(backend Backend, catalog *templates.Catalog, logger *slog.Logger) *Service {
	if catalog == nil {
		catalog = templates.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, catalog: catalog, logger: logger}
}

// Generate runs one request. Errors are one of the package error classes.
func (s *Service) Generate(ctx context.Context, req Request) (*Response, error) {
	if safety.IsBlocked(req.Input) {
		return nil, ErrContentBlocked
	}
	if s.backend == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrUnavailable)
	}

	prompt := Prompt{
		System:      s.catalog.SystemPrompt(req.Template, req.Instructions),
		Input:       req.Input,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	start := time.Now()
	s.logger.Debug("generating", "backend", s.backend.Name(), "template", req.Template)

	resp, err := s.backend.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Error("generation failed",
			"backend", s.backend.Name(),
			"template", req.Template,
			"error", err,
		)
		if !classified(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	if strings.TrimSpace(resp.Content) == "" {
		resp.Content = NoResponse
	}
	s.logger.Info("generation complete",
		"backend", s.backend.Name(),
		"template", req.Template,
		"tokens_used", resp.TokensUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}
