// Package llm defines the generative-text backend contract, its provider
// implementations, and the content-checked Service the rest of the app
// calls.
package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/safety"
	"github.com/containerd/errdefs"
)

// Error classes surfaced to users. None of them is retried automatically.
var (
	ErrContentBlocked = errdefs.ErrInvalidArgument.WithMessage(safety.BlockedMessage)
	ErrRateLimited    = errdefs.ErrResourceExhausted.WithMessage("Rate limit exceeded. Please try again in a moment.")
	ErrQuotaExhausted = errdefs.ErrFailedPrecondition.WithMessage("AI credits exhausted. Please add more credits in Settings.")
	ErrUnavailable    = errdefs.ErrUnavailable.WithMessage("AI service temporarily unavailable. Please try again.")
)

// NoResponse replaces empty model output.
const NoResponse = "No response generated"

// Request is one generation call as seen by callers.
type Request struct {
	Template     domain.Template `json:"template"`
	Instructions string          `json:"instructions,omitempty"`
	Input        string          `json:"input"`
	Temperature  float64         `json:"temperature"`
	MaxTokens    int             `json:"maxTokens"`
}

// Response is the generated text plus usage.
type Response struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokensUsed"`
}

// Prompt is what a Backend receives: a composed system prompt and the
// user input.
type Prompt struct {
	System      string
	Input       string
	Temperature float64
	MaxTokens   int
}

// Backend is a single provider. Implementations return errors classified
// with ClassifyStatus so the Service can tell rate limits from quota
// exhaustion.
type Backend interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (*Response, error)
}

// ClassifyStatus maps an HTTP status from a provider to an error class.
func ClassifyStatus(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrQuotaExhausted
	default:
		return ErrUnavailable
	}
}

// classified reports whether err already carries one of the error classes.
func classified(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrContentBlocked)
}

// UserMessage returns the text to show for err: the class message for
// classified errors, otherwise err itself.
func UserMessage(err error) string {
	for _, class := range []error{ErrContentBlocked, ErrRateLimited, ErrQuotaExhausted, ErrUnavailable} {
		if errors.Is(err, class) {
			return class.Error()
		}
	}
	return err.Error()
}
