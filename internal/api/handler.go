// Package api provides HTTP handlers for the PocketAgent API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/pocketagent/internal/llm"
	"github.com/ashureev/pocketagent/internal/runner"
	"github.com/ashureev/pocketagent/internal/state"
	"github.com/ashureev/pocketagent/internal/templates"
	"github.com/containerd/errdefs/pkg/errhttp"
)

// defaultMaxRequestBodySize is the maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the state container and the run flows.
type Handler struct {
	state   *state.Container
	runner  *runner.Runner
	catalog *templates.Catalog
	limit   func(http.Handler) http.Handler
	logger  *slog.Logger
}

// NewHandler creates a handler. limit wraps the run and test routes and
// may be nil.
func NewHandler(st *state.Container, rn *runner.Runner, catalog *templates.Catalog, limit func(http.Handler) http.Handler, logger *slog.Logger) *Handler {
	if catalog == nil {
		catalog = templates.Default()
	}
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{state: st, runner: rn, catalog: catalog, limit: limit, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error to an HTTP status. Exhausted credits are 402 so
// clients can tell them from rate limiting.
func StatusFor(err error) int {
	if errors.Is(err, llm.ErrQuotaExhausted) {
		return http.StatusPaymentRequired
	}
	return errhttp.ToHTTP(err)
}

// writeError writes err with its mapped status. Internal failures are
// logged and not echoed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, llm.UserMessage(err))
}

// decode reads a JSON body into v. It writes the error response itself and
// reports whether decoding succeeded.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			Error(w, http.StatusBadRequest, "request body is required")
		default:
			Error(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}
