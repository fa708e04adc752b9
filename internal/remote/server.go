package remote

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errhttp"
	"github.com/go-chi/chi/v5"
)

// Server exposes a Mirror over the PostgREST subset the Client speaks.
type Server struct {
	mirror Mirror
	apiKey string
	tokens map[string]string
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithUserTokens binds each bearer token to the one user_id it may read or
// write. Without it the apikey holder may act for any user.
func WithUserTokens(tokens map[string]string) ServerOption {
	return func(s *Server) { s.tokens = tokens }
}

// NewServer creates a REST server over m. When apiKey is non-empty every
// request must carry it in the apikey header.
func NewServer(m Mirror, apiKey string, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mirror: m, apiKey: apiKey, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type tokenUserKey struct{}

// RegisterRoutes registers the table endpoints.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/rest/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/agents", s.listAgents)
		r.Post("/agents", s.insertAgent)
		r.Patch("/agents", s.updateAgent)
		r.Delete("/agents", s.deleteAgents)

		r.Get("/history", s.listHistory)
		r.Post("/history", s.insertHistory)
		r.Delete("/history", s.deleteHistory)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			got := r.Header.Get("apikey")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
				writeError(w, errdefs.ErrUnauthenticated.WithMessage("invalid api key"))
				return
			}
		}
		if len(s.tokens) > 0 {
			token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			userID, ok := s.tokens[token]
			if token == "" || !ok {
				writeError(w, errdefs.ErrUnauthenticated.WithMessage("invalid bearer token"))
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), tokenUserKey{}, userID))
		}
		next.ServeHTTP(w, r)
	})
}

// authorize rejects a user_id the request's bearer token is not bound to.
func (s *Server) authorize(r *http.Request, userID string) error {
	if len(s.tokens) == 0 {
		return nil
	}
	if bound, _ := r.Context().Value(tokenUserKey{}).(string); bound != userID {
		return errdefs.ErrPermissionDenied.WithMessage("token is not valid for user " + userID)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errhttp.ToHTTP(err)
	writeJSON(w, status, map[string]any{
		"message": err.Error(),
		"code":    strconv.Itoa(status),
	})
}

// eqFilter reads a "col=eq.value" filter.
func eqFilter(r *http.Request, col string) (string, error) {
	raw := r.URL.Query().Get(col)
	if raw == "" {
		return "", nil
	}
	v, ok := strings.CutPrefix(raw, "eq.")
	if !ok {
		return "", errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unsupported filter %s=%s", col, raw))
	}
	return v, nil
}

// scope returns the user_id and optional id filters. user_id is mandatory.
func (s *Server) scope(r *http.Request) (userID, id string, err error) {
	if userID, err = eqFilter(r, "user_id"); err != nil {
		return "", "", err
	}
	if userID == "" {
		return "", "", errdefs.ErrInvalidArgument.WithMessage("user_id filter is required")
	}
	if err = s.authorize(r, userID); err != nil {
		return "", "", err
	}
	if id, err = eqFilter(r, "id"); err != nil {
		return "", "", err
	}
	return userID, id, nil
}

func checkOrder(r *http.Request) error {
	if o := r.URL.Query().Get("order"); o != "" && o != "created_at.desc" {
		return errdefs.ErrNotImplemented.WithMessage("only order=created_at.desc is supported")
	}
	return nil
}

// representation writes an inserted row as an object when the client asked
// for one, otherwise as a one-element array.
func representation(w http.ResponseWriter, r *http.Request, row any) {
	if strings.Contains(r.Header.Get("Accept"), mediaTypeObject) {
		writeJSON(w, http.StatusCreated, row)
		return
	}
	writeJSON(w, http.StatusCreated, []any{row})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("invalid body: %v", err))
	}
	return nil
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	userID, _, err := s.scope(r)
	if err == nil {
		err = checkOrder(r)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.mirror.ListAgents(r.Context(), userID)
	if err != nil {
		s.logger.Error("list agents failed", "user_id", userID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) insertAgent(w http.ResponseWriter, r *http.Request) {
	var row AgentRow
	err := decode(r, &row)
	if err == nil {
		err = s.authorize(r, row.UserID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.mirror.InsertAgent(r.Context(), row)
	if err != nil {
		s.logger.Error("insert agent failed", "user_id", row.UserID, "error", err)
		writeError(w, err)
		return
	}
	representation(w, r, out)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	userID, id, err := s.scope(r)
	if err == nil && id == "" {
		err = errdefs.ErrInvalidArgument.WithMessage("id filter is required")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	var patch AgentPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mirror.UpdateAgent(r.Context(), userID, id, patch); err != nil {
		s.logger.Error("update agent failed", "user_id", userID, "agent_id", id, "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAgents(w http.ResponseWriter, r *http.Request) {
	userID, id, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if id != "" {
		err = s.mirror.DeleteAgent(r.Context(), userID, id)
	} else {
		err = s.mirror.DeleteAllAgents(r.Context(), userID)
	}
	if err != nil {
		s.logger.Error("delete agents failed", "user_id", userID, "agent_id", id, "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	userID, _, err := s.scope(r)
	if err == nil {
		err = checkOrder(r)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, errdefs.ErrInvalidArgument.WithMessage("invalid limit"))
			return
		}
	}
	rows, err := s.mirror.ListHistory(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list history failed", "user_id", userID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) insertHistory(w http.ResponseWriter, r *http.Request) {
	var row HistoryRow
	err := decode(r, &row)
	if err == nil {
		err = s.authorize(r, row.UserID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.mirror.InsertHistory(r.Context(), row)
	if err != nil {
		s.logger.Error("insert history failed", "user_id", row.UserID, "error", err)
		writeError(w, err)
		return
	}
	representation(w, r, out)
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	userID, id, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if id != "" {
		err = s.mirror.DeleteHistory(r.Context(), userID, id)
	} else {
		err = s.mirror.DeleteAllHistory(r.Context(), userID)
	}
	if err != nil {
		s.logger.Error("delete history failed", "user_id", userID, "history_id", id, "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
