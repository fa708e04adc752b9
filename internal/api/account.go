package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/go-chi/chi/v5"
)

type syncRequest struct {
	Enabled bool `json:"enabled"`
}

type sessionRequest struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
}

// ListHistory returns run history, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.state.History())
}

// ClearHistory removes all history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.state.ClearHistory(r.Context())
	noContent(w)
}

// DeleteHistoryEntry removes one history entry.
func (h *Handler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	h.state.DeleteHistoryEntry(r.Context(), chi.URLParam(r, "id"))
	noContent(w)
}

// GetSettings returns the settings view.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.state.Settings())
}

// SetCloudSync turns cloud sync on or off.
func (h *Handler) SetCloudSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled {
		if err := h.state.EnableCloudSync(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
	} else {
		h.state.DisableCloudSync()
	}
	JSON(w, http.StatusOK, h.state.Settings())
}

// CompleteOnboarding marks onboarding done and returns the seeded agents.
func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	seeded, err := h.state.CompleteOnboarding(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"settings": h.state.Settings(),
		"seeded":   len(seeded),
	})
}

// SetSession signs a user in.
func (h *Handler) SetSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.state.SetSession(r.Context(), identity.Session{UserID: req.UserID, AccessToken: req.AccessToken})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.state.Settings())
}

// ClearSession signs out, keeping local data.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	h.state.ClearSession()
	noContent(w)
}

// SyncNow reconciles with the remote.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if err := h.state.SyncNow(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents":  len(h.state.Agents()),
		"history": len(h.state.History()),
	})
}

// Export downloads agents, conversations and history as JSON.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.state.ExportData()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("pocketagent-backup-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("export write failed", "error", err)
	}
}

// Reset clears all local data.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.state.ClearAllData()
	noContent(w)
}

// DeleteAccount removes the user's remote data, wipes local data and signs
// out.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.state.DeleteAccount(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	noContent(w)
}
