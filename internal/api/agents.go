package api

import (
	"net/http"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/runner"
	"github.com/go-chi/chi/v5"
)

type fromTemplateRequest struct {
	Template domain.Template `json:"template"`
}

type runRequest struct {
	Input string `json:"input"`
}

// ListTemplates returns the template catalog.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.catalog.All())
}

// ListAgents returns every agent.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.state.Agents())
}

// CreateAgent creates an agent from a draft. Missing settings take the
// defaults.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var draft domain.AgentDraft
	if !decode(w, r, &draft) {
		return
	}
	if draft.Settings == (domain.AgentSettings{}) {
		draft.Settings = domain.DefaultSettings()
	}

	agent, err := h.state.AddAgent(r.Context(), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, agent)
}

// CreateAgentFromTemplate creates "My <Template>" from a catalog entry.
func (h *Handler) CreateAgentFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req fromTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	agent, err := h.state.AddAgentFromTemplate(r.Context(), req.Template)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, agent)
}

// GetAgent returns one agent.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.state.GetAgent(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// UpdateAgent applies a partial update.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch domain.AgentPatch
	if !decode(w, r, &patch) {
		return
	}
	if err := h.state.UpdateAgent(r.Context(), id, patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	agent, ok := h.state.GetAgent(id)
	if !ok {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// DeleteAgent removes an agent and its conversation.
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	h.state.DeleteAgent(r.Context(), chi.URLParam(r, "id"))
	noContent(w)
}

// RunAgent sends input to an agent.
func (h *Handler) RunAgent(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.runner.Run(r.Context(), chi.URLParam(r, "id"), req.Input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// TestAgent tries an unsaved configuration with the fixed test input.
func (h *Handler) TestAgent(w http.ResponseWriter, r *http.Request) {
	var req runner.TestRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.runner.Test(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// GetConversation returns an agent's messages. An agent without messages
// yields an empty conversation.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cv, ok := h.state.Conversation(id)
	if !ok {
		cv = domain.Conversation{AgentID: id}
	}
	if cv.Messages == nil {
		cv.Messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, cv)
}

// ClearConversation drops an agent's messages.
func (h *Handler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	h.state.ClearConversation(chi.URLParam(r, "id"))
	noContent(w)
}
