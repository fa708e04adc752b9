// Package remote implements the remote mirror of a user's agents and run
// history: the adapter interface the state container talks to, a REST
// client for it, and a self-hostable SQLite-backed server.
package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/pocketagent/internal/domain"
)

// HistoryLimit is the maximum number of history rows pulled on sync.
const HistoryLimit = 100

// Mirror is the remote tabular store, scoped by user id. It holds no state
// of its own between calls.
type Mirror interface {
	// InsertAgent inserts row and returns it with the remote id and
	// created_at filled in.
	InsertAgent(ctx context.Context, row AgentRow) (AgentRow, error)

	// UpdateAgent applies a partial update to the agent id owned by userID.
	UpdateAgent(ctx context.Context, userID, id string, patch AgentPatch) error

	// DeleteAgent removes the agent id owned by userID.
	DeleteAgent(ctx context.Context, userID, id string) error

	// DeleteAllAgents removes every agent owned by userID.
	DeleteAllAgents(ctx context.Context, userID string) error

	// ListAgents returns the user's agents, newest first.
	ListAgents(ctx context.Context, userID string) ([]AgentRow, error)

	// InsertHistory inserts row and returns it with id and created_at.
	InsertHistory(ctx context.Context, row HistoryRow) (HistoryRow, error)

	// DeleteHistory removes the history row id owned by userID.
	DeleteHistory(ctx context.Context, userID, id string) error

	// DeleteAllHistory removes every history row owned by userID.
	DeleteAllHistory(ctx context.Context, userID string) error

	// ListHistory returns at most limit history rows, newest first.
	ListHistory(ctx context.Context, userID string, limit int) ([]HistoryRow, error)
}

// AgentRow is an agent as stored remotely. Nullable columns are pointers.
type AgentRow struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Template    string     `json:"template"`
	Prompt      string     `json:"prompt"`
	Temperature *float64   `json:"temperature"`
	MaxTokens   *int       `json:"max_tokens"`
	RunCount    int        `json:"run_count"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at"`
}

// HistoryRow is a run record as stored remotely.
type HistoryRow struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"user_id"`
	AgentID   *string    `json:"agent_id"`
	AgentName string     `json:"agent_name"`
	Prompt    string     `json:"prompt"`
	Response  string     `json:"response"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// AgentPatch is a partial agent update. Nil fields are not sent.
type AgentPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Template    *string    `json:"template,omitempty"`
	Prompt      *string    `json:"prompt,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	RunCount    *int       `json:"run_count,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// IsEmpty reports whether the patch sets nothing.
func (p AgentPatch) IsEmpty() bool {
	return p == AgentPatch{}
}

// NewAgentRow builds the insert row for a locally created agent. The id and
// created_at are left for the remote to assign.
func NewAgentRow(userID string, a domain.Agent) AgentRow {
	desc := a.Description
	temp := a.Settings.Temperature
	maxTokens := a.Settings.MaxTokens
	return AgentRow{
		UserID:      userID,
		Name:        a.Name,
		Description: &desc,
		Template:    string(a.Template),
		Prompt:      a.Prompt,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		RunCount:    a.RunCount,
		LastRunAt:   a.LastRunAt,
	}
}

// NewAgentPatch converts a local edit into a remote partial update.
func NewAgentPatch(p domain.AgentPatch) AgentPatch {
	out := AgentPatch{
		Name:        p.Name,
		Description: p.Description,
		Prompt:      p.Prompt,
	}
	if p.Template != nil {
		t := string(*p.Template)
		out.Template = &t
	}
	if p.Settings != nil {
		temp := p.Settings.Temperature
		maxTokens := p.Settings.MaxTokens
		out.Temperature = &temp
		out.MaxTokens = &maxTokens
	}
	return out
}

// RunPatch records a completed run remotely.
func RunPatch(runCount int, at time.Time) AgentPatch {
	return AgentPatch{RunCount: &runCount, LastRunAt: &at}
}

// ToAgent maps a remote row to a local agent, filling defaults for missing
// or out-of-range columns. Unknown templates fall back to summarizer.
func (r AgentRow) ToAgent(logger *slog.Logger) domain.Agent {
	if logger == nil {
		logger = slog.Default()
	}

	a := domain.Agent{
		ID:        r.ID,
		Name:      r.Name,
		Template:  domain.Template(r.Template),
		Prompt:    r.Prompt,
		Settings:  domain.DefaultSettings(),
		LastRunAt: r.LastRunAt,
		RunCount:  max(r.RunCount, 0),
	}
	if r.Description != nil {
		a.Description = *r.Description
	}
	if r.Temperature != nil && *r.Temperature != 0 {
		a.Settings.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil && *r.MaxTokens > 0 {
		a.Settings.MaxTokens = *r.MaxTokens
	}
	if r.CreatedAt != nil {
		a.CreatedAt = *r.CreatedAt
	}
	if !a.Template.Valid() {
		logger.Warn("remote agent has unknown template, using summarizer",
			"agent_id", r.ID, "template", r.Template)
		a.Template = domain.TemplateSummarizer
	}
	return a
}

// NewHistoryRow builds the insert row for a local history entry.
func NewHistoryRow(userID string, e domain.HistoryEntry) HistoryRow {
	agentID := e.AgentID
	return HistoryRow{
		UserID:    userID,
		AgentID:   &agentID,
		AgentName: e.AgentName,
		Prompt:    e.Prompt,
		Response:  e.Response,
	}
}

// ToEntry maps a remote history row to a local entry.
func (r HistoryRow) ToEntry() domain.HistoryEntry {
	e := domain.HistoryEntry{
		ID:        r.ID,
		AgentName: r.AgentName,
		Prompt:    r.Prompt,
		Response:  r.Response,
	}
	if r.AgentID != nil {
		e.AgentID = *r.AgentID
	}
	if r.CreatedAt != nil {
		e.Timestamp = *r.CreatedAt
	}
	return e
}
