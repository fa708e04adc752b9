package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/pocketagent/internal/store"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

// Tables is the server side of the mirror: the agents and history tables
// in SQLite. Ids are random UUIDs and timestamps are unix milliseconds.
type Tables struct {
	db  *sql.DB
	now func() time.Time
}

// NewTables opens (creating if needed) the mirror database at dbPath.
func NewTables(dbPath string) (*Tables, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	t := &Tables{db: db, now: time.Now}
	if err := t.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return t, nil
}

var _ Mirror = (*Tables)(nil)

func (t *Tables) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		template TEXT NOT NULL,
		prompt TEXT NOT NULL,
		temperature REAL,
		max_tokens INTEGER,
		run_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_run_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_agents_user_created ON agents(user_id, created_at);

	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT,
		agent_name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_user_created ON history(user_id, created_at);
	`
	if _, err := t.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (t *Tables) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Close closes the database connection.
func (t *Tables) Close() error {
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func requireUser(userID string) error {
	if userID == "" {
		return errdefs.ErrInvalidArgument.WithMessage("user_id is required")
	}
	return nil
}

func (t *Tables) stamp() time.Time {
	return time.UnixMilli(t.now().UnixMilli()).UTC()
}

func nullTime(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return ts.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.UnixMilli(v.Int64).UTC()
	return &ts
}

// InsertAgent implements Mirror.
func (t *Tables) InsertAgent(ctx context.Context, row AgentRow) (AgentRow, error) {
	if err := requireUser(row.UserID); err != nil {
		return AgentRow{}, err
	}
	if strings.TrimSpace(row.Name) == "" {
		return AgentRow{}, errdefs.ErrInvalidArgument.WithMessage("name is required")
	}

	row.ID = uuid.NewString()
	created := t.stamp()
	row.CreatedAt = &created

	err := store.RetryOnConflict(ctx, "insert agent", func() error {
		_, err := t.db.ExecContext(ctx, `
			INSERT INTO agents (id, user_id, name, description, template, prompt,
				temperature, max_tokens, run_count, created_at, last_run_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.UserID, row.Name, row.Description, row.Template, row.Prompt,
			row.Temperature, row.MaxTokens, row.RunCount, created.UnixMilli(), nullTime(row.LastRunAt),
		)
		return err
	})
	if err != nil {
		return AgentRow{}, err
	}
	return row, nil
}

// UpdateAgent implements Mirror. Updating a missing row is not an error.
func (t *Tables) UpdateAgent(ctx context.Context, userID, id string, patch AgentPatch) error {
	if err := requireUser(userID); err != nil {
		return err
	}

	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Template != nil {
		add("template", *patch.Template)
	}
	if patch.Prompt != nil {
		add("prompt", *patch.Prompt)
	}
	if patch.Temperature != nil {
		add("temperature", *patch.Temperature)
	}
	if patch.MaxTokens != nil {
		add("max_tokens", *patch.MaxTokens)
	}
	if patch.RunCount != nil {
		add("run_count", *patch.RunCount)
	}
	if patch.LastRunAt != nil {
		add("last_run_at", patch.LastRunAt.UnixMilli())
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE agents SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND user_id = ?`
	args = append(args, id, userID)

	return store.RetryOnConflict(ctx, "update agent", func() error {
		result, err := t.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			slog.Debug("UpdateAgent affected 0 rows", "agent_id", id, "user_id", userID)
		}
		return nil
	})
}

// DeleteAgent implements Mirror.
func (t *Tables) DeleteAgent(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return t.exec(ctx, "delete agent", `DELETE FROM agents WHERE id = ? AND user_id = ?`, id, userID)
}

// DeleteAllAgents implements Mirror.
func (t *Tables) DeleteAllAgents(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return t.exec(ctx, "delete agents", `DELETE FROM agents WHERE user_id = ?`, userID)
}

// ListAgents implements Mirror.
func (t *Tables) ListAgents(ctx context.Context, userID string) ([]AgentRow, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, template, prompt,
		       temperature, max_tokens, run_count, created_at, last_run_at
		FROM agents WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	out := []AgentRow{}
	for rows.Next() {
		var r AgentRow
		var desc sql.NullString
		var temp sql.NullFloat64
		var maxTokens, lastRun sql.NullInt64
		var created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &desc, &r.Template, &r.Prompt,
			&temp, &maxTokens, &r.RunCount, &created, &lastRun); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		if desc.Valid {
			r.Description = &desc.String
		}
		if temp.Valid {
			r.Temperature = &temp.Float64
		}
		if maxTokens.Valid {
			n := int(maxTokens.Int64)
			r.MaxTokens = &n
		}
		r.CreatedAt = fromMillis(sql.NullInt64{Int64: created, Valid: true})
		r.LastRunAt = fromMillis(lastRun)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

// InsertHistory implements Mirror.
func (t *Tables) InsertHistory(ctx context.Context, row HistoryRow) (HistoryRow, error) {
	if err := requireUser(row.UserID); err != nil {
		return HistoryRow{}, err
	}

	row.ID = uuid.NewString()
	created := t.stamp()
	row.CreatedAt = &created

	err := store.RetryOnConflict(ctx, "insert history", func() error {
		_, err := t.db.ExecContext(ctx, `
			INSERT INTO history (id, user_id, agent_id, agent_name, prompt, response, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.UserID, row.AgentID, row.AgentName, row.Prompt, row.Response, created.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return HistoryRow{}, err
	}
	return row, nil
}

// DeleteHistory implements Mirror.
func (t *Tables) DeleteHistory(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return t.exec(ctx, "delete history", `DELETE FROM history WHERE id = ? AND user_id = ?`, id, userID)
}

// DeleteAllHistory implements Mirror.
func (t *Tables) DeleteAllHistory(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return t.exec(ctx, "clear history", `DELETE FROM history WHERE user_id = ?`, userID)
}

// ListHistory implements Mirror. A non-positive limit returns every row.
func (t *Tables) ListHistory(ctx context.Context, userID string, limit int) ([]HistoryRow, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, agent_name, prompt, response, created_at
		FROM history WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	out := []HistoryRow{}
	for rows.Next() {
		var r HistoryRow
		var agentID sql.NullString
		var created int64
		if err := rows.Scan(&r.ID, &r.UserID, &agentID, &r.AgentName, &r.Prompt, &r.Response, &created); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if agentID.Valid {
			r.AgentID = &agentID.String
		}
		r.CreatedAt = fromMillis(sql.NullInt64{Int64: created, Valid: true})
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (t *Tables) exec(ctx context.Context, op, query string, args ...any) error {
	return store.RetryOnConflict(ctx, op, func() error {
		_, err := t.db.ExecContext(ctx, query, args...)
		return err
	})
}
