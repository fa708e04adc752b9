package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/remote"
	"github.com/containerd/errdefs"
)

// SyncAgentsFromCloud replaces the local agents with the user's remote
// agents, newest first. Agents that only exist locally are dropped.
func (c *Container) SyncAgentsFromCloud(ctx context.Context) error {
	userID := c.sessions.UserID()
	if userID == "" || c.mirror == nil {
		return nil
	}

	rows, err := c.mirror.ListAgents(ctx, userID)
	if err != nil {
		return fmt.Errorf("list remote agents: %w", err)
	}

	agents := make([]domain.Agent, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.ID]; dup || row.ID == "" {
			continue
		}
		seen[row.ID] = struct{}{}
		agents = append(agents, row.ToAgent(c.logger))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions.UserID() != userID {
		c.logger.Info("session changed during agent sync, discarding result", "user_id", userID)
		return nil
	}
	c.snap.Agents = agents
	c.commitLocked("agents.sync")
	c.logger.Info("agents synced from remote", "user_id", userID, "count", len(agents))
	return nil
}

// SyncHistoryFromCloud replaces the local history with the user's most
// recent remote history rows.
func (c *Container) SyncHistoryFromCloud(ctx context.Context) error {
	userID := c.sessions.UserID()
	if userID == "" || c.mirror == nil {
		return nil
	}

	rows, err := c.mirror.ListHistory(ctx, userID, remote.HistoryLimit)
	if err != nil {
		return fmt.Errorf("list remote history: %w", err)
	}

	history := make([]domain.HistoryEntry, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.ID]; dup || row.ID == "" {
			continue
		}
		seen[row.ID] = struct{}{}
		history = append(history, row.ToEntry())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions.UserID() != userID {
		c.logger.Info("session changed during history sync, discarding result", "user_id", userID)
		return nil
	}
	c.snap.History = history
	c.commitLocked("history.sync")
	c.logger.Info("history synced from remote", "user_id", userID, "count", len(history))
	return nil
}

// Reconcile waits for queued mirror writes, then pulls agents and history.
// History is pulled even when the agent pull fails. Concurrent callers
// share one run.
func (c *Container) Reconcile(ctx context.Context) error {
	if c.mirror == nil || c.sessions.UserID() == "" {
		return nil
	}

	_, err, _ := c.reconcile.Do("reconcile", func() (any, error) {
		if err := c.queue.drain(ctx); err != nil {
			return nil, fmt.Errorf("drain mirror queue: %w", err)
		}
		agentsErr := c.SyncAgentsFromCloud(ctx)
		historyErr := c.SyncHistoryFromCloud(ctx)
		return nil, errors.Join(agentsErr, historyErr)
	})
	if err != nil {
		c.logger.Warn("reconcile failed", "user_id", c.sessions.UserID(), "error", err)
	}
	return err
}

// EnableCloudSync turns mirroring on for the signed-in user and reconciles.
// The flag stays on when reconciliation fails.
func (c *Container) EnableCloudSync(ctx context.Context) error {
	if !c.sessions.Current().Valid() {
		return errdefs.ErrUnauthenticated.WithMessage("sign in to enable cloud sync")
	}
	if c.mirror == nil {
		return errdefs.ErrFailedPrecondition.WithMessage("no remote is configured")
	}

	c.mu.Lock()
	if !c.snap.CloudSyncEnabled {
		c.snap.CloudSyncEnabled = true
		c.commitLocked("sync.enable")
	}
	c.mu.Unlock()

	return c.Reconcile(ctx)
}

// DisableCloudSync turns mirroring off. Local and remote data are kept.
func (c *Container) DisableCloudSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.CloudSyncEnabled {
		c.snap.CloudSyncEnabled = false
		c.commitLocked("sync.disable")
	}
}

// SyncNow reconciles on demand.
func (c *Container) SyncNow(ctx context.Context) error {
	if !c.sessions.Current().Valid() {
		return errdefs.ErrUnauthenticated.WithMessage("sign in to sync")
	}
	if c.mirror == nil {
		return errdefs.ErrFailedPrecondition.WithMessage("no remote is configured")
	}
	c.mu.Lock()
	enabled := c.snap.CloudSyncEnabled
	c.mu.Unlock()
	if !enabled {
		return errdefs.ErrFailedPrecondition.WithMessage("cloud sync is disabled")
	}
	return c.Reconcile(ctx)
}

// SetSession installs the signed-in user. When the user changes and cloud
// sync is on, the container reconciles; a failed reconcile is logged and
// the session still stands.
func (c *Container) SetSession(ctx context.Context, s identity.Session) error {
	if !s.Valid() {
		return errdefs.ErrInvalidArgument.WithMessage("user id is required")
	}

	prev := c.sessions.Set(s)
	c.logger.Info("session set", "user_id", s.UserID, "previous_user_id", prev.UserID)
	if prev.UserID == s.UserID {
		return nil
	}

	c.mu.Lock()
	enabled := c.snap.CloudSyncEnabled
	c.mu.Unlock()
	if enabled {
		_ = c.Reconcile(ctx)
	}
	return nil
}

// ClearSession signs out. Local data stays on the device.
func (c *Container) ClearSession() {
	prev := c.sessions.Clear()
	if prev.Valid() {
		c.logger.Info("session cleared", "user_id", prev.UserID)
	}
}

// DeleteAccount removes the user's remote rows, wipes local data and signs
// out. Remote failures are logged and do not stop the local wipe.
func (c *Container) DeleteAccount(ctx context.Context) error {
	userID := c.sessions.UserID()
	if userID == "" {
		return errdefs.ErrUnauthenticated.WithMessage("sign in to delete the account")
	}

	if c.mirror != nil {
		if err := c.queue.drain(ctx); err != nil {
			c.logger.Warn("drain before account deletion failed", "user_id", userID, "error", err)
		}
		if err := c.mirror.DeleteAllAgents(ctx, userID); err != nil {
			c.logger.Warn("remote mirror failed",
				"op", "agents.delete_all", "user_id", userID, "error", err)
		}
		if err := c.mirror.DeleteAllHistory(ctx, userID); err != nil {
			c.logger.Warn("remote mirror failed",
				"op", "history.delete_all", "user_id", userID, "error", err)
		}
	}

	c.ClearAllData()
	c.ClearSession()
	return nil
}
