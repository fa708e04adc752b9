package state

import (
	"context"
	"errors"
	"slices"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/remote"
)

func (c *Container) historyIndexLocked(id string) int {
	return slices.IndexFunc(c.snap.History, func(e domain.HistoryEntry) bool { return e.ID == id })
}

// History returns run history, newest first.
func (c *Container) History() []domain.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.snap.History)
}

// AddHistoryEntry records a run at the front of the history. Like AddAgent
// it is inserted remotely when sync is active and adopts the remote id and
// timestamp on success.
func (c *Container) AddHistoryEntry(ctx context.Context, draft domain.HistoryDraft) domain.HistoryEntry {
	c.mu.Lock()
	entry := domain.HistoryEntry{
		ID:        c.newID(),
		AgentID:   draft.AgentID,
		AgentName: draft.AgentName,
		Prompt:    draft.Prompt,
		Response:  draft.Response,
		Timestamp: c.now(),
	}
	c.snap.History = slices.Insert(c.snap.History, 0, entry)
	c.commitLocked("history.add")

	userID := c.mirrorTargetLocked()
	if userID == "" {
		c.mu.Unlock()
		return entry
	}
	result := make(chan domain.HistoryEntry, 1)
	pushed := c.queue.push(mirrorOp{
		op: "history.insert", entityID: entry.ID, userID: userID,
		apply: func(ctx context.Context, m remote.Mirror) error {
			row, err := m.InsertHistory(ctx, remote.NewHistoryRow(userID, entry))
			if err == nil && row.ID == "" {
				err = errors.New("remote insert returned no id")
			}
			if err != nil {
				result <- entry
				return err
			}
			result <- c.confirmHistory(entry, row)
			return nil
		},
	})
	c.mu.Unlock()

	if !pushed {
		return entry
	}
	if confirmed, ok := awaitResult(ctx, c.queue, result); ok {
		return confirmed
	}
	return entry
}

// confirmHistory gives a locally created entry the identity the remote
// assigned it.
func (c *Container) confirmHistory(entry domain.HistoryEntry, row remote.HistoryRow) domain.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	localID := entry.ID
	c.aliases[localID] = row.ID

	i := c.historyIndexLocked(localID)
	if j := c.historyIndexLocked(row.ID); j >= 0 && row.ID != localID {
		// A sync already pulled the remote row.
		if i >= 0 {
			c.snap.History = slices.Delete(c.snap.History, i, i+1)
			c.commitLocked("history.confirm")
		}
		return c.snap.History[c.historyIndexLocked(row.ID)]
	}
	if i < 0 {
		c.logger.Info("history entry gone before remote insert returned",
			"entity_id", localID, "remote_id", row.ID)
		entry.ID = row.ID
		if row.CreatedAt != nil {
			entry.Timestamp = *row.CreatedAt
		}
		return entry
	}

	confirmed := c.snap.History[i]
	confirmed.ID = row.ID
	if row.CreatedAt != nil {
		confirmed.Timestamp = *row.CreatedAt
	}
	c.snap.History[i] = confirmed
	c.commitLocked("history.confirm")
	return confirmed
}

// DeleteHistoryEntry removes one entry locally and queues the remote delete.
func (c *Container) DeleteHistoryEntry(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.historyIndexLocked(id); i >= 0 {
		c.snap.History = slices.Delete(c.snap.History, i, i+1)
		c.commitLocked("history.delete")
	}

	if userID := c.mirrorTargetLocked(); userID != "" {
		c.queue.push(mirrorOp{
			op: "history.delete", entityID: id, userID: userID,
			apply: func(ctx context.Context, m remote.Mirror) error {
				return m.DeleteHistory(ctx, userID, c.remoteID(id))
			},
		})
	}
}

// ClearHistory empties the history locally and queues a remote delete of
// every row owned by the current user.
func (c *Container) ClearHistory(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.snap.History) > 0 {
		c.snap.History = []domain.HistoryEntry{}
		c.commitLocked("history.clear")
	}

	if userID := c.mirrorTargetLocked(); userID != "" {
		c.queue.push(mirrorOp{
			op: "history.clear", userID: userID,
			apply: func(ctx context.Context, m remote.Mirror) error {
				return m.DeleteAllHistory(ctx, userID)
			},
		})
	}
}
