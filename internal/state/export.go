package state

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/pocketagent/internal/domain"
)

// ExportData renders agents, conversations and history as indented JSON.
// It does not mutate state or touch the remote.
func (c *Container) ExportData() ([]byte, error) {
	c.mu.Lock()
	snap := c.snap.Clone()
	at := c.now()
	c.mu.Unlock()

	data, err := json.MarshalIndent(domain.Export{
		Agents:        snap.Agents,
		Conversations: snap.Conversations,
		History:       snap.History,
		ExportedAt:    at,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return data, nil
}

// ClearAllData empties every collection and turns cloud sync off. The
// onboarding flag and the remote are left alone.
func (c *Container) ClearAllData() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Agents = []domain.Agent{}
	c.snap.Conversations = []domain.Conversation{}
	c.snap.History = []domain.HistoryEntry{}
	c.snap.CloudSyncEnabled = false
	c.commitLocked("data.clear")
}
