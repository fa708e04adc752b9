package domain

import (
	"time"
)

// HistoryEntry records one completed run. AgentName is captured at run
// time so the entry survives renames and deletion of its agent.
type HistoryEntry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryDraft carries the fields of a new history entry.
type HistoryDraft struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
}
