package domain

import (
	"slices"
	"time"
)

// Snapshot is the persisted subset of the store. The current user is
// deliberately absent: it is re-derived from the auth session at startup.
type Snapshot struct {
	Agents                 []Agent        `json:"agents"`
	Conversations          []Conversation `json:"conversations"`
	History                []HistoryEntry `json:"history"`
	CloudSyncEnabled       bool           `json:"cloudSyncEnabled"`
	HasCompletedOnboarding bool           `json:"hasCompletedOnboarding"`
}

// Normalize replaces nil collections with empty ones so encoded snapshots
// always carry arrays.
func (s Snapshot) Normalize() Snapshot {
	if s.Agents == nil {
		s.Agents = []Agent{}
	}
	if s.Conversations == nil {
		s.Conversations = []Conversation{}
	}
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
	return s
}

// Clone returns a deep copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Agents = slices.Clone(s.Agents)
	out.History = slices.Clone(s.History)
	out.Conversations = make([]Conversation, len(s.Conversations))
	for i, c := range s.Conversations {
		c.Messages = slices.Clone(c.Messages)
		out.Conversations[i] = c
	}
	return out.Normalize()
}

// Export is the downloadable form of the store.
type Export struct {
	Agents        []Agent        `json:"agents"`
	Conversations []Conversation `json:"conversations"`
	History       []HistoryEntry `json:"history"`
	ExportedAt    time.Time      `json:"exportedAt"`
}
