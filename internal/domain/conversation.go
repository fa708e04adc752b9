package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is user or assistant.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single immutable chat turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDraft carries the caller-supplied fields of a new message.
type MessageDraft struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the local-only message log of one agent.
type Conversation struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// LastMessage returns the most recent message, if any.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
