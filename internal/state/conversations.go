package state

import (
	"fmt"
	"slices"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/containerd/errdefs"
)

func (c *Container) conversationIndexLocked(agentID string) int {
	return slices.IndexFunc(c.snap.Conversations, func(cv domain.Conversation) bool { return cv.AgentID == agentID })
}

// rekeyConversationLocked moves local references from an agent's local id
// to its remote id once the remote insert is confirmed. If both ids already
// have a conversation they are merged in timestamp order. It reports
// whether anything changed.
func (c *Container) rekeyConversationLocked(from, to string) bool {
	if from == to {
		return false
	}
	changed := false
	if i := c.conversationIndexLocked(from); i >= 0 {
		if j := c.conversationIndexLocked(to); j >= 0 {
			merged := c.snap.Conversations[j]
			merged.Messages = append(slices.Clone(merged.Messages), c.snap.Conversations[i].Messages...)
			slices.SortStableFunc(merged.Messages, func(a, b domain.Message) int {
				return a.Timestamp.Compare(b.Timestamp)
			})
			if c.snap.Conversations[i].CreatedAt.Before(merged.CreatedAt) {
				merged.CreatedAt = c.snap.Conversations[i].CreatedAt
			}
			c.snap.Conversations[j] = merged
			c.snap.Conversations = slices.Delete(c.snap.Conversations, i, i+1)
		} else {
			c.snap.Conversations[i].AgentID = to
		}
		changed = true
	}
	for i := range c.snap.History {
		if c.snap.History[i].AgentID == from {
			c.snap.History[i].AgentID = to
			changed = true
		}
	}
	return changed
}

// Conversation returns the conversation for agentID.
func (c *Container) Conversation(agentID string) (domain.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.conversationIndexLocked(agentID)
	if i < 0 {
		return domain.Conversation{}, false
	}
	cv := c.snap.Conversations[i]
	cv.Messages = slices.Clone(cv.Messages)
	return cv, true
}

// AddMessage appends a message to the conversation for agentID, creating
// the conversation on first use. Conversations never leave the device.
func (c *Container) AddMessage(agentID string, draft domain.MessageDraft) (domain.Message, error) {
	if agentID == "" {
		return domain.Message{}, errdefs.ErrInvalidArgument.WithMessage("agent id is required")
	}
	if !draft.Role.Valid() {
		return domain.Message{}, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown role %q", draft.Role))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	msg := domain.Message{
		ID:        c.newID(),
		Role:      draft.Role,
		Content:   draft.Content,
		Timestamp: now,
	}

	i := c.conversationIndexLocked(agentID)
	if i < 0 {
		c.snap.Conversations = append(c.snap.Conversations, domain.Conversation{
			ID:        c.newID(),
			AgentID:   agentID,
			CreatedAt: now,
		})
		i = len(c.snap.Conversations) - 1
	}
	c.snap.Conversations[i].Messages = append(c.snap.Conversations[i].Messages, msg)
	c.commitLocked("message.add")
	return msg, nil
}

// ClearConversation removes the conversation for agentID, keeping the agent.
func (c *Container) ClearConversation(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.conversationIndexLocked(agentID); i >= 0 {
		c.snap.Conversations = slices.Delete(c.snap.Conversations, i, i+1)
		c.commitLocked("conversation.clear")
	}
}
