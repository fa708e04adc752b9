package state

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/remote"
	"github.com/containerd/errdefs"
)

func (c *Container) agentIndexLocked(id string) int {
	return slices.IndexFunc(c.snap.Agents, func(a domain.Agent) bool { return a.ID == id })
}

// Agents returns the agents in collection order.
func (c *Container) Agents() []domain.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.snap.Agents)
}

// GetAgent returns the agent with id.
func (c *Container) GetAgent(id string) (domain.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.agentIndexLocked(id); i >= 0 {
		return c.snap.Agents[i], true
	}
	return domain.Agent{}, false
}

// AddAgent creates an agent from draft and appends it locally. When cloud
// sync is active the agent is then inserted remotely and, on success, takes
// the remote id and creation time. Remote failure is logged and the agent
// keeps its local identity.
//
// The insert goes through the mirror queue, so updates and deletes issued
// while it is in flight reach the remote after it, addressed by the remote
// id.
func (c *Container) AddAgent(ctx context.Context, draft domain.AgentDraft) (domain.Agent, error) {
	if err := draft.Validate(); err != nil {
		return domain.Agent{}, err
	}

	c.mu.Lock()
	agent := domain.Agent{
		ID:          c.newID(),
		Name:        draft.Name,
		Description: draft.Description,
		Template:    draft.Template,
		Prompt:      draft.Prompt,
		Settings:    draft.Settings,
		CreatedAt:   c.now(),
	}
	c.snap.Agents = append(c.snap.Agents, agent)
	c.commitLocked("agent.add")

	userID := c.mirrorTargetLocked()
	if userID == "" {
		c.mu.Unlock()
		return agent, nil
	}
	result := make(chan domain.Agent, 1)
	pushed := c.queue.push(mirrorOp{
		op: "agent.insert", entityID: agent.ID, userID: userID,
		apply: func(ctx context.Context, m remote.Mirror) error {
			row, err := m.InsertAgent(ctx, remote.NewAgentRow(userID, agent))
			if err == nil && row.ID == "" {
				err = errors.New("remote insert returned no id")
			}
			if err != nil {
				result <- agent
				return err
			}
			result <- c.confirmAgent(agent, row)
			return nil
		},
	})
	c.mu.Unlock()

	if !pushed {
		return agent, nil
	}
	if confirmed, ok := awaitResult(ctx, c.queue, result); ok {
		return confirmed, nil
	}
	return agent, nil
}

// confirmAgent gives a locally created agent the identity the remote
// assigned it. Local references to the old id (conversation, history) move
// to the remote id even when the agent itself was replaced by a sync in the
// meantime.
func (c *Container) confirmAgent(agent domain.Agent, row remote.AgentRow) domain.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	localID := agent.ID
	c.aliases[localID] = row.ID

	i := c.agentIndexLocked(localID)
	if j := c.agentIndexLocked(row.ID); j >= 0 && row.ID != localID {
		// A sync already pulled the remote row.
		if i >= 0 {
			c.snap.Agents = slices.Delete(c.snap.Agents, i, i+1)
		}
		c.rekeyConversationLocked(localID, row.ID)
		c.commitLocked("agent.confirm")
		return c.snap.Agents[c.agentIndexLocked(row.ID)]
	}
	if i < 0 {
		c.logger.Info("agent gone before remote insert returned",
			"entity_id", localID, "remote_id", row.ID)
		if c.rekeyConversationLocked(localID, row.ID) {
			c.commitLocked("agent.confirm")
		}
		agent.ID = row.ID
		if row.CreatedAt != nil {
			agent.CreatedAt = *row.CreatedAt
		}
		return agent
	}

	confirmed := c.snap.Agents[i]
	confirmed.ID = row.ID
	if row.CreatedAt != nil {
		confirmed.CreatedAt = *row.CreatedAt
	}
	c.snap.Agents[i] = confirmed
	c.rekeyConversationLocked(localID, row.ID)
	c.commitLocked("agent.confirm")
	return confirmed
}

// AddAgentFromTemplate creates "My <Template>" with the template's sample
// prompt and default settings.
func (c *Container) AddAgentFromTemplate(ctx context.Context, id domain.Template) (domain.Agent, error) {
	draft, ok := c.catalog.DraftFromTemplate(id)
	if !ok {
		return domain.Agent{}, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown template %q", id))
	}
	return c.AddAgent(ctx, draft)
}

// UpdateAgent merges patch into the agent with id. A missing agent is a
// no-op. The remote update is queued and never blocks or reverts the local
// change.
func (c *Container) UpdateAgent(ctx context.Context, id string, patch domain.AgentPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.agentIndexLocked(id)
	if i < 0 || patch.IsEmpty() {
		return nil
	}
	c.snap.Agents[i] = patch.Apply(c.snap.Agents[i])
	c.commitLocked("agent.update")

	if userID := c.mirrorTargetLocked(); userID != "" {
		rp := remote.NewAgentPatch(patch)
		c.queue.push(mirrorOp{
			op: "agent.update", entityID: id, userID: userID,
			apply: func(ctx context.Context, m remote.Mirror) error {
				return m.UpdateAgent(ctx, userID, c.remoteID(id), rp)
			},
		})
	}
	return nil
}

// RecordRun bumps the run count and last-run time of the agent with id.
func (c *Container) RecordRun(id string) (domain.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.agentIndexLocked(id)
	if i < 0 {
		return domain.Agent{}, false
	}
	at := c.now()
	a := c.snap.Agents[i]
	a.RunCount++
	a.LastRunAt = &at
	c.snap.Agents[i] = a
	c.commitLocked("agent.run")

	if userID := c.mirrorTargetLocked(); userID != "" {
		rp := remote.RunPatch(a.RunCount, at)
		c.queue.push(mirrorOp{
			op: "agent.run", entityID: id, userID: userID,
			apply: func(ctx context.Context, m remote.Mirror) error {
				return m.UpdateAgent(ctx, userID, c.remoteID(id), rp)
			},
		})
	}
	return a, true
}

// DeleteAgent removes the agent with id and its conversation. The remote
// delete is queued whenever sync is active, even if nothing matched
// locally.
func (c *Container) DeleteAgent(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	if i := c.agentIndexLocked(id); i >= 0 {
		c.snap.Agents = slices.Delete(c.snap.Agents, i, i+1)
		changed = true
	}
	if i := c.conversationIndexLocked(id); i >= 0 {
		c.snap.Conversations = slices.Delete(c.snap.Conversations, i, i+1)
		changed = true
	}
	if changed {
		c.commitLocked("agent.delete")
	}

	if userID := c.mirrorTargetLocked(); userID != "" {
		c.queue.push(mirrorOp{
			op: "agent.delete", entityID: id, userID: userID,
			apply: func(ctx context.Context, m remote.Mirror) error {
				return m.DeleteAgent(ctx, userID, c.remoteID(id))
			},
		})
	}
}

// SeedDemoAgents adds the starter agents when there are no agents yet.
func (c *Container) SeedDemoAgents(ctx context.Context) ([]domain.Agent, error) {
	c.seedMu.Lock()
	defer c.seedMu.Unlock()

	c.mu.Lock()
	empty := len(c.snap.Agents) == 0
	c.mu.Unlock()
	if !empty {
		return nil, nil
	}

	var added []domain.Agent
	for _, draft := range c.catalog.DemoAgents() {
		a, err := c.AddAgent(ctx, draft)
		if err != nil {
			return added, fmt.Errorf("seed %q: %w", draft.Name, err)
		}
		added = append(added, a)
	}
	c.logger.Info("seeded demo agents", "count", len(added))
	return added, nil
}

// CompleteOnboarding marks onboarding done and seeds the demo agents.
func (c *Container) CompleteOnboarding(ctx context.Context) ([]domain.Agent, error) {
	c.mu.Lock()
	if !c.snap.HasCompletedOnboarding {
		c.snap.HasCompletedOnboarding = true
		c.commitLocked("onboarding.complete")
	}
	c.mu.Unlock()
	return c.SeedDemoAgents(ctx)
}
