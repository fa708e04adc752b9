package state

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/remote"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// releaseOnCleanup closes gate once, at the latest when the test ends, so a
// failed assertion never leaves a mirror call hanging.
func releaseOnCleanup(t *testing.T, gate chan struct{}) func() {
	t.Helper()
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func steppingClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

// addAgentAsync starts AddAgent and returns the local id plus the remote id
// the mirror assigned, once the remote insert is in flight.
func (h *harness) addAgentAsync(t *testing.T, name string) (localID, remoteID string, done <-chan domain.Agent) {
	t.Helper()
	out := make(chan domain.Agent, 1)
	go func() {
		a, err := h.c.AddAgent(context.Background(), draft(name))
		assert.NoError(t, err)
		out <- a
	}()
	remoteID = <-h.mirror.inserted
	agents := h.c.Agents()
	require.Len(t, agents, 1)
	return agents[0].ID, remoteID, out
}

func (h *harness) addHistoryAsync(t *testing.T) (localID, remoteID string, done <-chan domain.HistoryEntry) {
	t.Helper()
	out := make(chan domain.HistoryEntry, 1)
	go func() {
		out <- h.c.AddHistoryEntry(context.Background(), domain.HistoryDraft{AgentID: "a1", AgentName: "X", Prompt: "p", Response: "r"})
	}()
	remoteID = <-h.mirror.inserted
	history := h.c.History()
	require.Len(t, history, 1)
	return history[0].ID, remoteID, out
}

func TestEditDuringRemoteInsertReachesRemote(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signedInWithSync(t)
	release := releaseOnCleanup(t, h.mirror.gateInserts())

	localID, remoteID, done := h.addAgentAsync(t, "Orig")
	require.NotEqual(t, localID, remoteID)

	name := "Edited"
	require.NoError(t, h.c.UpdateAgent(ctx, localID, domain.AgentPatch{Name: &name}))
	_, ok := h.c.RecordRun(localID)
	require.True(t, ok)
	release()

	a := <-done
	assert.Equal(t, remoteID, a.ID)
	assert.Equal(t, "Edited", a.Name)
	assert.Equal(t, 1, a.RunCount)

	require.NoError(t, h.c.Drain(ctx))
	rows := h.mirror.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, remoteID, rows[0].ID)
	assert.Equal(t, "Edited", rows[0].Name)
	assert.Equal(t, 1, rows[0].RunCount)

	require.NoError(t, h.c.Reconcile(ctx))
	agents := h.c.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, remoteID, agents[0].ID)
	assert.Equal(t, "Edited", agents[0].Name)
}

func TestDeleteDuringRemoteInsertReachesRemote(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signedInWithSync(t)
	release := releaseOnCleanup(t, h.mirror.gateInserts())

	localID, remoteID, done := h.addAgentAsync(t, "Short lived")
	h.c.DeleteAgent(ctx, localID)
	release()

	a := <-done
	assert.Equal(t, remoteID, a.ID)
	_, ok := h.c.GetAgent(remoteID)
	assert.False(t, ok)

	require.NoError(t, h.c.Drain(ctx))
	assert.Empty(t, h.mirror.Rows())

	require.NoError(t, h.c.Reconcile(ctx))
	assert.Empty(t, h.c.Agents())
}

func TestSyncDuringRemoteInsertMergesConversation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signedInWithSync(t)
	h.c.now = steppingClock(fixedNow)
	release := releaseOnCleanup(t, h.mirror.gateInserts())

	localID, remoteID, done := h.addAgentAsync(t, "Pulled early")
	_, err := h.c.AddMessage(localID, domain.MessageDraft{Role: domain.RoleUser, Content: "before sync"})
	require.NoError(t, err)

	require.NoError(t, h.c.SyncAgentsFromCloud(ctx))
	_, err = h.c.AddMessage(remoteID, domain.MessageDraft{Role: domain.RoleAssistant, Content: "after sync"})
	require.NoError(t, err)
	release()

	a := <-done
	assert.Equal(t, remoteID, a.ID)

	agents := h.c.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, remoteID, agents[0].ID)

	_, ok := h.c.Conversation(localID)
	assert.False(t, ok)
	cv, ok := h.c.Conversation(remoteID)
	require.True(t, ok)
	require.Len(t, cv.Messages, 2)
	assert.Equal(t, "before sync", cv.Messages[0].Content)
	assert.Equal(t, "after sync", cv.Messages[1].Content)
	assert.Len(t, h.c.Snapshot().Conversations, 1)
}

func TestHistoryDeleteDuringRemoteInsertReachesRemote(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signedInWithSync(t)
	release := releaseOnCleanup(t, h.mirror.gateInserts())

	localID, remoteID, done := h.addHistoryAsync(t)
	h.c.DeleteHistoryEntry(ctx, localID)
	release()

	e := <-done
	assert.Equal(t, remoteID, e.ID)
	assert.Empty(t, h.c.History())

	require.NoError(t, h.c.Drain(ctx))
	assert.Empty(t, h.mirror.HistoryRows())
}

func TestHistorySyncDuringRemoteInsertKeepsOneEntry(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signedInWithSync(t)
	release := releaseOnCleanup(t, h.mirror.gateInserts())

	_, remoteID, done := h.addHistoryAsync(t)
	require.NoError(t, h.c.SyncHistoryFromCloud(ctx))
	release()

	e := <-done
	assert.Equal(t, remoteID, e.ID)
	history := h.c.History()
	require.Len(t, history, 1)
	assert.Equal(t, remoteID, history[0].ID)
}

func TestAgentSyncDiscardedAfterSignOut(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.c.SetSession(ctx, identity.Session{UserID: "u1"}))
	_, err := h.c.AddAgent(ctx, draft("Mine"))
	require.NoError(t, err)
	_, err = h.mirror.InsertAgent(ctx, remote.NewAgentRow("u1", domain.Agent{Name: "Theirs", Template: domain.TemplateEmailDraft}))
	require.NoError(t, err)

	release := releaseOnCleanup(t, h.mirror.gateLists())
	errs := make(chan error, 1)
	go func() { errs <- h.c.SyncAgentsFromCloud(ctx) }()
	<-h.mirror.listing
	h.c.ClearSession()
	release()

	require.NoError(t, <-errs)
	agents := h.c.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, "Mine", agents[0].Name)
}

func TestHistorySyncDiscardedAfterSignOut(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.c.SetSession(ctx, identity.Session{UserID: "u1"}))
	mine := h.c.AddHistoryEntry(ctx, domain.HistoryDraft{AgentID: "a1", AgentName: "Mine", Prompt: "p", Response: "r"})
	_, err := h.mirror.InsertHistory(ctx, remote.NewHistoryRow("u1", domain.HistoryEntry{AgentID: "a2", AgentName: "Theirs"}))
	require.NoError(t, err)

	release := releaseOnCleanup(t, h.mirror.gateLists())
	errs := make(chan error, 1)
	go func() { errs <- h.c.SyncHistoryFromCloud(ctx) }()
	<-h.mirror.listing
	h.c.ClearSession()
	release()

	require.NoError(t, <-errs)
	history := h.c.History()
	require.Len(t, history, 1)
	assert.Equal(t, mine.ID, history[0].ID)
}

func TestDisableCloudSyncStopsMirroring(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signedInWithSync(t)

	h.c.DisableCloudSync()
	assert.False(t, h.c.Settings().CloudSyncEnabled)
	h.c.DisableCloudSync()

	_, err := h.c.AddAgent(ctx, draft("Offline"))
	require.NoError(t, err)
	h.c.AddHistoryEntry(ctx, domain.HistoryDraft{AgentID: "a1", AgentName: "Offline", Prompt: "p", Response: "r"})
	require.NoError(t, h.c.Drain(ctx))

	for _, call := range h.mirror.Calls() {
		assert.NotContains(t, []string{"InsertAgent", "InsertHistory"}, call.method)
	}
	assert.True(t, errdefs.IsFailedPrecondition(h.c.SyncNow(ctx)))
}
