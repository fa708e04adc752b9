package state

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/remote"
	"github.com/containerd/errdefs"
)

type mirrorCall struct {
	method string
	userID string
	id     string
}

// fakeMirror is an in-memory remote.Mirror. Rows are kept newest first.
type fakeMirror struct {
	mu      sync.Mutex
	agents  []remote.AgentRow
	history []remote.HistoryRow
	calls   []mirrorCall
	seq     int
	created time.Time

	insertErr error
	writeErr  error
	listErr   error

	// Inserts store the row, report its id on inserted and then block
	// until insertGate is closed. Lists report on listing and block until
	// listGate is closed before reading.
	insertGate chan struct{}
	inserted   chan string
	listGate   chan struct{}
	listing    chan struct{}
}

// gateInserts makes inserts hang after storing the row. Closing the
// returned channel releases them.
func (m *fakeMirror) gateInserts() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertGate = make(chan struct{})
	m.inserted = make(chan string, 8)
	return m.insertGate
}

// gateLists makes lists hang before reading rows.
func (m *fakeMirror) gateLists() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listGate = make(chan struct{})
	m.listing = make(chan struct{}, 8)
	return m.listGate
}

func (m *fakeMirror) waitInsert(id string) {
	m.mu.Lock()
	gate, inserted := m.insertGate, m.inserted
	m.mu.Unlock()
	if gate == nil {
		return
	}
	inserted <- id
	<-gate
}

func (m *fakeMirror) waitList() {
	m.mu.Lock()
	gate, listing := m.listGate, m.listing
	m.mu.Unlock()
	if gate == nil {
		return
	}
	listing <- struct{}{}
	<-gate
}

// Rows returns a copy of the stored agent rows.
func (m *fakeMirror) Rows() []remote.AgentRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.agents)
}

// HistoryRows returns a copy of the stored history rows.
func (m *fakeMirror) HistoryRows() []remote.HistoryRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{created: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *fakeMirror) record(method, userID, id string) {
	m.calls = append(m.calls, mirrorCall{method: method, userID: userID, id: id})
}

func (m *fakeMirror) Calls() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *fakeMirror) nextID() (string, time.Time) {
	m.seq++
	return fmt.Sprintf("r-%d", m.seq), m.created.Add(time.Duration(m.seq) * time.Second)
}

func (m *fakeMirror) InsertAgent(_ context.Context, row remote.AgentRow) (remote.AgentRow, error) {
	m.mu.Lock()
	m.record("InsertAgent", row.UserID, row.ID)
	if m.insertErr != nil {
		m.mu.Unlock()
		return remote.AgentRow{}, m.insertErr
	}
	id, at := m.nextID()
	row.ID = id
	row.CreatedAt = &at
	m.agents = slices.Insert(m.agents, 0, row)
	m.mu.Unlock()

	m.waitInsert(id)
	return row, nil
}

func (m *fakeMirror) UpdateAgent(_ context.Context, userID, id string, patch remote.AgentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateAgent", userID, id)
	if m.writeErr != nil {
		return m.writeErr
	}
	for i, row := range m.agents {
		if row.ID != id || row.UserID != userID {
			continue
		}
		if patch.Name != nil {
			row.Name = *patch.Name
		}
		if patch.RunCount != nil {
			row.RunCount = *patch.RunCount
		}
		if patch.LastRunAt != nil {
			at := *patch.LastRunAt
			row.LastRunAt = &at
		}
		m.agents[i] = row
	}
	return nil
}

func (m *fakeMirror) DeleteAgent(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteAgent", userID, id)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.agents = slices.DeleteFunc(m.agents, func(r remote.AgentRow) bool { return r.ID == id && r.UserID == userID })
	return nil
}

func (m *fakeMirror) DeleteAllAgents(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteAllAgents", userID, "")
	if m.writeErr != nil {
		return m.writeErr
	}
	m.agents = slices.DeleteFunc(m.agents, func(r remote.AgentRow) bool { return r.UserID == userID })
	return nil
}

func (m *fakeMirror) ListAgents(_ context.Context, userID string) ([]remote.AgentRow, error) {
	m.waitList()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListAgents", userID, "")
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []remote.AgentRow
	for _, r := range m.agents {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *fakeMirror) InsertHistory(_ context.Context, row remote.HistoryRow) (remote.HistoryRow, error) {
	m.mu.Lock()
	m.record("InsertHistory", row.UserID, row.ID)
	if m.insertErr != nil {
		m.mu.Unlock()
		return remote.HistoryRow{}, m.insertErr
	}
	id, at := m.nextID()
	row.ID = id
	row.CreatedAt = &at
	m.history = slices.Insert(m.history, 0, row)
	m.mu.Unlock()

	m.waitInsert(id)
	return row, nil
}

func (m *fakeMirror) DeleteHistory(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteHistory", userID, id)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.history = slices.DeleteFunc(m.history, func(r remote.HistoryRow) bool { return r.ID == id && r.UserID == userID })
	return nil
}

func (m *fakeMirror) DeleteAllHistory(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteAllHistory", userID, "")
	if m.writeErr != nil {
		return m.writeErr
	}
	m.history = slices.DeleteFunc(m.history, func(r remote.HistoryRow) bool { return r.UserID == userID })
	return nil
}

func (m *fakeMirror) ListHistory(_ context.Context, userID string, limit int) ([]remote.HistoryRow, error) {
	m.waitList()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListHistory", userID, "")
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []remote.HistoryRow
	for _, r := range m.history {
		if r.UserID == userID && (limit <= 0 || len(out) < limit) {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeBacking records every submitted snapshot.
type fakeBacking struct {
	mu      sync.Mutex
	initial *domain.Snapshot
	loadErr error
	submits []domain.Snapshot
}

func (b *fakeBacking) Load(context.Context) (domain.Snapshot, error) {
	if b.loadErr != nil {
		return domain.Snapshot{}, b.loadErr
	}
	if b.initial == nil {
		return domain.Snapshot{}, errdefs.ErrNotFound
	}
	return *b.initial, nil
}

func (b *fakeBacking) Submit(snap domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, snap)
}

func (b *fakeBacking) Last() (domain.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.submits) == 0 {
		return domain.Snapshot{}, false
	}
	return b.submits[len(b.submits)-1], true
}
