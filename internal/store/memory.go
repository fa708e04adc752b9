package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/containerd/errdefs"
)

// MemoryKV is an in-process KV used by tests and ephemeral runs.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
	puts int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errdefs.ErrNotFound.WithMessage(fmt.Sprintf("key %q", key))
	}
	return slices.Clone(v), nil
}

// Put stores a copy of value.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(value)
	m.puts++
	return nil
}

// Puts reports how many writes the store has accepted.
func (m *MemoryKV) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Close is a no-op.
func (m *MemoryKV) Close() error { return nil }
