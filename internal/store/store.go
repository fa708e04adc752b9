// Package store provides the durable backing for the local state container.
package store

import (
	"context"
)

// DefaultKey is the single record the state snapshot is stored under.
const DefaultKey = "pocketagent-storage"

// KV defines a minimal key-value persistence surface.
type KV interface {
	// Get returns the value stored under key. Missing keys yield an
	// errdefs.ErrNotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the underlying resources.
	Close() error
}

// Pinger is implemented by backings that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
