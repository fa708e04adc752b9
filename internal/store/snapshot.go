package store

import (
	"context"
	"fmt"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/containerd/errdefs"
)

// SnapshotStore reads and writes the state snapshot as one KV record.
type SnapshotStore struct {
	kv    KV
	codec Codec
	key   string
}

// NewSnapshotStore wraps kv. A nil codec selects JSON; an empty key
// selects DefaultKey.
func NewSnapshotStore(kv KV, codec Codec, key string) *SnapshotStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	if key == "" {
		key = DefaultKey
	}
	return &SnapshotStore{kv: kv, codec: codec, key: key}
}

// Load reads the snapshot. A missing record yields errdefs.ErrNotFound and
// an undecodable one yields errdefs.ErrDataLoss.
func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(data) == 0 {
		return domain.Snapshot{}, errdefs.ErrNotFound.WithMessage(fmt.Sprintf("empty record %q", s.key))
	}

	var snap domain.Snapshot
	if err := s.codec.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: decode %s snapshot: %v", errdefs.ErrDataLoss, s.codec.Name(), err)
	}
	return snap.Normalize(), nil
}

// Save writes snap, replacing whatever was stored.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := s.codec.Marshal(snap.Normalize())
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", s.codec.Name(), err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
