// Package state implements the local-first state container: the single
// in-memory authority for agents, conversations, run history and
// settings, persisted through a Backing and optionally mirrored to a
// remote.Mirror.
package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/idgen"
	"github.com/ashureev/pocketagent/internal/remote"
	"github.com/ashureev/pocketagent/internal/templates"
	"github.com/containerd/errdefs"
	"golang.org/x/sync/singleflight"
)

// Backing is the durable store behind the container. Submit must not block.
type Backing interface {
	Load(ctx context.Context) (domain.Snapshot, error)
	Submit(snap domain.Snapshot)
}

// Commit describes one applied mutation. Snapshot is a private copy and
// must be treated as read-only.
type Commit struct {
	Revision uint64
	Op       string
	At       time.Time
	Snapshot domain.Snapshot
}

// CommitHook observes commits. Hooks run while the container is locked, in
// commit order, and must return quickly.
type CommitHook func(Commit)

// Options configures a Container. Every field is optional.
type Options struct {
	Backing  Backing
	Mirror   remote.Mirror
	Sessions *identity.Holder
	Catalog  *templates.Catalog
	NewID    idgen.Func
	Now      func() time.Time
	Logger   *slog.Logger
	Hooks    []CommitHook

	// MirrorTimeout bounds each background mirror call.
	MirrorTimeout time.Duration
}

// Settings is the user-visible settings view.
type Settings struct {
	CloudSyncEnabled       bool   `json:"cloudSyncEnabled"`
	HasCompletedOnboarding bool   `json:"hasCompletedOnboarding"`
	SignedIn               bool   `json:"signedIn"`
	UserID                 string `json:"userId,omitempty"`
	RemoteConfigured       bool   `json:"remoteConfigured"`
}

// Container is the state container. All exported methods are safe for
// concurrent use. The lock is never held across a remote call.
type Container struct {
	mu       sync.Mutex
	snap     domain.Snapshot
	revision uint64
	hooks    []CommitHook

	backing  Backing
	mirror   remote.Mirror
	sessions *identity.Holder
	catalog  *templates.Catalog
	newID    idgen.Func
	now      func() time.Time
	logger   *slog.Logger

	queue     *mirrorQueue
	aliases   map[string]string // local id -> remote id, for queued ops
	reconcile singleflight.Group
	seedMu    sync.Mutex
}

// New builds a container and rehydrates it from the backing. A missing or
// unreadable snapshot starts the container empty instead of failing.
func New(ctx context.Context, opts Options) *Container {
	c := &Container{
		backing:  opts.Backing,
		mirror:   opts.Mirror,
		sessions: opts.Sessions,
		catalog:  opts.Catalog,
		newID:    opts.NewID,
		now:      opts.Now,
		logger:   opts.Logger,
		hooks:    append([]CommitHook(nil), opts.Hooks...),
		aliases:  make(map[string]string),
	}
	if c.sessions == nil {
		c.sessions = identity.NewHolder(identity.Session{})
	}
	if c.catalog == nil {
		c.catalog = templates.Default()
	}
	if c.newID == nil {
		c.newID = idgen.New
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.snap = c.load(ctx)
	c.queue = newMirrorQueue(c.mirror, opts.MirrorTimeout, c.logger)
	return c
}

func (c *Container) load(ctx context.Context) domain.Snapshot {
	empty := domain.Snapshot{}.Normalize()
	if c.backing == nil {
		return empty
	}

	snap, err := c.backing.Load(ctx)
	switch {
	case err == nil:
		c.logger.Info("state rehydrated",
			"agents", len(snap.Agents),
			"conversations", len(snap.Conversations),
			"history", len(snap.History),
		)
		return dedupeAgents(snap.Normalize(), c.logger)
	case errdefs.IsNotFound(err):
		c.logger.Info("no stored state, starting empty")
	default:
		c.logger.Warn("stored state unreadable, starting empty", "error", err)
	}
	return empty
}

// dedupeAgents drops agents whose id was already seen, keeping the first.
func dedupeAgents(s domain.Snapshot, logger *slog.Logger) domain.Snapshot {
	seen := make(map[string]struct{}, len(s.Agents))
	out := s.Agents[:0]
	for _, a := range s.Agents {
		if _, dup := seen[a.ID]; dup {
			logger.Warn("dropping duplicate agent id", "agent_id", a.ID)
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	s.Agents = out
	return s
}

// OnCommit registers a hook for future commits.
func (c *Container) OnCommit(h CommitHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Close waits briefly for queued mirror calls and stops the mirror worker.
// It does not close the backing.
func (c *Container) Close() error {
	c.queue.close()
	return nil
}

// commitLocked publishes the current state to the backing and hooks.
func (c *Container) commitLocked(op string) {
	c.revision++
	snap := c.snap.Clone()
	if c.backing != nil {
		c.backing.Submit(snap)
	}
	commit := Commit{Revision: c.revision, Op: op, At: c.now(), Snapshot: snap}
	for _, h := range c.hooks {
		h(commit)
	}
}

// mirrorTargetLocked returns the user the current mutation should be
// mirrored for, or "" when it stays local.
func (c *Container) mirrorTargetLocked() string {
	if c.mirror == nil || !c.snap.CloudSyncEnabled {
		return ""
	}
	return c.sessions.UserID()
}

// remoteID returns the id the remote knows an entity by. Ops queued before
// an insert was confirmed still carry the local id.
func (c *Container) remoteID(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.aliases[id]; ok {
		return r
	}
	return id
}

// Snapshot returns a copy of the persisted fields.
func (c *Container) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Revision returns the number of commits applied since start.
func (c *Container) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Settings returns the current settings view.
func (c *Container) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions.Current()
	return Settings{
		CloudSyncEnabled:       c.snap.CloudSyncEnabled,
		HasCompletedOnboarding: c.snap.HasCompletedOnboarding,
		SignedIn:               s.Valid(),
		UserID:                 s.UserID,
		RemoteConfigured:       c.mirror != nil,
	}
}

// Drain waits until every mirror call queued so far has completed.
func (c *Container) Drain(ctx context.Context) error {
	return c.queue.drain(ctx)
}
