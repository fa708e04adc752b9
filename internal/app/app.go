// Package app wires configuration into a running state container shared by
// the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/pocketagent/internal/config"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/llm"
	"github.com/ashureev/pocketagent/internal/remote"
	"github.com/ashureev/pocketagent/internal/runner"
	"github.com/ashureev/pocketagent/internal/state"
	"github.com/ashureev/pocketagent/internal/store"
	"github.com/ashureev/pocketagent/internal/templates"
)

// App holds the long-lived components.
type App struct {
	KV        store.KV
	Persister *store.Persister
	Sessions  *identity.Holder
	Mirror    remote.Mirror
	Catalog   *templates.Catalog
	State     *state.Container
	LLM       *llm.Service
	Runner    *runner.Runner

	logger *slog.Logger
}

// OpenKV opens the configured local key-value backing.
func OpenKV(cfg config.StoreConfig) (store.KV, error) {
	switch cfg.Backend {
	case config.StoreFile:
		return store.NewFile(cfg.SnapshotDir)
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite, "":
		return store.NewSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Open builds every component from cfg and rehydrates state. session may
// be empty; a signed-in session with cloud sync on reconciles before Open
// returns. A missing LLM key leaves generation unavailable rather than
// failing startup.
func Open(ctx context.Context, cfg *config.Config, session identity.Session, hooks []state.CommitHook, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := OpenKV(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	codec, err := store.CodecByName(cfg.Store.Codec)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	persister := store.NewPersister(store.NewSnapshotStore(kv, codec, store.DefaultKey), logger)

	a := &App{
		KV:        kv,
		Persister: persister,
		Sessions:  identity.NewHolder(session),
		Catalog:   templates.Default(),
		logger:    logger,
	}

	if cfg.Remote.Enabled() {
		a.Mirror = remote.NewClient(cfg.Remote.URL, cfg.Remote.APIKey, remote.WithToken(a.Sessions.Token))
		logger.Info("remote mirror configured", "url", cfg.Remote.URL)
	}

	a.State = state.New(ctx, state.Options{
		Backing:  persister,
		Mirror:   a.Mirror,
		Sessions: a.Sessions,
		Catalog:  a.Catalog,
		Logger:   logger,
		Hooks:    hooks,
	})

	// A session present at startup counts as a sign-in.
	if session.Valid() && a.State.Settings().CloudSyncEnabled {
		if err := a.State.Reconcile(ctx); err != nil {
			logger.Warn("startup reconcile failed, continuing with local state", "user_id", session.UserID, "error", err)
		}
	}

	backend, err := llm.NewBackend(ctx, llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		logger.Warn("generation disabled", "provider", cfg.LLM.Provider, "error", err)
		backend = nil
	}
	a.LLM = llm.NewService(backend, a.Catalog, logger)
	a.Runner = runner.New(a.State, a.LLM, logger)

	return a, nil
}

// Close stops background mirroring, flushes pending writes and closes the
// backing.
func (a *App) Close() error {
	stateErr := a.State.Close()
	persistErr := a.Persister.Close()
	kvErr := a.KV.Close()
	return errors.Join(stateErr, persistErr, kvErr)
}
