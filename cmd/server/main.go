// PocketAgent local API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/pocketagent/internal/api"
	"github.com/ashureev/pocketagent/internal/app"
	"github.com/ashureev/pocketagent/internal/config"
	"github.com/ashureev/pocketagent/internal/events"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/middleware"
	"github.com/ashureev/pocketagent/internal/state"
	"github.com/ashureev/pocketagent/internal/store"
	"github.com/ashureev/pocketagent/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.Store.Backend,
		"codec", cfg.Store.Codec,
		"llm_provider", cfg.LLM.Provider,
		"remote", cfg.Remote.Enabled(),
		"sync_interval", cfg.Sync.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := events.NewBroker(logger)
	defer broker.Close()

	a, err := app.Open(ctx, cfg, identity.Session{}, []state.CommitHook{broker.Hook()}, logger)
	if err != nil {
		slog.Error("Failed to initialize state", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close state", "error", closeErr)
		}
	}()

	if a.State.Settings().HasCompletedOnboarding {
		if _, err := a.State.SeedDemoAgents(ctx); err != nil {
			slog.Warn("Failed to seed demo agents", "error", err)
		}
	}

	syncDone := a.State.StartAutoSync(ctx, cfg.Sync.Interval)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	checks := map[string]api.Pinger{}
	if p, ok := a.KV.(store.Pinger); ok {
		checks["store"] = p
	}
	healthHandler := api.NewHealthHandler(checks, 5*time.Second)
	apiHandler := api.NewHandler(a.State, a.Runner, a.Catalog, limiter.Limit(identity.ClientKey), logger)
	wsHandler := events.NewHandler(broker, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)
	r.Get("/ws/events", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Websocket streams need no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	broker.Close()
	<-syncDone
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := a.Persister.Flush(shutdownCtx); err != nil {
		slog.Error("Failed to flush state", "error", err)
	}
	slog.Info("Persister stats", "stats", a.Persister.Stats())

	slog.Info("Server stopped successfully")
}
