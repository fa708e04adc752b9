// PocketAgent remote mirror: a self-hostable store for synced agents and
// run history.
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
	"github.com/ashureev/pocketagent/internal/config"
	"github.com/ashureev/pocketagent/internal/middleware"
	"github.com/ashureev/pocketagent/internal/remote"
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
	if cfg.Mirror.APIKey == "" {
		slog.Warn("MIRROR_API_KEY is empty, the mirror accepts any client")
	}
	if len(cfg.Mirror.UserTokens) == 0 {
		slog.Warn("MIRROR_USER_TOKENS is empty, any apikey holder may act for any user_id")
	}

	tables, err := remote.NewTables(cfg.Mirror.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tables.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.Mirror.DBPath)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	api.NewHealthHandler(map[string]api.Pinger{"database": tables}, 5*time.Second).RegisterHealth(r)
	remote.NewServer(tables, cfg.Mirror.APIKey, logger, remote.WithUserTokens(cfg.Mirror.UserTokens)).RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Mirror.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Mirror listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Mirror failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Mirror forced to shutdown", "error", err)
	}
	slog.Info("Mirror stopped")
}
