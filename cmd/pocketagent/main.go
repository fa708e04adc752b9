// Command pocketagent manages agents, history and sync from the terminal,
// operating directly on the local store.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/pocketagent/internal/app"
	"github.com/ashureev/pocketagent/internal/config"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/llm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", llm.UserMessage(err))
		os.Exit(1)
	}
}

type cli struct {
	out     io.Writer
	errOut  io.Writer
	envFile string
	verbose bool
	asJSON  bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "pocketagent",
		Short: "Local-first AI agent workspace",
		Long: `pocketagent manages saved AI agents, their conversations and run
history on this device, and mirrors agents and history to a remote store
when cloud sync is enabled.

Configuration comes from the environment (optionally a .env file):
  STORE_BACKEND, DB_PATH, SNAPSHOT_DIR, SNAPSHOT_CODEC
  REMOTE_URL, REMOTE_API_KEY, AUTH_USER_ID, AUTH_ACCESS_TOKEN
  LLM_PROVIDER, LLM_BASE_URL, LLM_API_KEY, LLM_MODEL`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "environment file to load if present")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		c.agentsCmd(),
		c.runCmd(),
		c.testCmd(),
		c.historyCmd(),
		c.templatesCmd(),
		c.syncCmd(),
		c.onboardCmd(),
		c.exportCmd(),
		c.resetCmd(),
	)
	return root
}

func (c *cli) logger() *slog.Logger {
	if !c.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withApp opens the local store for the duration of fn and flushes it
// afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	session := identity.Session{UserID: cfg.Auth.UserID, AccessToken: cfg.Auth.AccessToken}
	a, err := app.Open(ctx, cfg, session, nil, c.logger())
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	if err := a.State.Drain(ctx); err != nil && runErr == nil {
		runErr = err
	}
	if err := a.Persister.Flush(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("save state: %w", err)
	}
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
