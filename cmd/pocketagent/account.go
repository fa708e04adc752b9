package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ashureev/pocketagent/internal/app"
	"github.com/spf13/cobra"
)

const previewLen = 60

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-3]) + "..."
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune run history",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				entries := a.State.History()
				if c.asJSON {
					return c.printJSON(entries)
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tAGENT\tWHEN\tPROMPT")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.AgentName, e.Timestamp.Local().Format(time.DateTime), preview(e.Prompt))
				}
				return tw.Flush()
			})
		},
	}

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete one history entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.State.DeleteHistoryEntry(ctx, args[0])
				fmt.Fprintln(c.out, "deleted", args[0])
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.State.ClearHistory(ctx)
				fmt.Fprintln(c.out, "history cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(list, remove, clearCmd)
	return cmd
}

func (c *cli) templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List agent templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				all := a.Catalog.All()
				if c.asJSON {
					return c.printJSON(all)
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
				for _, t := range all {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Name, t.Description)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile with the remote store",
		Long: `sync pushes queued changes and replaces local agents and history with
the remote copy. It requires AUTH_USER_ID, a configured REMOTE_URL and cloud
sync to be enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.State.SyncNow(ctx); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "synced %d agents, %d history entries\n", len(a.State.Agents()), len(a.State.History()))
				return nil
			})
		},
	}

	enable := &cobra.Command{
		Use:   "enable",
		Short: "Turn on cloud sync and reconcile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.State.EnableCloudSync(ctx); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "cloud sync enabled")
				return nil
			})
		},
	}

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Turn off cloud sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				a.State.DisableCloudSync()
				fmt.Fprintln(c.out, "cloud sync disabled")
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show sync settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				s := a.State.Settings()
				if c.asJSON {
					return c.printJSON(s)
				}
				fmt.Fprintf(c.out, "signed in: %t\nuser: %s\nremote configured: %t\ncloud sync: %t\n",
					s.SignedIn, s.UserID, s.RemoteConfigured, s.CloudSyncEnabled)
				return nil
			})
		},
	}

	cmd.AddCommand(enable, disable, status)
	return cmd
}

func (c *cli) onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Complete onboarding and add the demo agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				seeded, err := a.State.CompleteOnboarding(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "onboarding complete, %d demo agents added\n", len(seeded))
				return nil
			})
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSON backup of all local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				data, err := a.State.ExportData()
				if err != nil {
					return err
				}
				if outPath == "" {
					_, err = c.out.Write(append(data, '\n'))
					return err
				}
				if err := os.WriteFile(outPath, data, 0o600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintln(c.out, "exported to", outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (c *cli) resetCmd() *cobra.Command {
	var force, account bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all local data",
		Long: `reset removes every agent, conversation and history entry from this
device. With --account the remote copy for AUTH_USER_ID is deleted as well
and the session is cleared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("refusing to reset without --force")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if account {
					if err := a.State.DeleteAccount(ctx); err != nil {
						return err
					}
					fmt.Fprintln(c.out, "account data deleted")
					return nil
				}
				a.State.ClearAllData()
				fmt.Fprintln(c.out, "local data cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the reset")
	cmd.Flags().BoolVar(&account, "account", false, "also delete remote data and sign out")
	return cmd
}
