package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ashureev/pocketagent/internal/app"
	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/runner"
	"github.com/containerd/errdefs"
	"github.com/spf13/cobra"
)

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printAgents(agents []domain.Agent) error {
	if c.asJSON {
		return c.printJSON(agents)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTEMPLATE\tRUNS\tLAST RUN")
	for _, a := range agents {
		last := "never"
		if a.LastRunAt != nil {
			last = a.LastRunAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", a.ID, a.Name, a.Template, a.RunCount, last)
	}
	return tw.Flush()
}

func (c *cli) printAgent(a domain.Agent) error {
	if c.asJSON {
		return c.printJSON(a)
	}
	fmt.Fprintf(c.out, "%s  %s (%s)\n", a.ID, a.Name, a.Template)
	if a.Description != "" {
		fmt.Fprintf(c.out, "  %s\n", a.Description)
	}
	fmt.Fprintf(c.out, "  temperature=%.2f maxTokens=%d runs=%d\n", a.Settings.Temperature, a.Settings.MaxTokens, a.RunCount)
	return nil
}

func (c *cli) agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage saved agents",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				return c.printAgents(a.State.Agents())
			})
		},
	}

	var draft domain.AgentDraft
	var template string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			draft.Template = domain.Template(template)
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				agent, err := a.State.AddAgent(ctx, draft)
				if err != nil {
					return err
				}
				return c.printAgent(agent)
			})
		},
	}
	add.Flags().StringVar(&draft.Name, "name", "", "agent name")
	add.Flags().StringVar(&draft.Description, "description", "", "agent description")
	add.Flags().StringVar(&template, "template", string(domain.TemplateSummarizer), "template: "+templateNames())
	add.Flags().StringVar(&draft.Prompt, "prompt", "", "additional instructions")
	add.Flags().Float64Var(&draft.Settings.Temperature, "temperature", domain.DefaultTemperature, "sampling temperature between 0 and 1")
	add.Flags().IntVar(&draft.Settings.MaxTokens, "max-tokens", domain.DefaultMaxTokens, "maximum output tokens")
	_ = add.MarkFlagRequired("name")

	fromTemplate := &cobra.Command{
		Use:   "from-template <template>",
		Short: "Create an agent from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				agent, err := a.State.AddAgentFromTemplate(ctx, domain.Template(args[0]))
				if err != nil {
					return err
				}
				return c.printAgent(agent)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				agent, ok := a.State.GetAgent(args[0])
				if !ok {
					return errdefs.ErrNotFound.WithMessage(fmt.Sprintf("agent %q not found", args[0]))
				}
				return c.printAgent(agent)
			})
		},
	}

	var newName, newDescription, newTemplate, newPrompt string
	var newTemperature float64
	var newMaxTokens int
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an agent's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch domain.AgentPatch
			if flags.Changed("name") {
				patch.Name = &newName
			}
			if flags.Changed("description") {
				patch.Description = &newDescription
			}
			if flags.Changed("template") {
				t := domain.Template(newTemplate)
				patch.Template = &t
			}
			if flags.Changed("prompt") {
				patch.Prompt = &newPrompt
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				agent, ok := a.State.GetAgent(args[0])
				if !ok {
					return errdefs.ErrNotFound.WithMessage(fmt.Sprintf("agent %q not found", args[0]))
				}
				if flags.Changed("temperature") || flags.Changed("max-tokens") {
					settings := agent.Settings
					if flags.Changed("temperature") {
						settings.Temperature = newTemperature
					}
					if flags.Changed("max-tokens") {
						settings.MaxTokens = newMaxTokens
					}
					patch.Settings = &settings
				}
				if err := a.State.UpdateAgent(ctx, args[0], patch); err != nil {
					return err
				}
				agent, _ = a.State.GetAgent(args[0])
				return c.printAgent(agent)
			})
		},
	}
	update.Flags().StringVar(&newName, "name", "", "agent name")
	update.Flags().StringVar(&newDescription, "description", "", "agent description")
	update.Flags().StringVar(&newTemplate, "template", "", "template: "+templateNames())
	update.Flags().StringVar(&newPrompt, "prompt", "", "additional instructions")
	update.Flags().Float64Var(&newTemperature, "temperature", 0, "sampling temperature between 0 and 1")
	update.Flags().IntVar(&newMaxTokens, "max-tokens", 0, "maximum output tokens")

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an agent and its conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.State.DeleteAgent(ctx, args[0])
				fmt.Fprintln(c.out, "deleted", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, fromTemplate, show, update, remove)
	return cmd
}

func templateNames() string {
	names := make([]string, len(domain.Templates))
	for i, t := range domain.Templates {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <agent-id> <input...>",
		Short: "Send input to an agent and print the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args[1:], " ")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.Run(ctx, args[0], input)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(res)
				}
				fmt.Fprintln(c.out, res.Reply.Content)
				return nil
			})
		},
	}
}

func (c *cli) testCmd() *cobra.Command {
	var req runner.TestRequest
	var template string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Try a configuration with a fixed test input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Template = domain.Template(template)
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Runner.Test(ctx, req)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(resp)
				}
				fmt.Fprintln(c.out, resp.Content)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&template, "template", string(domain.TemplateSummarizer), "template: "+templateNames())
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "additional instructions")
	cmd.Flags().Float64Var(&req.Settings.Temperature, "temperature", domain.DefaultTemperature, "sampling temperature")
	cmd.Flags().IntVar(&req.Settings.MaxTokens, "max-tokens", domain.DefaultMaxTokens, "maximum output tokens")
	return cmd
}
