// Package runner implements the chat send and agent test flows on top of
// the state container and the generation service.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/llm"
	"github.com/ashureev/pocketagent/internal/safety"
	"github.com/ashureev/pocketagent/internal/state"
	"github.com/containerd/errdefs"
)

// TestInput is the fixed input used to try an agent configuration.
const TestInput = "This is a test input to verify the agent is working correctly."

// Generator produces text for a request. *llm.Service implements it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

var _ Generator = (*llm.Service)(nil)

// Result is the outcome of a successful run.
type Result struct {
	Agent      domain.Agent        `json:"agent"`
	Message    domain.Message      `json:"message"`
	Reply      domain.Message      `json:"reply"`
	History    domain.HistoryEntry `json:"history"`
	TokensUsed int                 `json:"tokensUsed"`
}

// TestRequest is an unsaved agent configuration to try out.
type TestRequest struct {
	Template domain.Template      `json:"template"`
	Prompt   string               `json:"prompt"`
	Settings domain.AgentSettings `json:"settings"`
}

// Runner runs agents against the generator and records the outcome.
type Runner struct {
	state  *state.Container
	gen    Generator
	logger *slog.Logger
}

// New returns a runner.
func New(st *state.Container, gen Generator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{state: st, gen: gen, logger: logger}
}

// Run sends input to the agent with agentID. Blocked input is rejected
// before anything is stored. Once the user message is appended it stays,
// even when generation fails.
func (r *Runner) Run(ctx context.Context, agentID, input string) (*Result, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errdefs.ErrInvalidArgument.WithMessage("input is required")
	}
	agent, ok := r.state.GetAgent(agentID)
	if !ok {
		return nil, errdefs.ErrNotFound.WithMessage(fmt.Sprintf("agent %q not found", agentID))
	}
	if safety.IsBlocked(input) {
		r.logger.Info("blocked run input", "agent_id", agentID)
		return nil, llm.ErrContentBlocked
	}

	msg, err := r.state.AddMessage(agentID, domain.MessageDraft{Role: domain.RoleUser, Content: input})
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	resp, err := r.gen.Generate(ctx, llm.Request{
		Template:     agent.Template,
		Instructions: agent.Prompt,
		Input:        input,
		Temperature:  agent.Settings.Temperature,
		MaxTokens:    agent.Settings.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	reply, err := r.state.AddMessage(agentID, domain.MessageDraft{Role: domain.RoleAssistant, Content: resp.Content})
	if err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	// The agent may have been deleted while generating; the reply still
	// counts as a run for history.
	if updated, ok := r.state.RecordRun(agentID); ok {
		agent = updated
	}

	entry := r.state.AddHistoryEntry(ctx, domain.HistoryDraft{
		AgentID:   agentID,
		AgentName: agent.Name,
		Prompt:    input,
		Response:  resp.Content,
	})

	r.logger.Info("agent run complete",
		"agent_id", agentID,
		"run_count", agent.RunCount,
		"tokens_used", resp.TokensUsed,
	)
	return &Result{
		Agent:      agent,
		Message:    msg,
		Reply:      reply,
		History:    entry,
		TokensUsed: resp.TokensUsed,
	}, nil
}

// Test generates a reply for TestInput with an unsaved configuration. It
// never touches the store.
func (r *Runner) Test(ctx context.Context, req TestRequest) (*llm.Response, error) {
	if !req.Template.Valid() {
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown template %q", req.Template))
	}
	settings := req.Settings
	if settings == (domain.AgentSettings{}) {
		settings = domain.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return r.gen.Generate(ctx, llm.Request{
		Template:     req.Template,
		Instructions: req.Prompt,
		Input:        TestInput,
		Temperature:  settings.Temperature,
		MaxTokens:    settings.MaxTokens,
	})
}
