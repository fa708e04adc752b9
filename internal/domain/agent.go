// Package domain contains core domain types for the PocketAgent store.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
)

// Template is the task type an agent is built on.
type Template string

const (
	TemplateSummarizer   Template = "summarizer"
	TemplateEmailDraft   Template = "email-draft"
	TemplateResearch     Template = "research"
	TemplateMeetingNotes Template = "meeting-notes"
	TemplateTaskPlanner  Template = "task-planner"
)

// Templates lists every template in catalog order.
var Templates = []Template{
	TemplateSummarizer,
	TemplateEmailDraft,
	TemplateResearch,
	TemplateMeetingNotes,
	TemplateTaskPlanner,
}

// Valid reports whether t is one of the known templates.
func (t Template) Valid() bool {
	for _, known := range Templates {
		if t == known {
			return true
		}
	}
	return false
}

// Default agent settings used when a value is missing.
const (
	DefaultTemperature = 0.5
	DefaultMaxTokens   = 500
)

// AgentSettings holds the model parameters of an agent.
type AgentSettings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// DefaultSettings returns the settings used for template-created agents.
func DefaultSettings() AgentSettings {
	return AgentSettings{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
}

// Validate checks the temperature range and token limit.
func (s AgentSettings) Validate() error {
	if s.Temperature < 0 || s.Temperature > 1 {
		return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("temperature %v out of range [0,1]", s.Temperature))
	}
	if s.MaxTokens <= 0 {
		return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("maxTokens must be positive, got %d", s.MaxTokens))
	}
	return nil
}

// Agent is a saved agent configuration.
type Agent struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Template    Template      `json:"template"`
	Prompt      string        `json:"prompt"`
	Settings    AgentSettings `json:"settings"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastRunAt   *time.Time    `json:"lastRunAt,omitempty"`
	RunCount    int           `json:"runCount"`
}

// AgentDraft carries the user-supplied fields of a new agent.
type AgentDraft struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Template    Template      `json:"template"`
	Prompt      string        `json:"prompt"`
	Settings    AgentSettings `json:"settings"`
}

// Validate checks that the draft describes a well-formed agent.
func (d AgentDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errdefs.ErrInvalidArgument.WithMessage("agent name is required")
	}
	if !d.Template.Valid() {
		return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown template %q", d.Template))
	}
	return d.Settings.Validate()
}

// AgentPatch is a partial update of an agent. Nil fields are left unchanged.
// Run bookkeeping (run count, last run) is not patchable.
type AgentPatch struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Template    *Template      `json:"template,omitempty"`
	Prompt      *string        `json:"prompt,omitempty"`
	Settings    *AgentSettings `json:"settings,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p AgentPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Template == nil && p.Prompt == nil && p.Settings == nil
}

// Validate checks the fields present in the patch.
func (p AgentPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return errdefs.ErrInvalidArgument.WithMessage("agent name cannot be empty")
	}
	if p.Template != nil && !p.Template.Valid() {
		return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown template %q", *p.Template))
	}
	if p.Settings != nil {
		return p.Settings.Validate()
	}
	return nil
}

// Apply returns a copy of a with the patch merged in.
func (p AgentPatch) Apply(a Agent) Agent {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Template != nil {
		a.Template = *p.Template
	}
	if p.Prompt != nil {
		a.Prompt = *p.Prompt
	}
	if p.Settings != nil {
		a.Settings = *p.Settings
	}
	return a
}
