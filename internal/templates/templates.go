// Package templates holds the built-in agent template catalog and the demo
// agents offered to first-time users.
package templates

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ashureev/pocketagent/internal/domain"
	"gopkg.in/yaml.v3"
)

// FallbackSystemPrompt is used for templates without a system prompt.
const FallbackSystemPrompt = "You are a helpful AI assistant."

//go:embed catalog.yaml
var catalogYAML []byte

// Info describes one template.
type Info struct {
	ID           domain.Template `yaml:"id" json:"id"`
	Name         string          `yaml:"name" json:"name"`
	Description  string          `yaml:"description" json:"description"`
	Icon         string          `yaml:"icon" json:"icon"`
	SamplePrompt string          `yaml:"samplePrompt" json:"samplePrompt"`
	SampleOutput string          `yaml:"sampleOutput" json:"sampleOutput"`
	SystemPrompt string          `yaml:"systemPrompt" json:"-"`
}

type demoAgent struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Template    domain.Template `yaml:"template"`
	Prompt      string          `yaml:"prompt"`
	Settings    struct {
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"maxTokens"`
	} `yaml:"settings"`
}

// Catalog is a parsed template catalog.
type Catalog struct {
	templates []Info
	byID      map[domain.Template]Info
	demos     []domain.AgentDraft
}

// Parse decodes a YAML catalog and checks that every template and demo
// agent is well formed.
func Parse(data []byte) (*Catalog, error) {
	var raw struct {
		Templates  []Info      `yaml:"templates"`
		DemoAgents []demoAgent `yaml:"demoAgents"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{byID: make(map[domain.Template]Info, len(raw.Templates))}
	for _, t := range raw.Templates {
		if !t.ID.Valid() {
			return nil, fmt.Errorf("catalog: unknown template %q", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate template %q", t.ID)
		}
		t.SystemPrompt = strings.TrimSpace(t.SystemPrompt)
		c.templates = append(c.templates, t)
		c.byID[t.ID] = t
	}

	for _, d := range raw.DemoAgents {
		draft := domain.AgentDraft{
			Name:        d.Name,
			Description: d.Description,
			Template:    d.Template,
			Prompt:      strings.TrimSpace(d.Prompt),
			Settings: domain.AgentSettings{
				Temperature: d.Settings.Temperature,
				MaxTokens:   d.Settings.MaxTokens,
			},
		}
		if err := draft.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: demo agent %q: %w", d.Name, err)
		}
		c.demos = append(c.demos, draft)
	}
	return c, nil
}

var defaultCatalog = mustParse(catalogYAML)

func mustParse(data []byte) *Catalog {
	c, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the embedded catalog.
func Default() *Catalog { return defaultCatalog }

// All returns the templates in catalog order.
func (c *Catalog) All() []Info {
	out := make([]Info, len(c.templates))
	copy(out, c.templates)
	return out
}

// Get looks up a template by id.
func (c *Catalog) Get(id domain.Template) (Info, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// SystemPrompt composes the system prompt for a template, appending the
// agent's own instructions when present.
func (c *Catalog) SystemPrompt(id domain.Template, instructions string) string {
	base := FallbackSystemPrompt
	if t, ok := c.byID[id]; ok && t.SystemPrompt != "" {
		base = t.SystemPrompt
	}
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		return base + "\n\nAdditional instructions: " + instructions
	}
	return base
}

// DraftFromTemplate returns the agent a user gets when picking a template
// from the gallery.
func (c *Catalog) DraftFromTemplate(id domain.Template) (domain.AgentDraft, bool) {
	t, ok := c.byID[id]
	if !ok {
		return domain.AgentDraft{}, false
	}
	return domain.AgentDraft{
		Name:        "My " + t.Name,
		Description: t.Description,
		Template:    t.ID,
		Prompt:      t.SamplePrompt,
		Settings:    domain.DefaultSettings(),
	}, true
}

// DemoAgents returns the starter agents seeded after onboarding.
func (c *Catalog) DemoAgents() []domain.AgentDraft {
	out := make([]domain.AgentDraft, len(c.demos))
	copy(out, c.demos)
	return out
}
