package domain

import (
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentDraftValidate(t *testing.T) {
	valid := AgentDraft{Name: "Digest", Template: TemplateSummarizer, Settings: DefaultSettings()}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*AgentDraft)
	}{
		{"blank name", func(d *AgentDraft) { d.Name = "  " }},
		{"unknown template", func(d *AgentDraft) { d.Template = "poetry" }},
		{"temperature too high", func(d *AgentDraft) { d.Settings.Temperature = 1.2 }},
		{"negative temperature", func(d *AgentDraft) { d.Settings.Temperature = -0.1 }},
		{"zero max tokens", func(d *AgentDraft) { d.Settings.MaxTokens = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}

func TestAgentPatchApply(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := Agent{
		ID:        "a1",
		Name:      "Old",
		Template:  TemplateResearch,
		Settings:  DefaultSettings(),
		CreatedAt: created,
		RunCount:  3,
	}
	name := "New"
	settings := AgentSettings{Temperature: 0.9, MaxTokens: 800}
	p := AgentPatch{Name: &name, Settings: &settings}
	require.False(t, p.IsEmpty())
	require.NoError(t, p.Validate())

	got := p.Apply(a)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, settings, got.Settings)
	assert.Equal(t, TemplateResearch, got.Template)
	assert.Equal(t, 3, got.RunCount)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "Old", a.Name, "apply must not mutate its input")

	assert.True(t, AgentPatch{}.IsEmpty())
	bad := Template("nope")
	assert.Error(t, AgentPatch{Template: &bad}.Validate())
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := Snapshot{
		Agents: []Agent{{ID: "a1"}},
		Conversations: []Conversation{{
			ID:       "c1",
			AgentID:  "a1",
			Messages: []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
		}},
	}
	c := s.Clone()
	c.Agents[0].Name = "changed"
	c.Conversations[0].Messages[0].Content = "changed"

	assert.Empty(t, s.Agents[0].Name)
	assert.Equal(t, "hi", s.Conversations[0].Messages[0].Content)
	assert.NotNil(t, c.History, "clone normalizes nil collections")
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
