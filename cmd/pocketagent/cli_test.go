package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("SNAPSHOT_DIR", filepath.Join(dir, "snapshots"))
	t.Setenv("SNAPSHOT_CODEC", "json")
	t.Setenv("LLM_PROVIDER", "gateway")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("REMOTE_URL", "")
	t.Setenv("AUTH_USER_ID", "")
	t.Setenv("AUTH_ACCESS_TOKEN", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func listAgents(t *testing.T) []domain.Agent {
	t.Helper()
	out, err := execute(t, "--json", "agents", "list")
	require.NoError(t, err)
	var agents []domain.Agent
	require.NoError(t, json.Unmarshal([]byte(out), &agents))
	return agents
}

func TestAgentsPersistBetweenInvocations(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "agents", "add", "--name", "Digest", "--template", "research", "--prompt", "cite sources")
	require.NoError(t, err)
	assert.Contains(t, out, "Digest (research)")

	_, err = execute(t, "agents", "from-template", "email-draft")
	require.NoError(t, err)

	agents := listAgents(t)
	require.Len(t, agents, 2)
	assert.Equal(t, "Digest", agents[0].Name)
	assert.Equal(t, "cite sources", agents[0].Prompt)
	assert.Equal(t, domain.DefaultSettings(), agents[0].Settings)
	assert.Equal(t, "My Email Draft", agents[1].Name)

	_, err = execute(t, "agents", "update", agents[0].ID, "--name", "Daily Digest", "--max-tokens", "800")
	require.NoError(t, err)

	agents = listAgents(t)
	assert.Equal(t, "Daily Digest", agents[0].Name)
	assert.Equal(t, 800, agents[0].Settings.MaxTokens)
	assert.Equal(t, domain.DefaultTemperature, agents[0].Settings.Temperature)

	_, err = execute(t, "agents", "delete", agents[1].ID)
	require.NoError(t, err)
	assert.Len(t, listAgents(t), 1)
}

func TestAgentsAddRejectsInvalidDraft(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "agents", "add", "--name", "X", "--template", "poetry")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = execute(t, "agents", "add", "--name", "X", "--temperature", "1.5")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))

	assert.Empty(t, listAgents(t))
}

func TestAgentsShowMissing(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "agents", "show", "nope")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRunWithoutProviderKeyIsUnavailable(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "--json", "agents", "from-template", "summarizer")
	require.NoError(t, err)
	var agent domain.Agent
	require.NoError(t, json.Unmarshal([]byte(out), &agent))

	_, err = execute(t, "run", agent.ID, "hello", "there")
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestOnboardSeedsOnce(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "onboard")
	require.NoError(t, err)
	assert.Contains(t, out, "onboarding complete")
	seeded := len(listAgents(t))
	assert.Positive(t, seeded)

	_, err = execute(t, "onboard")
	require.NoError(t, err)
	assert.Len(t, listAgents(t), seeded)
}

func TestExportAndReset(t *testing.T) {
	dir := setupEnv(t)

	_, err := execute(t, "agents", "from-template", "task-planner")
	require.NoError(t, err)

	path := filepath.Join(dir, "backup.json")
	_, err = execute(t, "export", "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var exported domain.Export
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Len(t, exported.Agents, 1)

	_, err = execute(t, "reset")
	require.Error(t, err)
	assert.Len(t, listAgents(t), 1)

	out, err := execute(t, "reset", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "local data cleared")
	assert.Empty(t, listAgents(t))
}

func TestSyncRequiresSession(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.True(t, errdefs.IsUnauthorized(err))

	out, err := execute(t, "sync", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in: false")
}

func TestTemplatesList(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "templates")
	require.NoError(t, err)
	for _, tmpl := range domain.Templates {
		assert.Contains(t, out, string(tmpl))
	}
}
