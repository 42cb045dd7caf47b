package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/automation"
	"foreman/internal/event"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10000, cfg.Bus.Capacity)
	assert.Equal(t, 3, cfg.Bus.MaxAttempts)
	assert.Equal(t, 1000, cfg.Bus.HistorySize)
	assert.Equal(t, 5, cfg.Orchestrator.MaxChainDepth)
	assert.Equal(t, 512, cfg.Conversations.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.Conversations.TTL)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
bus:
  capacity: 500
ticks:
  - name: overdue-sweep
    spec: "*/15 * * * *"
    priority: high
    payload:
      scope: org-1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 500, cfg.Bus.Capacity)
	assert.Equal(t, 3, cfg.Bus.MaxAttempts, "unset keys keep defaults")
	require.Len(t, cfg.Ticks, 1)
	assert.Equal(t, "overdue-sweep", cfg.Ticks[0].Name)
	assert.Equal(t, "high", cfg.Ticks[0].Priority)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("FOREMAN_LOG_LEVEL", "warn")
	t.Setenv("FOREMAN_BUS_CAPACITY", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 42, cfg.Bus.Capacity)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadAgentManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: auto-1
    name: Overdue Chaser
    purpose: chase overdue tasks
    mode: shadow
    ai_driven: true
    permissions: [add_comment, notify_user]
    constraints:
      max_tasks_per_run: 5
    triggers:
      - kind: event
        event_type: task.overdue
    hours_saved_per_run: 0.25
  - id: auto-2
    name: Standup Collector
`), 0o644))

	agents, err := LoadAgentManifest(path)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	chaser := agents[0]
	assert.Equal(t, automation.ModeShadow, chaser.Mode)
	assert.True(t, chaser.AIDriven)
	assert.Equal(t, 5, chaser.Constraints.MaxTasksPerRun)
	assert.Equal(t, 2, chaser.Constraints.MaxRetries, "unset constraints filled from defaults")
	assert.Equal(t, 0.7, chaser.Constraints.ConfidenceThreshold)
	require.Len(t, chaser.Triggers, 1)
	assert.Equal(t, automation.TriggerEvent, chaser.Triggers[0].Kind)
	assert.Equal(t, event.TypeTaskOverdue, chaser.Triggers[0].EventType)

	collector := agents[1]
	assert.Equal(t, automation.ModeCreated, collector.Mode, "mode defaults to created")
	assert.Equal(t, []string{"low", "medium", "high"}, collector.Constraints.AllowedPriorities)
}

func TestLoadAgentManifestRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: auto-1
    name: One
  - id: auto-1
    name: Two
`), 0o644))

	_, err := LoadAgentManifest(path)
	assert.Error(t, err)
}
