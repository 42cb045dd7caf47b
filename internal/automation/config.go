// Package automation plans and carries out batches of actions on behalf of
// configured automation agents, with a bounded, auditable recovery loop.
package automation

import (
	"sync"
	"time"

	"foreman/internal/event"
	"foreman/internal/planner"
)

// Mode is an automation agent's operating mode. Shadow agents simulate every
// action; paused and retired agents never fire.
type Mode string

const (
	ModeCreated    Mode = "created"
	ModeShadow     Mode = "shadow"
	ModeSupervised Mode = "supervised"
	ModeLive       Mode = "live"
	ModePaused     Mode = "paused"
	ModeRetired    Mode = "retired"
)

// Constraints bound what one run may do.
type Constraints struct {
	MaxTasksPerRun      int      `json:"max_tasks_per_run" yaml:"max_tasks_per_run"`
	MaxRetries          int      `json:"max_retries" yaml:"max_retries"`
	AllowedPriorities   []string `json:"allowed_priorities" yaml:"allowed_priorities"`
	ConfidenceThreshold float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// DefaultConstraints returns conservative run bounds.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxTasksPerRun:      10,
		MaxRetries:          2,
		AllowedPriorities:   []string{"low", "medium", "high"},
		ConfidenceThreshold: 0.7,
	}
}

// TriggerKind selects how trigger eligibility is decided.
type TriggerKind string

const (
	TriggerEvent      TriggerKind = "event"
	TriggerCondition  TriggerKind = "condition"
	TriggerAIEvaluate TriggerKind = "ai_evaluate"
)

// Condition names for condition-kind triggers.
const (
	ConditionOverdueTasksExceed   = "overdue_tasks_exceed"
	ConditionBlockedTasksExceed   = "blocked_tasks_exceed"
	ConditionUserHasNoActiveTasks = "user_has_no_active_tasks"
)

// Trigger decides whether an automation agent should fire for a stimulus.
type Trigger struct {
	Kind TriggerKind `json:"kind" yaml:"kind"`

	// Event-kind fields.
	EventType     event.Type        `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	PayloadEquals map[string]string `json:"payload_equals,omitempty" yaml:"payload_equals,omitempty"`

	// Condition-kind fields.
	Condition string  `json:"condition,omitempty" yaml:"condition,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	UserID    string  `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// Metrics accumulates an agent's lifetime numbers. Shadow runs never touch
// them.
type Metrics struct {
	mu              sync.Mutex
	TotalRuns       int64     `json:"total_runs"`
	SuccessfulRuns  int64     `json:"successful_runs"`
	HoursSavedTotal float64   `json:"hours_saved_total"`
	LastRunAt       time.Time `json:"last_run_at"`
}

// RecordRun folds one live run into the lifetime metrics.
func (m *Metrics) RecordRun(success bool, hoursSaved float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRuns++
	if success {
		m.SuccessfulRuns++
		m.HoursSavedTotal += hoursSaved
	}
	m.LastRunAt = time.Now().UTC()
}

// Snapshot returns a copy safe to serialize.
func (m *Metrics) Snapshot() (total, successful int64, hoursSaved float64, lastRunAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TotalRuns, m.SuccessfulRuns, m.HoursSavedTotal, m.LastRunAt
}

// AgentConfig describes one configured automation agent.
type AgentConfig struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Purpose     string      `json:"purpose" yaml:"purpose"`
	Permissions []string    `json:"permissions" yaml:"permissions"`
	Constraints Constraints `json:"constraints" yaml:"constraints"`
	AIDriven    bool        `json:"ai_driven" yaml:"ai_driven"`
	Mode        Mode        `json:"mode" yaml:"mode"`

	// Actions is the fixed list executed by rule-based (non-AI) agents.
	Actions []planner.Action `json:"actions,omitempty" yaml:"actions,omitempty"`

	Triggers         []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	HoursSavedPerRun float64   `json:"hours_saved_per_run" yaml:"hours_saved_per_run"`
	OrgID            string    `json:"org_id,omitempty" yaml:"org_id,omitempty"`

	Metrics Metrics `json:"metrics" yaml:"-"`
}

// Allowed reports whether the agent's permission allow-list covers an action
// type.
func (c *AgentConfig) Allowed(actionType string) bool {
	for _, p := range c.Permissions {
		if p == actionType {
			return true
		}
	}
	return false
}

// IsShadow reports whether runs must simulate instead of executing.
func (c *AgentConfig) IsShadow() bool {
	return c.Mode == ModeShadow
}

// Eligible reports whether the agent's mode allows it to fire at all.
func (c *AgentConfig) Eligible() bool {
	switch c.Mode {
	case ModeShadow, ModeSupervised, ModeLive:
		return true
	default:
		return false
	}
}

// PriorityAllowed reports whether a create-task priority is on the allow-list.
func (c *AgentConfig) PriorityAllowed(priority string) bool {
	for _, p := range c.Constraints.AllowedPriorities {
		if p == priority {
			return true
		}
	}
	return false
}

// SafePriority returns the coercion target for out-of-range priorities:
// "medium" when allowed, otherwise the first allowed priority.
func (c *AgentConfig) SafePriority() string {
	if c.PriorityAllowed("medium") {
		return "medium"
	}
	if len(c.Constraints.AllowedPriorities) > 0 {
		return c.Constraints.AllowedPriorities[0]
	}
	return "medium"
}
