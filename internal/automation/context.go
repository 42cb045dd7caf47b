package automation

import (
	"context"
	"time"

	"foreman/internal/agent"
)

// BlockedTask summarizes a blocked task for planning context.
type BlockedTask struct {
	TaskID             string `json:"task_id"`
	Title              string `json:"title"`
	BlockerType        string `json:"blocker_type"`
	BlockerDescription string `json:"blocker_description"`
}

// RunSummary condenses a past run for planning context.
type RunSummary struct {
	RunID            string    `json:"run_id"`
	Status           RunStatus `json:"status"`
	CompletedAt      time.Time `json:"completed_at"`
	ActionsAttempted int       `json:"actions_attempted"`
	ActionsSucceeded int       `json:"actions_succeeded"`
}

// WorkspaceContext is the snapshot an AI-driven run plans against.
type WorkspaceContext struct {
	TasksByStatus     map[string]int   `json:"tasks_by_status,omitempty"`
	Overdue           []agent.TaskView `json:"overdue,omitempty"`
	Blocked           []BlockedTask    `json:"blocked,omitempty"`
	RecentCompletions []string         `json:"recent_completions,omitempty"`
	Workload          map[string]int   `json:"workload,omitempty"`
	RecentRuns        []RunSummary     `json:"recent_runs,omitempty"`
}

// Map flattens the snapshot for planner prompts.
func (w *WorkspaceContext) Map() map[string]any {
	if w == nil {
		return map[string]any{}
	}
	return map[string]any{
		"tasks_by_status":    w.TasksByStatus,
		"overdue":            w.Overdue,
		"blocked":            w.Blocked,
		"recent_completions": w.RecentCompletions,
		"workload":           w.Workload,
		"recent_runs":        w.RecentRuns,
	}
}

// ActiveTaskCount reports how many tasks a user currently holds.
func (w *WorkspaceContext) ActiveTaskCount(userID string) int {
	if w == nil {
		return 0
	}
	return w.Workload[userID]
}

// ContextGatherer assembles the workspace snapshot for an org.
type ContextGatherer interface {
	Gather(ctx context.Context, orgID string) (*WorkspaceContext, error)
}

// GathererFunc adapts a func to ContextGatherer.
type GathererFunc func(ctx context.Context, orgID string) (*WorkspaceContext, error)

func (f GathererFunc) Gather(ctx context.Context, orgID string) (*WorkspaceContext, error) {
	return f(ctx, orgID)
}
