// Package agents holds the concrete coordination agents shipped with the
// service. Each one embeds agent.Base and overrides the hooks it needs.
package agents

import (
	"context"
	"fmt"

	"foreman/internal/agent"
	"foreman/internal/event"
	"foreman/internal/logging"
	"foreman/internal/planner"
)

// UnblockAgent responds to blocked tasks: it asks the planner for a
// resolution strategy and turns the answer into suggested actions. It never
// mutates the workspace itself; suggestions flow back through the result.
type UnblockAgent struct {
	agent.Base

	planner planner.Planner
	logger  logging.Logger
}

func NewUnblockAgent(p planner.Planner, logger logging.Logger) *UnblockAgent {
	desc := agent.NewDescriptor("unblock_agent")
	desc.Description = "suggests resolution strategies for blocked tasks"
	desc.Capabilities = []string{"task_unblock"}
	desc.HandledEvents = []event.Type{event.TypeTaskBlocked}
	return &UnblockAgent{
		Base:    agent.NewBase(desc),
		planner: p,
		logger:  logging.OrNop(logger),
	}
}

// Validate requires the blocked task to be identified.
func (a *UnblockAgent) Validate(ctx context.Context, actx *agent.Context) error {
	if actx == nil || actx.Event == nil {
		return fmt.Errorf("unblock agent requires an event")
	}
	if actx.Event.PayloadString("task_id") == "" && (actx.Task == nil || actx.Task.ID == "") {
		return fmt.Errorf("blocked event carries no task_id")
	}
	return nil
}

func (a *UnblockAgent) Execute(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
	e := actx.Event
	taskID := e.PayloadString("task_id")
	blockerType := e.PayloadString("blocker_type")
	blockerDesc := e.PayloadString("blocker_description")
	if taskID == "" && actx.Task != nil {
		taskID = actx.Task.ID
	}

	result := agent.NewResult(a.Desc.Name)
	result.EventID = e.ID

	sp := a.planStrategy(ctx, taskID, blockerType, blockerDesc)
	escalate := sp.Strategy == planner.StrategyEscalate || len(sp.Actions) == 0

	suggestions := sp.Actions
	if len(suggestions) == 0 {
		suggestions = []planner.Action{{
			Type: "add_comment",
			Params: map[string]any{
				"task_id": taskID,
				"body":    fmt.Sprintf("This task is blocked (%s) and needs a human decision: %s", blockerType, blockerDesc),
			},
		}}
	}
	for _, act := range suggestions {
		result.AddAction(agent.ActionRecord{
			Type:    act.Type,
			Params:  act.Params,
			Success: true,
			Output:  map[string]any{"suggested": true},
		})
	}

	result.Success = true
	result.Message = a.describeStrategy(sp, taskID, escalate)
	result.SetOutput("task_id", taskID)
	result.SetOutput("strategy", string(sp.Strategy))
	result.SetOutput("escalation_recommended", escalate)
	if sp.Reasoning != "" {
		result.SetOutput("reasoning", sp.Reasoning)
	}
	result.Complete()
	return result, nil
}

// planStrategy degrades to escalation when no planner is wired or planning
// fails, so a blocked task never goes unanswered.
func (a *UnblockAgent) planStrategy(ctx context.Context, taskID, blockerType, blockerDesc string) *planner.StrategyPlan {
	fallback := &planner.StrategyPlan{
		Strategy:  planner.StrategyEscalate,
		Reasoning: "no resolution strategy available",
	}
	if a.planner == nil {
		return fallback
	}
	sp, err := a.planner.PlanTaskStrategy(ctx, planner.StrategyRequest{
		TaskContext: map[string]any{
			"task_id":             taskID,
			"blocker_type":        blockerType,
			"blocker_description": blockerDesc,
		},
	})
	if err != nil || sp == nil {
		a.logger.Warn("unblock: strategy planning for task %s failed: %v", taskID, err)
		return fallback
	}
	return sp
}

func (a *UnblockAgent) describeStrategy(sp *planner.StrategyPlan, taskID string, escalate bool) string {
	switch {
	case escalate:
		return fmt.Sprintf("Task %s needs a human decision; I have left a comment explaining the blocker.", taskID)
	case sp.Strategy == planner.StrategyDecompose:
		return fmt.Sprintf("Task %s looks decomposable; I suggest splitting it into %d smaller steps.", taskID, len(sp.Actions))
	case sp.Strategy == planner.StrategyReassign:
		return fmt.Sprintf("Task %s may move faster with a different owner; reassignment suggested.", taskID)
	default:
		return fmt.Sprintf("I found a possible way to unblock task %s and suggested %d action(s).", taskID, len(sp.Actions))
	}
}
