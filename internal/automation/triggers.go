package automation

import (
	"context"

	"foreman/internal/event"
	"foreman/internal/planner"
)

// EvaluateTriggers decides whether an agent should fire for a stimulus. An
// agent with no triggers always fires; otherwise any one matching trigger is
// enough. The event may be nil for purely scheduled evaluation.
func (x *Executor) EvaluateTriggers(ctx context.Context, cfg *AgentConfig, e *event.Event) (bool, error) {
	if !cfg.Eligible() {
		return false, nil
	}
	if len(cfg.Triggers) == 0 {
		return true, nil
	}
	for _, t := range cfg.Triggers {
		fire, err := x.evaluateTrigger(ctx, cfg, t, e)
		if err != nil {
			x.logger.Warn("automation: agent %s trigger %s evaluation failed: %v", cfg.ID, t.Kind, err)
			continue
		}
		if fire {
			return true, nil
		}
	}
	return false, nil
}

func (x *Executor) evaluateTrigger(ctx context.Context, cfg *AgentConfig, t Trigger, e *event.Event) (bool, error) {
	switch t.Kind {
	case TriggerEvent:
		return matchEventTrigger(t, e), nil
	case TriggerCondition:
		return x.evaluateCondition(ctx, cfg, t), nil
	case TriggerAIEvaluate:
		return x.evaluateAI(ctx, cfg, t, e)
	default:
		x.logger.Warn("automation: agent %s has unknown trigger kind %q", cfg.ID, t.Kind)
		return false, nil
	}
}

func matchEventTrigger(t Trigger, e *event.Event) bool {
	if e == nil || e.Type != t.EventType {
		return false
	}
	for key, want := range t.PayloadEquals {
		if e.PayloadString(key) != want {
			return false
		}
	}
	return true
}

func (x *Executor) evaluateCondition(ctx context.Context, cfg *AgentConfig, t Trigger) bool {
	wctx := x.gather(ctx, cfg)
	switch t.Condition {
	case ConditionOverdueTasksExceed:
		return float64(len(wctx.Overdue)) > t.Threshold
	case ConditionBlockedTasksExceed:
		return float64(len(wctx.Blocked)) > t.Threshold
	case ConditionUserHasNoActiveTasks:
		return wctx.ActiveTaskCount(t.UserID) == 0
	default:
		x.logger.Warn("automation: agent %s references unknown condition %q", cfg.ID, t.Condition)
		return false
	}
}

// evaluateAI asks the planner whether to fire. The verdict only counts when
// its confidence clears the agent's threshold.
func (x *Executor) evaluateAI(ctx context.Context, cfg *AgentConfig, t Trigger, e *event.Event) (bool, error) {
	if x.planner == nil {
		return false, nil
	}
	trigCtx := map[string]any{"workspace": x.gather(ctx, cfg).Map()}
	if e != nil {
		trigCtx["event_type"] = string(e.Type)
		trigCtx["event_payload"] = e.Payload
	}
	verdict, err := x.planner.EvaluateTrigger(ctx, planner.TriggerRequest{
		Purpose: cfg.Purpose,
		Context: trigCtx,
	})
	if err != nil || verdict == nil {
		return false, err
	}
	threshold := cfg.Constraints.ConfidenceThreshold
	if t.Threshold > 0 {
		threshold = t.Threshold
	}
	return verdict.ShouldFire && verdict.Confidence >= threshold, nil
}
