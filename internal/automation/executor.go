package automation

import (
	"context"
	"fmt"

	"foreman/internal/errors"
	"foreman/internal/id"
	"foreman/internal/logging"
	"foreman/internal/planner"
)

// MatchScorer compares a shadow run's planned actions against what actually
// happened in the workspace since, returning a match rate in [0,1]. The
// scoring policy is deployment-specific, so it stays pluggable.
type MatchScorer func(planned []planner.Action, recent []*Run) float64

// Executor runs configured automation agents: gather, plan, validate,
// execute with bounded recovery, record.
type Executor struct {
	planner  planner.Planner
	actions  ActionExecutor
	gatherer ContextGatherer
	runs     RunStore
	scorer   MatchScorer
	logger   logging.Logger
}

// NewExecutor wires an executor. planner and runs are required for AI-driven
// agents and auditing respectively; gatherer and scorer may be nil.
func NewExecutor(p planner.Planner, actions ActionExecutor, gatherer ContextGatherer, runs RunStore, logger logging.Logger) *Executor {
	if runs == nil {
		runs = NewMemoryRunStore(0)
	}
	return &Executor{
		planner:  p,
		actions:  actions,
		gatherer: gatherer,
		runs:     runs,
		logger:   logging.OrNop(logger),
	}
}

// SetMatchScorer installs the shadow-run scoring hook.
func (x *Executor) SetMatchScorer(s MatchScorer) { x.scorer = s }

// RunStore exposes the store for inspection and reporting.
func (x *Executor) RunStore() RunStore { return x.runs }

// ExecuteAgent performs one run for the given agent and trigger data. The
// returned run is always persisted, including failed and shadow runs. The
// error is non-nil only when the agent may not run at all.
func (x *Executor) ExecuteAgent(ctx context.Context, cfg *AgentConfig, trigger map[string]any) (*Run, error) {
	if cfg == nil {
		return nil, &errors.ValidationError{Field: "config", Message: "agent config is required"}
	}
	if !cfg.Eligible() {
		return nil, &errors.ValidationError{Field: "mode", Message: fmt.Sprintf("agent %s is %s and cannot run", cfg.ID, cfg.Mode)}
	}

	run := &Run{
		ID:        id.NewRunID(),
		AgentID:   cfg.ID,
		Status:    RunRunning,
		IsShadow:  cfg.IsShadow(),
		StartedAt: nowUTC(),
		InputData: trigger,
	}

	wctx := x.gather(ctx, cfg)
	plan := x.plan(ctx, cfg, trigger, wctx)
	actions, dropped := x.validatePlan(cfg, plan.Actions)

	aborted := false
	succeeded := 0
	for _, act := range actions {
		res := x.executeOne(ctx, cfg, act, wctx)
		run.Results = append(run.Results, res)
		if res.Success {
			succeeded++
			continue
		}
		if res.Recovery == string(planner.DecisionAbort) {
			aborted = true
			break
		}
		if !cfg.AIDriven && !act.ContinueOnError {
			break
		}
	}

	run.OutputData = map[string]any{
		"ai_driven":            cfg.AIDriven,
		"reasoning":            plan.Reasoning,
		"actions_planned":      len(plan.Actions),
		"actions_attempted":    len(run.Results),
		"actions_succeeded":    succeeded,
		"unauthorized_dropped": dropped,
		"aborted":              aborted,
	}
	if run.IsShadow && x.scorer != nil {
		recent, _ := x.runs.Recent(ctx, cfg.ID, 20)
		run.OutputData["match_rate"] = x.scorer(actions, recent)
	}

	status := RunSuccess
	if aborted || succeeded < len(run.Results) || len(run.Results) < len(actions) {
		status = RunFailed
		run.ErrorMessage = firstFailure(run.Results)
	}
	run.Complete(status)

	if err := x.runs.Save(ctx, run); err != nil {
		x.logger.Error("automation: saving run %s for agent %s: %v", run.ID, cfg.ID, err)
	}
	if !run.IsShadow {
		cfg.Metrics.RecordRun(status == RunSuccess, cfg.HoursSavedPerRun)
	}
	x.logger.Info("automation: agent %s run %s finished status=%s attempted=%d succeeded=%d shadow=%v",
		cfg.ID, run.ID, status, len(run.Results), succeeded, run.IsShadow)
	return run, nil
}

func (x *Executor) gather(ctx context.Context, cfg *AgentConfig) *WorkspaceContext {
	if x.gatherer == nil {
		return &WorkspaceContext{}
	}
	wctx, err := x.gatherer.Gather(ctx, cfg.OrgID)
	if err != nil {
		x.logger.Warn("automation: gathering context for agent %s: %v", cfg.ID, err)
		return &WorkspaceContext{}
	}
	if wctx == nil {
		wctx = &WorkspaceContext{}
	}
	return wctx
}

// plan produces the action list: the configured fixed list for rule-based
// agents, a task strategy when the trigger names a task, otherwise a free
// plan over the workspace snapshot.
func (x *Executor) plan(ctx context.Context, cfg *AgentConfig, trigger map[string]any, wctx *WorkspaceContext) *planner.Plan {
	if !cfg.AIDriven {
		return &planner.Plan{Reasoning: "rule-based action list", Actions: cfg.Actions}
	}
	if x.planner == nil {
		x.logger.Warn("automation: agent %s is ai_driven but no planner is wired", cfg.ID)
		return &planner.Plan{Reasoning: "no planner available"}
	}
	if _, ok := trigger["task_id"]; ok {
		sp, err := x.planner.PlanTaskStrategy(ctx, planner.StrategyRequest{
			TaskContext:      trigger,
			WorkspaceContext: wctx.Map(),
			Permissions:      cfg.Permissions,
		})
		if err != nil || sp == nil {
			x.logger.Warn("automation: agent %s strategy planning failed: %v", cfg.ID, err)
			return &planner.Plan{Reasoning: "strategy planning failed"}
		}
		return &planner.Plan{
			Reasoning: fmt.Sprintf("strategy=%s: %s", sp.Strategy, sp.Reasoning),
			Actions:   sp.Actions,
		}
	}
	p, err := x.planner.Plan(ctx, planner.PlanRequest{
		Purpose:     cfg.Purpose,
		Permissions: cfg.Permissions,
		Constraints: map[string]any{
			"max_tasks_per_run":  cfg.Constraints.MaxTasksPerRun,
			"allowed_priorities": cfg.Constraints.AllowedPriorities,
		},
		Trigger: trigger,
		Context: wctx.Map(),
	})
	if err != nil || p == nil {
		x.logger.Warn("automation: agent %s planning failed: %v", cfg.ID, err)
		return &planner.Plan{Reasoning: "planning failed"}
	}
	return p
}

// validatePlan enforces permissions and constraints before anything runs.
// Unauthorized actions are dropped and logged, never executed. The surviving
// list is capped at MaxTasksPerRun and create_task priorities are coerced
// onto the allow-list.
func (x *Executor) validatePlan(cfg *AgentConfig, actions []planner.Action) (valid []planner.Action, dropped []string) {
	for _, act := range actions {
		if !cfg.Allowed(act.Type) {
			x.logger.Warn("automation: agent %s planned unauthorized action %q, dropping", cfg.ID, act.Type)
			dropped = append(dropped, act.Type)
			continue
		}
		if act.Type == ActionCreateTask {
			act = coercePriority(cfg, act, x.logger)
		}
		valid = append(valid, act)
	}
	max := cfg.Constraints.MaxTasksPerRun
	if max > 0 && len(valid) > max {
		x.logger.Warn("automation: agent %s plan has %d actions, capping at %d", cfg.ID, len(valid), max)
		valid = valid[:max]
	}
	return valid, dropped
}

func coercePriority(cfg *AgentConfig, act planner.Action, logger logging.Logger) planner.Action {
	pr, _ := act.Params["priority"].(string)
	if pr == "" || cfg.PriorityAllowed(pr) {
		return act
	}
	safe := cfg.SafePriority()
	logger.Warn("automation: agent %s create_task priority %q not allowed, coercing to %q", cfg.ID, pr, safe)
	params := make(map[string]any, len(act.Params))
	for k, v := range act.Params {
		params[k] = v
	}
	params["priority"] = safe
	act.Params = params
	return act
}

// executeOne runs a single validated action. Shadow runs simulate. For
// AI-driven agents a failure enters the recovery loop: retry up to
// MaxRetries with optionally modified params, substitute at most once, skip,
// or abort the whole run. Every failure is recorded, never silently dropped.
func (x *Executor) executeOne(ctx context.Context, cfg *AgentConfig, act planner.Action, wctx *WorkspaceContext) ActionResult {
	res := ActionResult{Type: act.Type, Params: act.Params}

	if cfg.IsShadow() {
		res.Attempts = 1
		res.Success = true
		res.Simulated = true
		res.Output = map[string]any{"simulated": true}
		return res
	}
	if x.actions == nil {
		res.Attempts = 1
		res.Error = "no action executor wired"
		return res
	}

	current := act
	substituted := false
	for {
		res.Attempts++
		out, err := x.actions.ExecuteAction(ctx, current.Type, current.Params)
		if err == nil {
			res.Success = true
			res.Output = out
			res.Type = current.Type
			res.Params = current.Params
			return res
		}
		res.Error = err.Error()
		x.logger.Warn("automation: agent %s action %s attempt %d failed: %v", cfg.ID, current.Type, res.Attempts, err)

		if !cfg.AIDriven || x.planner == nil {
			return res
		}
		decision := x.recover(ctx, current, err, res.Attempts, wctx)
		switch decision.Decision {
		case planner.DecisionRetry:
			if res.Attempts > cfg.Constraints.MaxRetries {
				res.Recovery = string(planner.DecisionRetry)
				res.Error = fmt.Sprintf("retries exhausted after %d attempts: %v", res.Attempts, err)
				return res
			}
			if len(decision.ModifiedParams) > 0 {
				current.Params = decision.ModifiedParams
			}
			res.Recovery = string(planner.DecisionRetry)
		case planner.DecisionSubstitute:
			if substituted || decision.SubstituteAction == nil {
				res.Recovery = string(planner.DecisionSkip)
				return res
			}
			substituted = true
			current = *decision.SubstituteAction
			res.Recovery = string(planner.DecisionSubstitute)
		case planner.DecisionAbort:
			res.Recovery = string(planner.DecisionAbort)
			return res
		default:
			res.Recovery = string(planner.DecisionSkip)
			return res
		}
	}
}

func (x *Executor) recover(ctx context.Context, act planner.Action, cause error, attempt int, wctx *WorkspaceContext) *planner.RecoveryDecision {
	d, err := x.planner.Recover(ctx, planner.RecoveryRequest{
		FailedAction: act,
		Error:        cause.Error(),
		Attempt:      attempt,
		Context:      wctx.Map(),
	})
	if err != nil || d == nil {
		return &planner.RecoveryDecision{Decision: planner.DecisionSkip, Reasoning: "recovery planning failed"}
	}
	return d
}

func firstFailure(results []ActionResult) string {
	for _, r := range results {
		if !r.Success {
			return fmt.Sprintf("action %s failed: %s", r.Type, r.Error)
		}
	}
	return ""
}
