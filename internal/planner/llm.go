package planner

import (
	"context"
	"fmt"
	"strings"

	"foreman/internal/errors"
	"foreman/internal/jsonx"
	"foreman/internal/logging"
)

// Completer is the one-method contract to the natural-language backend:
// prompt in, text out. Retry, rate limiting, and transport concerns belong to
// the implementation behind it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WithRetry wraps a completer so transient backend failures are retried with
// exponential backoff before the planner's degrade paths kick in.
func WithRetry(completer Completer, cfg errors.RetryConfig, logger logging.Logger) Completer {
	logger = logging.OrNop(logger)
	return CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return errors.RetryWithResult(ctx, cfg, func(ctx context.Context) (string, error) {
			return completer.Complete(ctx, prompt)
		}, logger)
	})
}

type llmPlanner struct {
	completer Completer
	logger    logging.Logger
}

// NewLLM builds a Planner over a text-completion backend.
func NewLLM(completer Completer, logger logging.Logger) Planner {
	return &llmPlanner{
		completer: completer,
		logger:    logging.OrNop(logger),
	}
}

// Plan asks for a general action list. Backend or parse failures degrade to
// an empty plan carrying the raw text as the reasoning trace.
func (p *llmPlanner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	prompt := fmt.Sprintf(`You are an automation agent for a task management workspace.
Purpose: %s
Allowed action types: %s
Constraints: %s
Trigger: %s
Workspace context: %s

Propose the actions to take now. Respond with JSON only:
{"reasoning": "...", "actions": [{"type": "...", "params": {...}}]}`,
		req.Purpose,
		strings.Join(req.Permissions, ", "),
		string(jsonx.Compact(req.Constraints)),
		string(jsonx.Compact(req.Trigger)),
		string(jsonx.Compact(req.Context)),
	)

	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		p.logger.Warn("plan call failed, degrading to empty plan: %v", err)
		return &Plan{Reasoning: "planner unavailable: " + err.Error()}, nil
	}

	var plan Plan
	if err := extractJSON(raw, &plan); err != nil {
		p.logger.Warn("plan output unparseable, degrading to empty plan: %v", err)
		return &Plan{Reasoning: raw}, nil
	}
	return &plan, nil
}

// PlanTaskStrategy picks one strategy for a specific task and the actions to
// carry it out.
func (p *llmPlanner) PlanTaskStrategy(ctx context.Context, req StrategyRequest) (*StrategyPlan, error) {
	prompt := fmt.Sprintf(`You are working one task end-to-end as a virtual contributor.
Task: %s
Workspace: %s
Allowed action types: %s

Choose exactly one strategy: decompose | provide_solution | complete_and_post | reassign | escalate.
Respond with JSON only:
{"reasoning": "...", "strategy": "...", "actions": [{"type": "...", "params": {...}}]}`,
		string(jsonx.Compact(req.TaskContext)),
		string(jsonx.Compact(req.WorkspaceContext)),
		strings.Join(req.Permissions, ", "),
	)

	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		p.logger.Warn("strategy call failed, degrading to empty plan: %v", err)
		return &StrategyPlan{Reasoning: "planner unavailable: " + err.Error()}, nil
	}

	var plan StrategyPlan
	if err := extractJSON(raw, &plan); err != nil {
		p.logger.Warn("strategy output unparseable, degrading to empty plan: %v", err)
		return &StrategyPlan{Reasoning: raw}, nil
	}
	return &plan, nil
}

// Recover asks for one decision on a failed action. Unusable output degrades
// to skip so the executor keeps its bounded-loop guarantees.
func (p *llmPlanner) Recover(ctx context.Context, req RecoveryRequest) (*RecoveryDecision, error) {
	prompt := fmt.Sprintf(`An automation action failed and you must decide how to proceed.
Failed action: %s
Error: %s
Attempt: %d
Context: %s

Respond with JSON only:
{"decision": "retry|substitute|skip|abort", "reasoning": "...", "modified_params": {...}, "substitute_action": {"type": "...", "params": {...}}}`,
		string(jsonx.Compact(req.FailedAction)),
		req.Error,
		req.Attempt,
		string(jsonx.Compact(req.Context)),
	)

	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		p.logger.Warn("recovery call failed, skipping action: %v", err)
		return &RecoveryDecision{Decision: DecisionSkip, Reasoning: "planner unavailable"}, nil
	}

	var decision RecoveryDecision
	if err := extractJSON(raw, &decision); err != nil {
		p.logger.Warn("recovery output unparseable, skipping action: %v", err)
		return &RecoveryDecision{Decision: DecisionSkip, Reasoning: raw}, nil
	}
	switch decision.Decision {
	case DecisionRetry, DecisionSubstitute, DecisionSkip, DecisionAbort:
	default:
		decision.Decision = DecisionSkip
	}
	return &decision, nil
}

// EvaluateTrigger asks whether an agent should fire now. Failures return a
// neutral do-not-fire verdict.
func (p *llmPlanner) EvaluateTrigger(ctx context.Context, req TriggerRequest) (*TriggerVerdict, error) {
	prompt := fmt.Sprintf(`Decide whether this automation agent should run right now.
Purpose: %s
Workspace context: %s

Respond with JSON only:
{"should_fire": true|false, "confidence": 0.0-1.0, "reasoning": "..."}`,
		req.Purpose,
		string(jsonx.Compact(req.Context)),
	)

	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		p.logger.Warn("trigger evaluation failed, not firing: %v", err)
		return &TriggerVerdict{}, nil
	}

	var verdict TriggerVerdict
	if err := extractJSON(raw, &verdict); err != nil {
		p.logger.Warn("trigger verdict unparseable, not firing: %v", err)
		return &TriggerVerdict{Reasoning: raw}, nil
	}
	return &verdict, nil
}
