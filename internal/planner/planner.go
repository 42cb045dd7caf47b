// Package planner isolates the natural-language planning backend behind a
// structured interface. All parsing and fallback logic for malformed model
// output lives here, so the orchestration core never reasons about raw text.
package planner

import (
	"context"
)

// Strategy names the single approach the planner picks for working one task
// end-to-end.
type Strategy string

const (
	StrategyDecompose       Strategy = "decompose"
	StrategyProvideSolution Strategy = "provide_solution"
	StrategyCompleteAndPost Strategy = "complete_and_post"
	StrategyReassign        Strategy = "reassign"
	StrategyEscalate        Strategy = "escalate"
)

// Decision is the planner's verdict on one failed action.
type Decision string

const (
	DecisionRetry      Decision = "retry"
	DecisionSubstitute Decision = "substitute"
	DecisionSkip       Decision = "skip"
	DecisionAbort      Decision = "abort"
)

// Action is one typed action proposal.
type Action struct {
	Type            string         `json:"type"`
	Params          map[string]any `json:"params,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// Plan is a general action plan for an automation agent.
type Plan struct {
	Reasoning string   `json:"reasoning"`
	Actions   []Action `json:"actions"`
}

// StrategyPlan is a plan for one specific target task.
type StrategyPlan struct {
	Reasoning string   `json:"reasoning"`
	Strategy  Strategy `json:"strategy"`
	Actions   []Action `json:"actions"`
}

// RecoveryDecision tells the executor how to proceed after an action failed.
type RecoveryDecision struct {
	Decision         Decision       `json:"decision"`
	Reasoning        string         `json:"reasoning,omitempty"`
	ModifiedParams   map[string]any `json:"modified_params,omitempty"`
	SubstituteAction *Action        `json:"substitute_action,omitempty"`
}

// TriggerVerdict is the planner's answer to "should this agent fire now".
type TriggerVerdict struct {
	ShouldFire bool    `json:"should_fire"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// PlanRequest carries everything a general planning call needs.
type PlanRequest struct {
	Purpose     string         `json:"purpose"`
	Permissions []string       `json:"permissions"`
	Constraints map[string]any `json:"constraints,omitempty"`
	Trigger     map[string]any `json:"trigger,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// StrategyRequest targets one task.
type StrategyRequest struct {
	TaskContext      map[string]any `json:"task_context"`
	WorkspaceContext map[string]any `json:"workspace_context,omitempty"`
	Permissions      []string       `json:"permissions,omitempty"`
}

// RecoveryRequest describes one failed action.
type RecoveryRequest struct {
	FailedAction Action         `json:"failed_action"`
	Error        string         `json:"error"`
	Attempt      int            `json:"attempt"`
	Context      map[string]any `json:"context,omitempty"`
}

// TriggerRequest asks whether an agent should fire.
type TriggerRequest struct {
	Purpose string         `json:"purpose"`
	Context map[string]any `json:"context,omitempty"`
}

// Planner turns purpose plus structured context into typed action proposals.
// Implementations must tolerate malformed model output by degrading to
// empty/neutral results rather than returning parse errors.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
	PlanTaskStrategy(ctx context.Context, req StrategyRequest) (*StrategyPlan, error)
	Recover(ctx context.Context, req RecoveryRequest) (*RecoveryDecision, error)
	EvaluateTrigger(ctx context.Context, req TriggerRequest) (*TriggerVerdict, error)
}

// Static is a canned-response planner for rule-based agents and tests.
type Static struct {
	PlanResult     *Plan
	StrategyResult *StrategyPlan
	Recoveries     []RecoveryDecision
	Verdict        *TriggerVerdict

	recoverCalls int
}

var _ Planner = (*Static)(nil)

func (s *Static) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if s.PlanResult == nil {
		return &Plan{}, nil
	}
	return s.PlanResult, nil
}

func (s *Static) PlanTaskStrategy(ctx context.Context, req StrategyRequest) (*StrategyPlan, error) {
	if s.StrategyResult == nil {
		return &StrategyPlan{Strategy: StrategyProvideSolution}, nil
	}
	return s.StrategyResult, nil
}

// Recover replays configured decisions in order, then defaults to skip.
func (s *Static) Recover(ctx context.Context, req RecoveryRequest) (*RecoveryDecision, error) {
	if s.recoverCalls < len(s.Recoveries) {
		decision := s.Recoveries[s.recoverCalls]
		s.recoverCalls++
		return &decision, nil
	}
	return &RecoveryDecision{Decision: DecisionSkip}, nil
}

func (s *Static) EvaluateTrigger(ctx context.Context, req TriggerRequest) (*TriggerVerdict, error) {
	if s.Verdict == nil {
		return &TriggerVerdict{ShouldFire: true, Confidence: 1}, nil
	}
	return s.Verdict, nil
}
