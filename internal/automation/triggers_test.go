package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/agent"
	"foreman/internal/event"
	"foreman/internal/planner"
)

func triggerConfig(triggers ...Trigger) *AgentConfig {
	cfg := liveConfig()
	cfg.Triggers = triggers
	return cfg
}

func TestAgentWithoutTriggersAlwaysFires(t *testing.T) {
	x := NewExecutor(nil, nil, nil, nil, nil)
	fire, err := x.EvaluateTriggers(context.Background(), liveConfig(), nil)
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestPausedAgentNeverFires(t *testing.T) {
	x := NewExecutor(nil, nil, nil, nil, nil)
	cfg := liveConfig()
	cfg.Mode = ModePaused
	fire, err := x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestEventTriggerMatchesTypeAndPayload(t *testing.T) {
	x := NewExecutor(nil, nil, nil, nil, nil)
	cfg := triggerConfig(Trigger{
		Kind:          TriggerEvent,
		EventType:     event.TypeTaskBlocked,
		PayloadEquals: map[string]string{"blocker_type": "dependency"},
	})

	matching := event.New(event.TypeTaskBlocked, "test",
		event.WithPayload(map[string]any{"blocker_type": "dependency"}))
	fire, err := x.EvaluateTriggers(context.Background(), cfg, matching)
	require.NoError(t, err)
	assert.True(t, fire)

	wrongPayload := event.New(event.TypeTaskBlocked, "test",
		event.WithPayload(map[string]any{"blocker_type": "question"}))
	fire, err = x.EvaluateTriggers(context.Background(), cfg, wrongPayload)
	require.NoError(t, err)
	assert.False(t, fire)

	wrongType := event.New(event.TypeTaskCompleted, "test")
	fire, err = x.EvaluateTriggers(context.Background(), cfg, wrongType)
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestConditionTriggerOverdueThreshold(t *testing.T) {
	gatherer := GathererFunc(func(ctx context.Context, orgID string) (*WorkspaceContext, error) {
		return &WorkspaceContext{
			Overdue: []agent.TaskView{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}},
		}, nil
	})
	x := NewExecutor(nil, nil, gatherer, nil, nil)

	cfg := triggerConfig(Trigger{Kind: TriggerCondition, Condition: ConditionOverdueTasksExceed, Threshold: 2})
	fire, err := x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, fire)

	cfg = triggerConfig(Trigger{Kind: TriggerCondition, Condition: ConditionOverdueTasksExceed, Threshold: 5})
	fire, err = x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestConditionTriggerUserHasNoActiveTasks(t *testing.T) {
	gatherer := GathererFunc(func(ctx context.Context, orgID string) (*WorkspaceContext, error) {
		return &WorkspaceContext{Workload: map[string]int{"busy": 4}}, nil
	})
	x := NewExecutor(nil, nil, gatherer, nil, nil)

	cfg := triggerConfig(Trigger{Kind: TriggerCondition, Condition: ConditionUserHasNoActiveTasks, UserID: "idle"})
	fire, err := x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, fire)

	cfg = triggerConfig(Trigger{Kind: TriggerCondition, Condition: ConditionUserHasNoActiveTasks, UserID: "busy"})
	fire, err = x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestAITriggerGatedByConfidence(t *testing.T) {
	p := &planner.Static{Verdict: &planner.TriggerVerdict{ShouldFire: true, Confidence: 0.65}}
	x := NewExecutor(p, nil, nil, nil, nil)

	cfg := triggerConfig(Trigger{Kind: TriggerAIEvaluate})
	fire, err := x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, fire, "confidence below the agent threshold must not fire")

	p.Verdict = &planner.TriggerVerdict{ShouldFire: true, Confidence: 0.9}
	fire, err = x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, fire)

	p.Verdict = &planner.TriggerVerdict{ShouldFire: false, Confidence: 0.99}
	fire, err = x.EvaluateTriggers(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, fire, "a confident no is still a no")
}

func TestAnyMatchingTriggerIsEnough(t *testing.T) {
	x := NewExecutor(nil, nil, nil, nil, nil)
	cfg := triggerConfig(
		Trigger{Kind: TriggerEvent, EventType: event.TypeTaskOverdue},
		Trigger{Kind: TriggerEvent, EventType: event.TypeTaskBlocked},
	)

	e := event.New(event.TypeTaskBlocked, "test")
	fire, err := x.EvaluateTriggers(context.Background(), cfg, e)
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestDispatchAgentRunsMatchingConfigs(t *testing.T) {
	actions := newFakeActions()
	p := plannedActions(planner.Action{Type: ActionAddComment})
	x := NewExecutor(p, actions, nil, nil, nil)

	dispatch := NewDispatchAgent(x)
	dispatch.AddConfig(triggerConfig(Trigger{Kind: TriggerEvent, EventType: event.TypeTaskBlocked}))

	other := triggerConfig(Trigger{Kind: TriggerEvent, EventType: event.TypeTaskOverdue})
	other.ID = "auto-2"
	dispatch.AddConfig(other)

	assert.True(t, dispatch.Desc.Handles(event.TypeTaskBlocked))
	assert.True(t, dispatch.Desc.Handles(event.TypeTaskOverdue))

	e := event.New(event.TypeTaskBlocked, "test",
		event.WithPayload(map[string]any{"task_id": "t9"}))
	actx := agent.NewContext(e, nil)

	result, err := dispatch.Execute(context.Background(), actx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Output["fired"])
	assert.Equal(t, 1, result.Output["succeeded"])
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "auto-1", result.Actions[0].Params["agent_id"])
}
