package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/agent"
	"foreman/internal/bus"
	"foreman/internal/errors"
	"foreman/internal/event"
)

type scriptedAgent struct {
	agent.Base
	mu      sync.Mutex
	execFn  func(ctx context.Context, actx *agent.Context) (*agent.Result, error)
	invoked int
	lastCtx *agent.Context
}

func newScriptedAgent(name string, priority int, types ...event.Type) *scriptedAgent {
	desc := agent.NewDescriptor(name)
	desc.Priority = priority
	desc.HandledEvents = types
	return &scriptedAgent{Base: agent.NewBase(desc)}
}

func (s *scriptedAgent) Execute(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
	s.mu.Lock()
	s.invoked++
	s.lastCtx = actx
	fn := s.execFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, actx)
	}
	result := agent.NewResult(s.Desc.Name)
	result.Success = true
	result.Complete()
	return result, nil
}

func (s *scriptedAgent) invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoked
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return New(Config{Metrics: MustNewMetrics(prometheus.NewRegistry())})
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	orch := newTestOrchestrator(t)

	require.NoError(t, orch.Register(newScriptedAgent("triage", 1, event.TypeTaskCreated)))
	err := orch.Register(newScriptedAgent("triage", 2, event.TypeTaskCreated))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestCapabilityIndex(t *testing.T) {
	orch := newTestOrchestrator(t)

	decomposer := newScriptedAgent("decomposer", 1)
	decomposer.Desc.Capabilities = []string{"task_decomposition", "planning"}
	chatter := newScriptedAgent("chatter", 2)
	chatter.Desc.Capabilities = []string{"chat"}

	require.NoError(t, orch.Register(decomposer))
	require.NoError(t, orch.Register(chatter))

	byCap := orch.AgentsByCapability("task_decomposition")
	require.Len(t, byCap, 1)
	assert.Equal(t, "decomposer", byCap[0].Descriptor().Name)

	require.True(t, orch.Unregister("decomposer"))
	assert.Empty(t, orch.AgentsByCapability("task_decomposition"))
	assert.False(t, orch.Unregister("decomposer"))
}

func TestHandleEventPriorityOrderAndSharedContext(t *testing.T) {
	orch := newTestOrchestrator(t)

	var order []string
	var mu sync.Mutex
	mark := func(name string) func(context.Context, *agent.Context) (*agent.Result, error) {
		return func(_ context.Context, actx *agent.Context) (*agent.Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			actx.ChainData[name] = true
			r := agent.NewResult(name)
			r.Success = true
			r.Complete()
			return r, nil
		}
	}

	second := newScriptedAgent("second", 5, event.TypeTaskCreated)
	second.execFn = mark("second")
	first := newScriptedAgent("first", 1, event.TypeTaskCreated)
	first.execFn = mark("first")
	tieBreaker := newScriptedAgent("registered-later", 5, event.TypeTaskCreated)
	tieBreaker.execFn = mark("registered-later")

	require.NoError(t, orch.Register(second))
	require.NoError(t, orch.Register(first))
	require.NoError(t, orch.Register(tieBreaker))

	results := orch.HandleEvent(context.Background(), event.New(event.TypeTaskCreated, "api"), nil)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "registered-later"}, order)

	// Shared context: the last agent sees chain data from the earlier ones.
	tieBreaker.mu.Lock()
	shared := tieBreaker.lastCtx
	tieBreaker.mu.Unlock()
	assert.True(t, shared.ChainData["first"].(bool))
	assert.True(t, shared.ChainData["second"].(bool))
}

func TestHandleEventSkipsPausedAndDisabled(t *testing.T) {
	orch := newTestOrchestrator(t)

	paused := newScriptedAgent("paused", 1, event.TypeTaskCreated)
	paused.Desc.SetStatus(agent.StatusPaused)
	disabled := newScriptedAgent("disabled", 2, event.TypeTaskCreated)
	disabled.Desc.SetEnabled(false)
	active := newScriptedAgent("active", 3, event.TypeTaskCreated)

	require.NoError(t, orch.Register(paused))
	require.NoError(t, orch.Register(disabled))
	require.NoError(t, orch.Register(active))

	results := orch.HandleEvent(context.Background(), event.New(event.TypeTaskCreated, "api"), nil)
	require.Len(t, results, 1)
	assert.Equal(t, "active", results[0].AgentName)
}

func TestBusDeliverySkipsPausedAndDisabled(t *testing.T) {
	orch := newTestOrchestrator(t)
	b := bus.New(bus.Config{}, orch.Deliver, nil)
	orch.AttachBus(b)

	worker := newScriptedAgent("worker", 1, event.TypeTaskCreated)
	require.NoError(t, orch.Register(worker))
	worker.Desc.SetEnabled(false)

	results := b.PublishImmediate(context.Background(), event.New(event.TypeTaskCreated, "api"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, "a skipped delivery completes as a no-op")
	assert.Zero(t, worker.invocations(), "a disabled agent must not run from the bus path")

	worker.Desc.SetEnabled(true)
	b.PublishImmediate(context.Background(), event.New(event.TypeTaskCreated, "api"))
	assert.Equal(t, 1, worker.invocations())

	worker.Desc.SetStatus(agent.StatusPaused)
	b.PublishImmediate(context.Background(), event.New(event.TypeTaskCreated, "api"))
	assert.Equal(t, 1, worker.invocations(), "a paused agent must not run from the bus path")
}

func TestHandleEventDropsChainExceededEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := MustNewMetrics(registry)
	orch := New(Config{Metrics: metrics})

	handler := newScriptedAgent("handler", 1, event.TypeAgentChain)
	require.NoError(t, orch.Register(handler))

	deep := event.New(event.TypeAgentChain, "test", event.WithMaxChainDepth(2))
	deep.ChainDepth = 3

	results := orch.HandleEvent(context.Background(), deep, nil)
	assert.Nil(t, results)
	assert.Equal(t, 0, handler.invocations())
	assert.EqualValues(t, 1, orch.Stats().ChainDropped)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.chainDrops))
}

func TestFollowUpEventsRepublishWithDepth(t *testing.T) {
	orch := newTestOrchestrator(t)
	eventBus := bus.New(bus.Config{}, orch.Deliver, nil)
	orch.AttachBus(eventBus)

	chained := newScriptedAgent("chained", 2, event.TypeAgentChain)
	require.NoError(t, orch.Register(chained))

	emitter := newScriptedAgent("emitter", 1, event.TypeTaskBlocked)
	emitter.execFn = func(_ context.Context, actx *agent.Context) (*agent.Result, error) {
		r := agent.NewResult("emitter")
		r.Success = true
		r.AddFollowUp(actx.Event.Child(event.TypeAgentChain, map[string]any{"from": "emitter"}))
		r.Complete()
		return r, nil
	}
	require.NoError(t, orch.Register(emitter))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)
	defer eventBus.Stop()

	orch.HandleEvent(ctx, event.New(event.TypeTaskBlocked, "webhook"), nil)

	require.Eventually(t, func() bool {
		return chained.invocations() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFollowUpChainTerminatesAtMaxDepth(t *testing.T) {
	orch := newTestOrchestrator(t)
	eventBus := bus.New(bus.Config{}, orch.Deliver, nil)
	orch.AttachBus(eventBus)

	// Re-emits a follow-up on every chain event: unbounded without the cap.
	looper := newScriptedAgent("looper", 1, event.TypeAgentChain)
	looper.execFn = func(_ context.Context, actx *agent.Context) (*agent.Result, error) {
		r := agent.NewResult("looper")
		r.Success = true
		r.AddFollowUp(actx.Event.Child(event.TypeAgentChain, nil))
		r.Complete()
		return r, nil
	}
	require.NoError(t, orch.Register(looper))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)
	defer eventBus.Stop()

	seed := event.New(event.TypeAgentChain, "test", event.WithMaxChainDepth(3))
	results := orch.HandleEvent(ctx, seed, nil)
	require.Len(t, results, 1)

	// Depth 1..3 run through the bus; the hop to depth 4 must be dropped.
	require.Eventually(t, func() bool {
		return orch.Stats().ChainDropped >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, looper.invocations(), 4)
}

func TestExecuteAgentNotFound(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.ExecuteAgent(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunPipelineStopsAtFirstFailure(t *testing.T) {
	orch := newTestOrchestrator(t)

	ok1 := newScriptedAgent("ok1", 1)
	failing := newScriptedAgent("failing", 1)
	failing.execFn = func(context.Context, *agent.Context) (*agent.Result, error) {
		return nil, fmt.Errorf("stage blew up")
	}
	never := newScriptedAgent("never", 1)

	for _, a := range []*scriptedAgent{ok1, failing, never} {
		require.NoError(t, orch.Register(a))
	}

	actx := agent.NewContext(nil, nil)
	results := orch.RunPipeline(context.Background(), []string{"ok1", "failing", "never"}, actx, true)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, 0, never.invocations())
	assert.Len(t, actx.PreviousResults, 2)
}

func TestRunPipelineChainResultVisibility(t *testing.T) {
	orch := newTestOrchestrator(t)

	producer := newScriptedAgent("producer", 1)
	producer.execFn = func(_ context.Context, actx *agent.Context) (*agent.Result, error) {
		r := agent.NewResult("producer")
		r.Success = true
		r.SetOutput("task_id", "task_42")
		r.Complete()
		return r, nil
	}

	var observed string
	consumer := newScriptedAgent("consumer", 1)
	consumer.execFn = func(_ context.Context, actx *agent.Context) (*agent.Result, error) {
		if prev := actx.ChainResult("producer"); prev != nil {
			observed, _ = prev.Output["task_id"].(string)
		}
		r := agent.NewResult("consumer")
		r.Success = true
		r.Complete()
		return r, nil
	}

	require.NoError(t, orch.Register(producer))
	require.NoError(t, orch.Register(consumer))

	results := orch.RunPipeline(context.Background(), []string{"producer", "consumer"}, nil, true)
	require.Len(t, results, 2)
	assert.Equal(t, "task_42", observed)
}

func TestRunPipelineContinuesWithoutStopOnError(t *testing.T) {
	orch := newTestOrchestrator(t)

	failing := newScriptedAgent("failing", 1)
	failing.execFn = func(context.Context, *agent.Context) (*agent.Result, error) {
		return nil, fmt.Errorf("still broken")
	}
	after := newScriptedAgent("after", 1)

	require.NoError(t, orch.Register(failing))
	require.NoError(t, orch.Register(after))

	results := orch.RunPipeline(context.Background(), []string{"failing", "after"}, nil, false)
	require.Len(t, results, 2)
	assert.Equal(t, 1, after.invocations())
}

func TestRunParallelIsolatesFailures(t *testing.T) {
	orch := newTestOrchestrator(t)

	good1 := newScriptedAgent("good1", 1)
	panicky := newScriptedAgent("panicky", 1)
	panicky.execFn = func(context.Context, *agent.Context) (*agent.Result, error) {
		panic("branch exploded")
	}
	good2 := newScriptedAgent("good2", 1)

	for _, a := range []*scriptedAgent{good1, panicky, good2} {
		require.NoError(t, orch.Register(a))
	}

	results := orch.RunParallel(context.Background(), []string{"good1", "panicky", "good2"}, nil)
	require.Len(t, results, 3)

	failures := 0
	for _, r := range results {
		require.NotNil(t, r)
		if !r.Success {
			failures++
			assert.Equal(t, "panicky", r.AgentName)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRunParallelClonesContext(t *testing.T) {
	orch := newTestOrchestrator(t)

	writer := func(name string) *scriptedAgent {
		a := newScriptedAgent(name, 1)
		a.execFn = func(_ context.Context, actx *agent.Context) (*agent.Result, error) {
			actx.ChainData["owner"] = name
			r := agent.NewResult(name)
			r.Success = true
			r.Complete()
			return r, nil
		}
		return a
	}
	a := writer("branch-a")
	b := writer("branch-b")
	require.NoError(t, orch.Register(a))
	require.NoError(t, orch.Register(b))

	shared := agent.NewContext(nil, nil)
	shared.ChainData["owner"] = "root"
	orch.RunParallel(context.Background(), []string{"branch-a", "branch-b"}, shared)

	assert.Equal(t, "root", shared.ChainData["owner"], "branch writes stay in their clones")
}

func TestInvokeTimesOutSlowAgents(t *testing.T) {
	orch := newTestOrchestrator(t)

	slow := newScriptedAgent("slow", 1)
	slow.Desc.Timeout = 30 * time.Millisecond
	slow.execFn = func(ctx context.Context, _ *agent.Context) (*agent.Result, error) {
		time.Sleep(500 * time.Millisecond)
		r := agent.NewResult("slow")
		r.Success = true
		r.Complete()
		return r, nil
	}
	require.NoError(t, orch.Register(slow))

	start := time.Now()
	result, err := orch.ExecuteAgent(context.Background(), "slow", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, string(errors.CodeTimeout), result.ErrorCode)
	assert.NotEmpty(t, result.Message)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "caller is not left waiting")
}

func TestMetricsRecorded(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := MustNewMetrics(registry)
	orch := New(Config{Metrics: metrics})

	failing := newScriptedAgent("failing", 1, event.TypeTaskCreated)
	failing.execFn = func(context.Context, *agent.Context) (*agent.Result, error) {
		return nil, fmt.Errorf("boom")
	}
	require.NoError(t, orch.Register(failing))

	orch.HandleEvent(context.Background(), event.New(event.TypeTaskCreated, "api"), nil)

	got := testutil.ToFloat64(metrics.executionFailures.WithLabelValues("failing", string(errors.CodeExecution)))
	assert.Equal(t, float64(1), got)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.activeExecutions))
}

func TestHistoryRingBounded(t *testing.T) {
	orch := New(Config{HistorySize: 3, Metrics: MustNewMetrics(prometheus.NewRegistry())})

	a := newScriptedAgent("worker", 1)
	require.NoError(t, orch.Register(a))

	for i := 0; i < 7; i++ {
		_, err := orch.ExecuteAgent(context.Background(), "worker", nil)
		require.NoError(t, err)
	}

	history := orch.History(0)
	assert.Len(t, history, 3)
	assert.Equal(t, 3, orch.Stats().HistoryLength)
}
