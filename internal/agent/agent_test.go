package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/event"
)

func TestDescriptorLifecycleCounters(t *testing.T) {
	desc := NewDescriptor("triage")
	assert.Equal(t, StatusIdle, desc.Status())
	assert.True(t, desc.Invocable())

	desc.MarkStarted(time.Now())
	assert.Equal(t, StatusRunning, desc.Status())

	desc.MarkFinished(true)
	assert.Equal(t, StatusIdle, desc.Status())

	desc.MarkStarted(time.Now())
	desc.MarkFinished(false)

	executions, errs, last := desc.Counters()
	assert.EqualValues(t, 2, executions)
	assert.EqualValues(t, 1, errs)
	assert.False(t, last.IsZero())
}

func TestDescriptorInvocableGates(t *testing.T) {
	desc := NewDescriptor("triage")

	desc.SetStatus(StatusPaused)
	assert.False(t, desc.Invocable())

	desc.SetStatus(StatusIdle)
	desc.SetEnabled(false)
	assert.False(t, desc.Invocable())

	desc.SetEnabled(true)
	assert.True(t, desc.Invocable())
}

func TestBaseCanHandleUsesDeclaredEvents(t *testing.T) {
	desc := NewDescriptor("unblocker")
	desc.HandledEvents = []event.Type{event.TypeTaskBlocked}
	base := NewBase(desc)

	assert.True(t, base.CanHandle(event.New(event.TypeTaskBlocked, "test")))
	assert.False(t, base.CanHandle(event.New(event.TypeTaskCreated, "test")))
	assert.False(t, base.CanHandle(nil))
}

func TestBaseOnErrorKeepsInternalsOutOfMessage(t *testing.T) {
	desc := NewDescriptor("triage")
	base := NewBase(desc)

	actx := NewContext(event.New(event.TypeTaskCreated, "test"), nil)
	rawErr := fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")
	result := base.OnError(context.Background(), actx, rawErr)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
	assert.NotContains(t, result.Message, "10.0.0.5")
	assert.Contains(t, result.Error, "connection refused")
	assert.Equal(t, actx.Event.ID, result.EventID)
	assert.Equal(t, StatusError, desc.Status())
}

func TestResultCompleteIsIdempotent(t *testing.T) {
	result := NewResult("triage")
	result.Complete()
	first := result.CompletedAt

	time.Sleep(2 * time.Millisecond)
	result.Complete()

	assert.Equal(t, first, result.CompletedAt)
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))
}

func TestContextCloneIsolatesBranches(t *testing.T) {
	base := NewContext(event.New(event.TypeUserMessage, "chat"), "db-handle")
	base.AddMessage("user", "create a task for me")
	base.ChainData["stage"] = "one"
	base.AppendResult(&Result{AgentName: "first", Success: true})

	clone := base.Clone()
	clone.AddMessage("assistant", "done")
	clone.ChainData["stage"] = "two"

	assert.Len(t, base.History, 1)
	assert.Len(t, clone.History, 2)
	assert.Equal(t, "one", base.ChainData["stage"])
	assert.Equal(t, "two", clone.ChainData["stage"])
	assert.Equal(t, base.Store, clone.Store, "persistence handle is shared")
	assert.Equal(t, base.Event, clone.Event)
}

func TestChainResultReturnsLatestMatch(t *testing.T) {
	actx := NewContext(nil, nil)
	actx.AppendResult(&Result{AgentName: "a", Output: map[string]any{"v": 1}})
	actx.AppendResult(&Result{AgentName: "b"})
	actx.AppendResult(&Result{AgentName: "a", Output: map[string]any{"v": 2}})

	got := actx.ChainResult("a")
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Output["v"])
	assert.Nil(t, actx.ChainResult("missing"))
}
