package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"validation", NewValidationError("task_id", "required"), CodeValidation},
		{"queue full", &QueueFullError{Capacity: 10}, CodeQueueFull},
		{"not found", NewNotFoundError("agent", "ghost"), CodeNotFound},
		{"timeout", context.DeadlineExceeded, CodeTimeout},
		{"timeout string", fmt.Errorf("request timeout after 60s"), CodeTimeout},
		{"planning", &PlanningError{Raw: "```", Err: fmt.Errorf("bad json")}, CodePlanning},
		{"execution", NewExecutionError("worker", fmt.Errorf("boom")), CodeExecution},
		{"plain", fmt.Errorf("something else"), CodeExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestCodeUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewValidationError("", "missing event"))
	assert.Equal(t, CodeValidation, Code(err))
	assert.True(t, IsValidation(err))
}

func TestFormatForUserNeverLeaksInternals(t *testing.T) {
	raw := fmt.Errorf("pq: duplicate key value violates unique constraint \"tasks_pkey\"")
	msg := FormatForUser(NewExecutionError("triage", raw))
	assert.NotContains(t, msg, "pq:")
	assert.NotContains(t, msg, "tasks_pkey")
	assert.NotEmpty(t, msg)
}

func TestFormatForUserValidationNamesField(t *testing.T) {
	msg := FormatForUser(NewValidationError("assignee_id", "required"))
	assert.Contains(t, msg, "assignee_id")
}

func TestRetryWithResultStopsOnValidation(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewValidationError("field", "bad")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResultExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("transient")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResultEventualSuccess(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", fmt.Errorf("transient")
		}
		return "done", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 2, calls)
}
