package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies failures for operators and retry decisions. Codes are
// stable strings so they can be stored on execution results and run records.
type ErrorCode string

const (
	CodeValidation      ErrorCode = "validation_error"
	CodeExecution       ErrorCode = "execution_error"
	CodeQueueFull       ErrorCode = "queue_full"
	CodePlanning        ErrorCode = "planning_error"
	CodeActionExecution ErrorCode = "action_execution_error"
	CodeChainDepth      ErrorCode = "chain_depth_exceeded"
	CodeNotFound        ErrorCode = "not_found"
	CodeTimeout         ErrorCode = "timeout"
	CodeUnauthorized    ErrorCode = "unauthorized_action"
)

// ValidationError marks bad input caught before an agent executes. It is
// surfaced to the user and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ExecutionError wraps a failure raised inside an agent's core execute step.
type ExecutionError struct {
	AgentName string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s execution failed: %v", e.AgentName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err with the failing agent's name.
func NewExecutionError(agentName string, err error) *ExecutionError {
	return &ExecutionError{AgentName: agentName, Err: err}
}

// QueueFullError signals publish-time back-pressure. The caller must back off
// or drop; the bus never blocks indefinitely on a full queue.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("event queue full (capacity %d)", e.Capacity)
}

// PlanningError records an unusable planner response. The automation executor
// degrades to an empty plan instead of propagating it as a crash.
type PlanningError struct {
	Raw string
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planner produced unusable output: %v", e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// NotFoundError signals a lookup miss (agent name, task id, action type).
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// NewNotFoundError reports a missing entity of the given kind.
func NewNotFoundError(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsQueueFull reports whether err is a queue-capacity error.
func IsQueueFull(err error) bool {
	var q *QueueFullError
	return errors.As(err, &q)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsTimeout reports whether err stems from a deadline or cancellation.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded")
}

// Code maps err to its stable classification code.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return CodeValidation
	case IsQueueFull(err):
		return CodeQueueFull
	case IsNotFound(err):
		return CodeNotFound
	case IsTimeout(err):
		return CodeTimeout
	}
	var p *PlanningError
	if errors.As(err, &p) {
		return CodePlanning
	}
	var x *ExecutionError
	if errors.As(err, &x) {
		return CodeExecution
	}
	return CodeExecution
}

// FormatForUser converts internal failures to a calm, actionable sentence.
// Raw error text stays in the result's error field for operators and is never
// shown to end users.
func FormatForUser(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		var v *ValidationError
		errors.As(err, &v)
		if v.Field != "" {
			return fmt.Sprintf("I couldn't proceed because %s is missing or invalid. Could you check it and try again?", v.Field)
		}
		return "I couldn't proceed because some required information is missing. Could you check your request and try again?"
	case IsTimeout(err):
		return "That took longer than expected and I had to stop. Could you try again in a moment?"
	case IsQueueFull(err):
		return "I'm handling a lot of work right now. Please try again shortly."
	case IsNotFound(err):
		return "I couldn't find what you were referring to. Could you double-check and try again?"
	default:
		return "I encountered an issue while processing your request. Could you try again?"
	}
}
