// Package agent defines the uniform contract every coordination agent
// implements, so the orchestrator and bus can treat AI capability agents,
// integration agents, and conversational agents polymorphically.
package agent

import (
	"context"
	"time"

	"foreman/internal/errors"
	"foreman/internal/event"
)

// Agent is the lifecycle contract the orchestrator drives. Execute must be
// safe to re-invoke: bus retries re-deliver events, so handlers either stay
// idempotent or tolerate re-delivery.
type Agent interface {
	Descriptor() *Descriptor

	// CanHandle is a cheap predicate used for both bus subscription
	// filtering and orchestrator routing. It must not do heavy work.
	CanHandle(e *event.Event) bool

	Validate(ctx context.Context, actx *Context) error
	Before(ctx context.Context, actx *Context) error
	Execute(ctx context.Context, actx *Context) (*Result, error)
	After(ctx context.Context, actx *Context, result *Result)
	OnError(ctx context.Context, actx *Context, err error) *Result
}

// Base provides default lifecycle behavior. Concrete agents embed it and
// override Execute (always) and any other hook they need.
type Base struct {
	Desc *Descriptor
}

// NewBase wraps a descriptor in default lifecycle behavior.
func NewBase(desc *Descriptor) Base {
	return Base{Desc: desc}
}

func (b *Base) Descriptor() *Descriptor { return b.Desc }

// CanHandle defaults to the declared handled-event set.
func (b *Base) CanHandle(e *event.Event) bool {
	if e == nil {
		return false
	}
	return b.Desc.Handles(e.Type)
}

// Validate defaults to "always valid".
func (b *Base) Validate(ctx context.Context, actx *Context) error {
	return nil
}

// Before marks the agent running and records the execution timestamp.
func (b *Base) Before(ctx context.Context, actx *Context) error {
	b.Desc.MarkStarted(time.Now().UTC())
	return nil
}

// After returns the agent to idle and bumps counters from the result.
func (b *Base) After(ctx context.Context, actx *Context, result *Result) {
	b.Desc.MarkFinished(result != nil && result.Success)
}

// OnError sets error status, counts the failure, and produces a user-facing
// failure result. The raw error is captured separately from the message shown
// to the end user.
func (b *Base) OnError(ctx context.Context, actx *Context, err error) *Result {
	b.Desc.MarkErrored()

	result := NewResult(b.Desc.Name)
	result.Success = false
	result.Message = errors.FormatForUser(err)
	if err != nil {
		result.Error = err.Error()
		result.ErrorCode = string(errors.Code(err))
	}
	if actx != nil && actx.Event != nil {
		result.EventID = actx.Event.ID
	}
	result.Complete()
	return result
}
