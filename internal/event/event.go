package event

import (
	"time"

	"foreman/internal/id"
)

// Type identifies the kind of domain occurrence an event describes.
type Type string

const (
	// Task lifecycle.
	TypeTaskCreated   Type = "task.created"
	TypeTaskUpdated   Type = "task.updated"
	TypeTaskBlocked   Type = "task.blocked"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskOverdue   Type = "task.overdue"

	// Check-in lifecycle.
	TypeCheckinDue      Type = "checkin.due"
	TypeCheckinResponse Type = "checkin.response"

	// User interaction.
	TypeUserMessage Type = "user.message"
	TypeUserCommand Type = "user.command"

	// System sources.
	TypeScheduledTick      Type = "system.scheduled_tick"
	TypeIntegrationWebhook Type = "integration.webhook"
	TypeAgentChain         Type = "agent.chain"
	TypeSyncRequested      Type = "sync.requested"
	TypeExternalUpdate     Type = "external.update"
)

// Priority orders event delivery. Lower numeric value dequeues first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// DefaultMaxChainDepth bounds follow-up event cascades.
const DefaultMaxChainDepth = 5

// Event is the routing unit of the coordination core. Treat it as immutable
// after publish: follow-ups are derived with Child rather than mutated in
// place.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TargetAgent   string         `json:"target_agent,omitempty"`
	OrgID         string         `json:"org_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	ChainDepth    int            `json:"chain_depth"`
	MaxChainDepth int            `json:"max_chain_depth"`
}

// Option mutates an event during construction.
type Option func(*Event)

// WithPayload sets the event payload.
func WithPayload(payload map[string]any) Option {
	return func(e *Event) { e.Payload = payload }
}

// WithMetadata sets the event metadata.
func WithMetadata(metadata map[string]any) Option {
	return func(e *Event) { e.Metadata = metadata }
}

// WithTarget restricts delivery to a single named agent.
func WithTarget(agentName string) Option {
	return func(e *Event) { e.TargetAgent = agentName }
}

// WithScope attaches org/user/task identifiers for routing and context.
func WithScope(orgID, userID, taskID string) Option {
	return func(e *Event) {
		e.OrgID = orgID
		e.UserID = userID
		e.TaskID = taskID
	}
}

// WithMaxChainDepth overrides the default chain bound.
func WithMaxChainDepth(depth int) Option {
	return func(e *Event) { e.MaxChainDepth = depth }
}

// New creates an event with a fresh id and timestamp.
func New(eventType Type, source string, opts ...Option) *Event {
	e := &Event{
		ID:            id.NewEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		MaxChainDepth: DefaultMaxChainDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Child derives a follow-up event one chain hop deeper than its parent. The
// child inherits scoping and the parent's chain bound.
func (e *Event) Child(eventType Type, payload map[string]any) *Event {
	child := New(eventType, "agent_chain",
		WithPayload(payload),
		WithScope(e.OrgID, e.UserID, e.TaskID),
		WithMaxChainDepth(e.MaxChainDepth),
	)
	child.ParentEventID = e.ID
	child.ChainDepth = e.ChainDepth + 1
	return child
}

// ExceedsChainDepth reports whether the event has hopped past its bound and
// must be dropped instead of executed.
func (e *Event) ExceedsChainDepth() bool {
	max := e.MaxChainDepth
	if max <= 0 {
		max = DefaultMaxChainDepth
	}
	return e.ChainDepth > max
}

// PayloadString returns a string payload field, or "" when absent.
func (e *Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}
