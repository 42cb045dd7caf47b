package agent

import (
	"sync"
	"time"

	"foreman/internal/event"
)

// ActionRecord captures one side-effecting step an agent performed or
// suggested, small enough to embed in results and run records.
type ActionRecord struct {
	Type    string         `json:"type"`
	Params  map[string]any `json:"params,omitempty"`
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Usage accumulates resource counters for one execution.
type Usage struct {
	Tokens   int `json:"tokens"`
	APICalls int `json:"api_calls"`
}

// Result is the outcome of a single agent execution. The Message field is the
// only text shown to end users; raw errors stay in Error/ErrorCode.
type Result struct {
	Success        bool           `json:"success"`
	AgentName      string         `json:"agent_name"`
	EventID        string         `json:"event_id,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	DurationMS     int64          `json:"duration_ms"`
	Output         map[string]any `json:"output,omitempty"`
	Message        string         `json:"message,omitempty"`
	Actions        []ActionRecord `json:"actions,omitempty"`
	FollowUpEvents []*event.Event `json:"follow_up_events,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Usage          Usage          `json:"usage"`

	completeOnce sync.Once
}

// NewResult starts a result for the given agent, stamping StartedAt.
func NewResult(agentName string) *Result {
	return &Result{
		AgentName: agentName,
		StartedAt: time.Now().UTC(),
		Output:    make(map[string]any),
	}
}

// Complete stamps CompletedAt and DurationMS exactly once. Later calls are
// no-ops so a result finished by a timeout path cannot be re-completed by the
// regular path.
func (r *Result) Complete() {
	r.completeOnce.Do(func() {
		r.CompletedAt = time.Now().UTC()
		if !r.StartedAt.IsZero() {
			r.DurationMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
		}
	})
}

// AddAction appends an action record.
func (r *Result) AddAction(record ActionRecord) {
	r.Actions = append(r.Actions, record)
}

// AddFollowUp queues a follow-up event for the orchestrator to republish.
func (r *Result) AddFollowUp(e *event.Event) {
	if e != nil {
		r.FollowUpEvents = append(r.FollowUpEvents, e)
	}
}

// SetOutput stores a key in the output map, allocating it when needed.
func (r *Result) SetOutput(key string, value any) {
	if r.Output == nil {
		r.Output = make(map[string]any)
	}
	r.Output[key] = value
}
