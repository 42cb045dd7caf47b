package agent

import (
	"sync"
	"time"

	"foreman/internal/event"
)

// Status tracks an agent's runtime state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// DefaultTimeout bounds a single agent execution.
const DefaultTimeout = 60 * time.Second

// Descriptor holds an agent's static identity and mutable runtime counters.
// All mutation goes through methods so concurrent dispatch paths stay
// consistent.
type Descriptor struct {
	Name          string
	Description   string
	Version       string
	Capabilities  []string
	HandledEvents []event.Type
	Priority      int
	Timeout       time.Duration

	mu             sync.RWMutex
	status         Status
	enabled        bool
	executionCount int64
	errorCount     int64
	lastExecutedAt time.Time
}

// NewDescriptor creates a descriptor with idle status and default timeout.
func NewDescriptor(name string) *Descriptor {
	return &Descriptor{
		Name:    name,
		Version: "1.0.0",
		Timeout: DefaultTimeout,
		status:  StatusIdle,
		enabled: true,
	}
}

// Status returns the current runtime status.
func (d *Descriptor) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// SetStatus transitions the runtime status.
func (d *Descriptor) SetStatus(status Status) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
}

// Enabled reports whether the orchestrator may invoke the agent.
func (d *Descriptor) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled toggles the enabled flag.
func (d *Descriptor) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Invocable reports whether dispatch should consider the agent at all:
// disabled and paused agents are skipped before the lifecycle starts.
func (d *Descriptor) Invocable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled && d.status != StatusPaused && d.status != StatusDisabled
}

// MarkStarted records the start of an execution.
func (d *Descriptor) MarkStarted(at time.Time) {
	d.mu.Lock()
	d.status = StatusRunning
	d.lastExecutedAt = at
	d.mu.Unlock()
}

// MarkFinished increments counters and returns the agent to idle.
func (d *Descriptor) MarkFinished(success bool) {
	d.mu.Lock()
	d.status = StatusIdle
	d.executionCount++
	if !success {
		d.errorCount++
	}
	d.mu.Unlock()
}

// MarkErrored records a failed execution that did not finish cleanly.
func (d *Descriptor) MarkErrored() {
	d.mu.Lock()
	d.status = StatusError
	d.executionCount++
	d.errorCount++
	d.mu.Unlock()
}

// Counters returns execution count, error count, and last execution time.
func (d *Descriptor) Counters() (executions, errors int64, lastExecutedAt time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.executionCount, d.errorCount, d.lastExecutedAt
}

// Handles reports whether the descriptor declares the given event type.
func (d *Descriptor) Handles(t event.Type) bool {
	for _, handled := range d.HandledEvents {
		if handled == t {
			return true
		}
	}
	return false
}

// HasCapability reports whether the descriptor declares a capability tag.
func (d *Descriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// EffectiveTimeout returns the declared timeout or the default.
func (d *Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}
