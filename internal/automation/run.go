package automation

import (
	"context"
	"sync"
	"time"
)

func nowUTC() time.Time { return time.Now().UTC() }

// RunStatus is a run's terminal (or in-flight) state.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// ActionResult records one action attempt within a run, including how many
// attempts it took and which recovery path (if any) resolved it.
type ActionResult struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	Attempts  int            `json:"attempts"`
	Success   bool           `json:"success"`
	Simulated bool           `json:"simulated,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Recovery  string         `json:"recovery,omitempty"`
}

// Run is the audit record of one executor invocation.
type Run struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Status          RunStatus      `json:"status"`
	IsShadow        bool           `json:"is_shadow"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	Results         []ActionResult `json:"results,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// Complete stamps the run's end time and duration.
func (r *Run) Complete(status RunStatus) {
	r.Status = status
	r.CompletedAt = time.Now().UTC()
	r.ExecutionTimeMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// RunStore persists run records.
type RunStore interface {
	Save(ctx context.Context, run *Run) error
	Recent(ctx context.Context, agentID string, limit int) ([]*Run, error)
}

// MemoryRunStore keeps runs in memory, newest first per agent.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string][]*Run
	cap  int
}

// NewMemoryRunStore bounds retained runs per agent; cap <= 0 means 100.
func NewMemoryRunStore(cap int) *MemoryRunStore {
	if cap <= 0 {
		cap = 100
	}
	return &MemoryRunStore{runs: make(map[string][]*Run), cap: cap}
}

func (s *MemoryRunStore) Save(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]*Run{run}, s.runs[run.AgentID]...)
	if len(list) > s.cap {
		list = list[:s.cap]
	}
	s.runs[run.AgentID] = list
	return nil
}

func (s *MemoryRunStore) Recent(_ context.Context, agentID string, limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.runs[agentID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*Run, limit)
	copy(out, list[:limit])
	return out, nil
}
