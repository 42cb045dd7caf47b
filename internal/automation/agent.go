package automation

import (
	"context"
	"fmt"
	"sync"

	"foreman/internal/agent"
	"foreman/internal/event"
)

// DispatchAgent exposes the automation executor as a coordination agent so
// the orchestrator can route events to configured automations like any other
// dispatch target. One dispatch agent serves many agent configs; trigger
// evaluation picks which configs fire for a given event.
type DispatchAgent struct {
	agent.Base

	executor *Executor

	mu      sync.RWMutex
	configs map[string]*AgentConfig
}

// NewDispatchAgent builds the dispatch agent. Handled event types grow as
// configs with event triggers are added.
func NewDispatchAgent(executor *Executor) *DispatchAgent {
	desc := agent.NewDescriptor("automation_dispatch")
	desc.Description = "routes events to configured automation agents"
	desc.Capabilities = []string{"automation"}
	return &DispatchAgent{
		Base:     agent.NewBase(desc),
		executor: executor,
		configs:  make(map[string]*AgentConfig),
	}
}

// AddConfig registers an automation agent config and extends the handled
// event set with its event triggers. Configs that add new event types must be
// in place before the dispatch agent is registered with an orchestrator: the
// bus subscription snapshots the handled events at registration time, and
// Handles reads the descriptor without this agent's lock.
func (d *DispatchAgent) AddConfig(cfg *AgentConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[cfg.ID] = cfg
	for _, t := range cfg.Triggers {
		if t.Kind == TriggerEvent && t.EventType != "" && !d.Desc.Handles(t.EventType) {
			d.Desc.HandledEvents = append(d.Desc.HandledEvents, t.EventType)
		}
	}
}

// RemoveConfig drops a config. The handled event set is left as-is; stale
// types just stop matching any trigger.
func (d *DispatchAgent) RemoveConfig(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.configs, id)
}

// Configs returns a snapshot of registered configs.
func (d *DispatchAgent) Configs() []*AgentConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*AgentConfig, 0, len(d.configs))
	for _, cfg := range d.configs {
		out = append(out, cfg)
	}
	return out
}

// Execute evaluates triggers for every registered config against the event
// and runs the ones that fire. A run failure does not fail the dispatch:
// each run carries its own status and audit record.
func (d *DispatchAgent) Execute(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
	result := agent.NewResult(d.Desc.Name)
	if actx != nil && actx.Event != nil {
		result.EventID = actx.Event.ID
	}

	fired := 0
	succeeded := 0
	for _, cfg := range d.Configs() {
		e := eventOf(actx)
		fire, err := d.executor.EvaluateTriggers(ctx, cfg, e)
		if err != nil || !fire {
			continue
		}
		fired++
		run, err := d.executor.ExecuteAgent(ctx, cfg, triggerData(e))
		record := agent.ActionRecord{Type: "automation_run", Params: map[string]any{"agent_id": cfg.ID}}
		if err != nil {
			record.Error = err.Error()
		} else {
			record.Success = run.Status == RunSuccess
			record.Output = map[string]any{"run_id": run.ID, "status": string(run.Status), "shadow": run.IsShadow}
			if run.Status == RunSuccess {
				succeeded++
			}
		}
		result.AddAction(record)
	}

	result.Success = true
	result.Message = fmt.Sprintf("%d automation(s) fired, %d succeeded", fired, succeeded)
	result.SetOutput("fired", fired)
	result.SetOutput("succeeded", succeeded)
	result.Complete()
	return result, nil
}

func eventOf(actx *agent.Context) *event.Event {
	if actx == nil {
		return nil
	}
	return actx.Event
}

func triggerData(e *event.Event) map[string]any {
	if e == nil {
		return map[string]any{}
	}
	data := map[string]any{"event_type": string(e.Type), "event_id": e.ID}
	for k, v := range e.Payload {
		data[k] = v
	}
	return data
}
