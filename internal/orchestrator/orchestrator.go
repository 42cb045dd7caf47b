// Package orchestrator is the central agent registry and dispatcher: it turns
// "an event happened" or "run these named agents" into concrete executions.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"foreman/internal/agent"
	"foreman/internal/async"
	"foreman/internal/bus"
	"foreman/internal/errors"
	"foreman/internal/event"
	"foreman/internal/logging"
)

// DefaultHistorySize bounds the execution history ring.
const DefaultHistorySize = 1000

// ExecutionRecord is one entry in the orchestrator's audit ring.
type ExecutionRecord struct {
	AgentName  string     `json:"agent_name"`
	EventID    string     `json:"event_id,omitempty"`
	EventType  event.Type `json:"event_type,omitempty"`
	Success    bool       `json:"success"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMS int64      `json:"duration_ms"`
}

// AgentStats summarizes one registered agent for introspection.
type AgentStats struct {
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Priority       int       `json:"priority"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	ExecutionCount int64     `json:"execution_count"`
	ErrorCount     int64     `json:"error_count"`
	LastExecutedAt time.Time `json:"last_executed_at,omitempty"`
}

// Stats is the orchestrator's introspection snapshot.
type Stats struct {
	Agents        []AgentStats   `json:"agents"`
	Capabilities  map[string]int `json:"capabilities"`
	ChainDropped  int64          `json:"chain_dropped"`
	HistoryLength int            `json:"history_length"`
}

// Config tunes the orchestrator.
type Config struct {
	HistorySize int
	Metrics     *Metrics
	Logger      logging.Logger
}

type registration struct {
	agent agent.Agent
	seq   int
}

// Orchestrator owns the agent registry and all dispatch paths. Construct it
// explicitly and pass it by reference; there is no package-level instance.
type Orchestrator struct {
	mu           sync.RWMutex
	agents       map[string]*registration
	byCapability map[string][]string
	nextSeq      int
	history      []ExecutionRecord
	historySize  int
	chainDropped int64

	eventBus *bus.Bus
	metrics  *Metrics
	logger   logging.Logger
	tracer   trace.Tracer
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = defaultMetrics()
	}
	return &Orchestrator{
		agents:       make(map[string]*registration),
		byCapability: make(map[string][]string),
		historySize:  cfg.HistorySize,
		metrics:      metrics,
		logger:       logging.OrNop(cfg.Logger),
		tracer:       otel.Tracer("foreman/orchestrator"),
	}
}

// AttachBus wires a bus for follow-up publishing and auto-subscribes every
// already-registered agent that declares handled events.
func (o *Orchestrator) AttachBus(b *bus.Bus) {
	o.mu.Lock()
	o.eventBus = b
	registered := make([]agent.Agent, 0, len(o.agents))
	for _, reg := range o.agents {
		registered = append(registered, reg.agent)
	}
	o.mu.Unlock()

	for _, a := range registered {
		o.subscribeToBus(a)
	}
}

// Deliver is the bus.Handler the orchestrator installs: it runs the full
// lifecycle for one subscriber and one event, continuing follow-up chains.
func (o *Orchestrator) Deliver(ctx context.Context, a agent.Agent, e *event.Event) *agent.Result {
	// Bus subscriptions outlive pause/disable; the invocable gate has to
	// hold on this path too, not only in matchAgents.
	if !a.Descriptor().Invocable() {
		o.logger.Debug("skipping %s for event %s: agent is not invocable", a.Descriptor().Name, e.ID)
		return nil
	}
	actx := agent.NewContext(e, nil)
	result := o.invoke(ctx, a, actx)
	if result != nil && result.Success {
		o.republishFollowUps(e, result)
	}
	return result
}

// Register stores an agent, indexes it by every declared capability, and
// auto-subscribes it to the bus at its declared priority.
func (o *Orchestrator) Register(a agent.Agent) error {
	if a == nil {
		return errors.NewValidationError("agent", "agent is required")
	}
	desc := a.Descriptor()
	if desc == nil || desc.Name == "" {
		return errors.NewValidationError("name", "agent name is required")
	}

	o.mu.Lock()
	if _, exists := o.agents[desc.Name]; exists {
		o.mu.Unlock()
		return fmt.Errorf("agent %q already registered", desc.Name)
	}
	o.agents[desc.Name] = &registration{agent: a, seq: o.nextSeq}
	o.nextSeq++
	for _, capability := range desc.Capabilities {
		o.byCapability[capability] = append(o.byCapability[capability], desc.Name)
	}
	o.mu.Unlock()

	o.subscribeToBus(a)
	o.logger.Info("registered agent %s (capabilities=%v, events=%d, priority=%d)",
		desc.Name, desc.Capabilities, len(desc.HandledEvents), desc.Priority)
	return nil
}

func (o *Orchestrator) subscribeToBus(a agent.Agent) {
	o.mu.RLock()
	b := o.eventBus
	o.mu.RUnlock()
	desc := a.Descriptor()
	if b == nil || len(desc.HandledEvents) == 0 {
		return
	}
	if _, err := b.Subscribe(a, desc.HandledEvents, desc.Priority, nil); err != nil {
		o.logger.Warn("failed to subscribe %s to bus: %v", desc.Name, err)
	}
}

// Unregister removes an agent from the registry, capability index, and bus.
func (o *Orchestrator) Unregister(name string) bool {
	o.mu.Lock()
	_, ok := o.agents[name]
	if !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.agents, name)
	for capability, names := range o.byCapability {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(o.byCapability, capability)
		} else {
			o.byCapability[capability] = kept
		}
	}
	b := o.eventBus
	o.mu.Unlock()

	if b != nil {
		b.Unsubscribe(name)
	}
	return true
}

// Agent returns a registered agent by name.
func (o *Orchestrator) Agent(name string) (agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	reg, ok := o.agents[name]
	if !ok {
		return nil, false
	}
	return reg.agent, true
}

// AgentsByCapability returns agents declaring the given capability tag, in
// registration order.
func (o *Orchestrator) AgentsByCapability(capability string) []agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := o.byCapability[capability]
	out := make([]agent.Agent, 0, len(names))
	for _, name := range names {
		if reg, ok := o.agents[name]; ok {
			out = append(out, reg.agent)
		}
	}
	return out
}

// matchAgents resolves handlers for an event: declared event type, a true
// CanHandle, the invocable gate, and the target-agent override. The returned
// slice is sorted by ascending priority with registration order breaking
// ties.
func (o *Orchestrator) matchAgents(e *event.Event) []agent.Agent {
	o.mu.RLock()
	regs := make([]*registration, 0, len(o.agents))
	for _, reg := range o.agents {
		regs = append(regs, reg)
	}
	o.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool {
		pi, pj := regs[i].agent.Descriptor().Priority, regs[j].agent.Descriptor().Priority
		if pi != pj {
			return pi < pj
		}
		return regs[i].seq < regs[j].seq
	})

	matched := make([]agent.Agent, 0, len(regs))
	for _, reg := range regs {
		desc := reg.agent.Descriptor()
		if e.TargetAgent != "" && desc.Name != e.TargetAgent {
			continue
		}
		if !desc.Invocable() {
			continue
		}
		if !desc.Handles(e.Type) {
			continue
		}
		if !reg.agent.CanHandle(e) {
			continue
		}
		matched = append(matched, reg.agent)
		if e.TargetAgent != "" {
			break
		}
	}
	return matched
}

// HandleEvent routes an event to every matching agent in priority order over
// one shared context, then republishes follow-up events with their chain
// depth advanced. Events past their chain bound are dropped, observable in
// Stats.
func (o *Orchestrator) HandleEvent(ctx context.Context, e *event.Event, store agent.Store) []*agent.Result {
	if e == nil {
		return nil
	}
	if e.ExceedsChainDepth() {
		o.dropChained(e)
		return nil
	}

	handlers := o.matchAgents(e)
	if len(handlers) == 0 {
		o.logger.Debug("no handler matched event %s (%s)", e.ID, e.Type)
		return nil
	}

	actx := agent.NewContext(e, store)
	results := make([]*agent.Result, 0, len(handlers))
	for _, a := range handlers {
		result := o.invoke(ctx, a, actx)
		results = append(results, result)
		if result.Success {
			o.republishFollowUps(e, result)
		}
	}
	return results
}

func (o *Orchestrator) republishFollowUps(parent *event.Event, result *agent.Result) {
	for _, followUp := range result.FollowUpEvents {
		if followUp == nil {
			continue
		}
		if followUp.ParentEventID == "" {
			followUp.ParentEventID = parent.ID
			followUp.ChainDepth = parent.ChainDepth + 1
			if followUp.MaxChainDepth == 0 {
				followUp.MaxChainDepth = parent.MaxChainDepth
			}
		}
		if followUp.ExceedsChainDepth() {
			o.dropChained(followUp)
			continue
		}

		o.mu.RLock()
		b := o.eventBus
		o.mu.RUnlock()
		if b == nil {
			o.logger.Warn("no bus attached, dropping follow-up event %s", followUp.ID)
			continue
		}
		if _, err := b.Publish(followUp, event.PriorityNormal); err != nil {
			o.logger.Warn("failed to republish follow-up %s: %v", followUp.ID, err)
		}
	}
}

func (o *Orchestrator) dropChained(e *event.Event) {
	o.mu.Lock()
	o.chainDropped++
	o.mu.Unlock()
	o.metrics.IncChainDrop()
	o.logger.Info("dropped event %s: chain depth %d exceeds max %d", e.ID, e.ChainDepth, e.MaxChainDepth)
}

// ExecuteAgent invokes a single agent by name outside of event matching.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, name string, actx *agent.Context) (*agent.Result, error) {
	a, ok := o.Agent(name)
	if !ok {
		return nil, errors.NewNotFoundError("agent", name)
	}
	if !a.Descriptor().Invocable() {
		return nil, fmt.Errorf("agent %q is not invocable (disabled or paused)", name)
	}
	if actx == nil {
		actx = agent.NewContext(nil, nil)
	}
	return o.invoke(ctx, a, actx), nil
}

// RunPipeline executes agents strictly in the given order over one shared
// context. Each stage's result lands in the context before the next stage
// runs, so later stages can read earlier output via ChainResult. When
// stopOnError is set the pipeline halts at the first failure.
func (o *Orchestrator) RunPipeline(ctx context.Context, names []string, actx *agent.Context, stopOnError bool) []*agent.Result {
	if actx == nil {
		actx = agent.NewContext(nil, nil)
	}
	results := make([]*agent.Result, 0, len(names))
	for _, name := range names {
		result, err := o.ExecuteAgent(ctx, name, actx)
		if err != nil {
			result = failureResult(name, actx, err)
		}
		actx.AppendResult(result)
		results = append(results, result)
		if !result.Success && stopOnError {
			o.logger.Info("pipeline stopped at %s", name)
			break
		}
	}
	return results
}

// RunParallel clones the context once per agent and executes all agents
// concurrently. A failing or panicking branch becomes a failure result
// tagged with that agent's name; it never cancels its siblings.
func (o *Orchestrator) RunParallel(ctx context.Context, names []string, actx *agent.Context) []*agent.Result {
	if actx == nil {
		actx = agent.NewContext(nil, nil)
	}
	results := make([]*agent.Result, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		branch := actx.Clone()
		go func(idx int, agentName string, bctx *agent.Context) {
			defer wg.Done()
			async.Catch(o.logger, "parallel-"+agentName, func() {
				result, err := o.ExecuteAgent(ctx, agentName, bctx)
				if err != nil {
					result = failureResult(agentName, bctx, err)
				}
				results[idx] = result
			}, func(recovered any) {
				results[idx] = failureResult(agentName, bctx, fmt.Errorf("panic: %v", recovered))
			})
		}(i, name, branch)
	}
	wg.Wait()
	return results
}

func failureResult(agentName string, actx *agent.Context, err error) *agent.Result {
	result := agent.NewResult(agentName)
	result.Success = false
	result.Error = err.Error()
	result.ErrorCode = string(errors.Code(err))
	result.Message = errors.FormatForUser(err)
	if actx != nil && actx.Event != nil {
		result.EventID = actx.Event.ID
	}
	result.Complete()
	return result
}

// invoke drives the full lifecycle for one agent: validate, before, execute
// under the agent's timeout, then after — with OnError substituting on any
// failure. A timed-out execution still produces a well-formed result.
func (o *Orchestrator) invoke(ctx context.Context, a agent.Agent, actx *agent.Context) *agent.Result {
	desc := a.Descriptor()
	started := time.Now().UTC()

	ctx, span := o.tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.name", desc.Name),
	))
	defer span.End()

	o.metrics.ExecutionStarted()
	defer o.metrics.ExecutionFinished()

	if err := a.Validate(ctx, actx); err != nil {
		result := a.OnError(ctx, actx, err)
		o.record(desc.Name, actx, result, started)
		return result
	}
	if err := a.Before(ctx, actx); err != nil {
		result := a.OnError(ctx, actx, err)
		o.record(desc.Name, actx, result, started)
		return result
	}

	result, err := o.executeWithTimeout(ctx, a, actx)
	if err != nil {
		result = a.OnError(ctx, actx, err)
		o.record(desc.Name, actx, result, started)
		return result
	}

	if result == nil {
		result = agent.NewResult(desc.Name)
		result.Success = true
	}
	if result.EventID == "" && actx.Event != nil {
		result.EventID = actx.Event.ID
	}
	result.Complete()
	a.After(ctx, actx, result)
	o.record(desc.Name, actx, result, started)
	return result
}

// executeWithTimeout runs Execute bounded by the agent's declared timeout.
// The caller is never left waiting past the deadline, even when the agent
// ignores context cancellation.
func (o *Orchestrator) executeWithTimeout(ctx context.Context, a agent.Agent, actx *agent.Context) (*agent.Result, error) {
	timeout := a.Descriptor().EffectiveTimeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *agent.Result
		err    error
	}
	done := make(chan outcome, 1)
	async.Go(o.logger, "execute-"+a.Descriptor().Name, func() {
		var out outcome
		async.Catch(o.logger, "execute-"+a.Descriptor().Name, func() {
			out.result, out.err = a.Execute(execCtx, actx)
		}, func(recovered any) {
			out.err = fmt.Errorf("agent panic: %v", recovered)
		})
		done <- out
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-execCtx.Done():
		return nil, fmt.Errorf("agent %s timed out after %s: %w", a.Descriptor().Name, timeout, execCtx.Err())
	}
}

func (o *Orchestrator) record(agentName string, actx *agent.Context, result *agent.Result, started time.Time) {
	entry := ExecutionRecord{
		AgentName: agentName,
		Success:   result != nil && result.Success,
		StartedAt: started,
	}
	if actx != nil && actx.Event != nil {
		entry.EventID = actx.Event.ID
		entry.EventType = actx.Event.Type
	}
	duration := time.Since(started)
	entry.DurationMS = duration.Milliseconds()

	status := "success"
	if !entry.Success {
		status = "failure"
		reason := "error"
		if result != nil && result.ErrorCode != "" {
			reason = result.ErrorCode
		}
		o.metrics.IncFailure(agentName, reason)
	}
	o.metrics.ObserveExecution(agentName, status, duration)

	o.mu.Lock()
	o.history = append(o.history, entry)
	if len(o.history) > o.historySize {
		o.history = o.history[len(o.history)-o.historySize:]
	}
	o.mu.Unlock()
}

// History returns up to limit most recent execution records, newest last.
func (o *Orchestrator) History(limit int) []ExecutionRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	out := make([]ExecutionRecord, limit)
	copy(out, o.history[len(o.history)-limit:])
	return out
}

// Stats returns per-agent counters and the capability index for
// introspection.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := Stats{
		Capabilities:  make(map[string]int, len(o.byCapability)),
		ChainDropped:  o.chainDropped,
		HistoryLength: len(o.history),
	}
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		desc := o.agents[name].agent.Descriptor()
		executions, errCount, last := desc.Counters()
		stats.Agents = append(stats.Agents, AgentStats{
			Name:           name,
			Status:         string(desc.Status()),
			Priority:       desc.Priority,
			Capabilities:   desc.Capabilities,
			ExecutionCount: executions,
			ErrorCount:     errCount,
			LastExecutedAt: last,
		})
	}
	for capability, agentNames := range o.byCapability {
		stats.Capabilities[capability] = len(agentNames)
	}
	return stats
}
