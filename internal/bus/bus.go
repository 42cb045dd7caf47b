// Package bus decouples event publishers from agent subscribers with a
// bounded, priority-ordered, at-least-once delivery queue.
package bus

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"foreman/internal/agent"
	"foreman/internal/async"
	"foreman/internal/errors"
	"foreman/internal/event"
	"foreman/internal/id"
	"foreman/internal/logging"
)

const (
	// DefaultCapacity bounds the pending queue; Publish fails rather than
	// blocking when the bound is reached.
	DefaultCapacity = 10000
	// DefaultMaxAttempts bounds event-level redelivery.
	DefaultMaxAttempts = 3
	// DefaultHistorySize bounds the terminal-event inspection ring.
	DefaultHistorySize = 1000
)

// Handler invokes one subscriber for one event. The orchestrator installs its
// full lifecycle executor here; tests install stubs.
type Handler func(ctx context.Context, a agent.Agent, e *event.Event) *agent.Result

// Filter optionally narrows a subscription beyond its event types.
type Filter func(e *event.Event) bool

// Subscription binds an agent to a set of event types at a priority.
type Subscription struct {
	ID         string
	AgentName  string
	Agent      agent.Agent
	EventTypes map[event.Type]struct{}
	Priority   int
	Filter     Filter
	seq        int
}

// HistoryEntry records one terminal event for inspection.
type HistoryEntry struct {
	EventID     string     `json:"event_id"`
	EventType   event.Type `json:"event_type"`
	Status      string     `json:"status"` // completed | failed
	Attempts    int        `json:"attempts"`
	Subscribers int        `json:"subscribers"`
	Error       string     `json:"error,omitempty"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Pending   int   `json:"pending"`
	Published int64 `json:"published"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// Config tunes the bus. Zero values fall back to defaults.
type Config struct {
	Capacity    int
	MaxAttempts int
	HistorySize int
}

type queuedEvent struct {
	event      *event.Event
	priority   event.Priority
	attempts   int
	enqueuedAt time.Time
	seq        uint64
	index      int
}

// eventHeap orders by priority band first, FIFO within a band.
type eventHeap []*queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	item := x.(*queuedEvent)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Bus routes events to subscribers. Subscription table, queue, and history
// share one writer lock; delivery resolves subscribers under the read side so
// publishes are not blocked by in-flight handler work.
type Bus struct {
	mu       sync.RWMutex
	subs     map[event.Type][]*Subscription
	byAgent  map[string][]*Subscription
	queue    eventHeap
	history  []HistoryEntry
	nextSeq  uint64
	nextSub  int

	capacity    int
	maxAttempts int
	historySize int

	published int64
	processed int64
	failed    int64
	retried   int64

	handler Handler
	logger  logging.Logger

	notify   chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
	started  bool
}

// New creates a bus that delivers through handler.
func New(cfg Config, handler Handler, logger logging.Logger) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Bus{
		subs:        make(map[event.Type][]*Subscription),
		byAgent:     make(map[string][]*Subscription),
		capacity:    cfg.Capacity,
		maxAttempts: cfg.MaxAttempts,
		historySize: cfg.HistorySize,
		handler:     handler,
		logger:      logging.OrNop(logger),
		notify:      make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}
}

// Subscribe registers an agent for the given event types at the given
// priority. A nil or empty type list falls back to the agent's declared
// handled events. Subscribers for one type stay sorted by ascending priority
// with registration order breaking ties.
func (b *Bus) Subscribe(a agent.Agent, types []event.Type, priority int, filter Filter) (string, error) {
	if a == nil {
		return "", errors.NewValidationError("agent", "subscriber is required")
	}
	desc := a.Descriptor()
	if len(types) == 0 {
		types = desc.HandledEvents
	}
	if len(types) == 0 {
		return "", errors.NewValidationError("event_types", "subscription needs at least one event type")
	}

	sub := &Subscription{
		ID:         id.NewSubscriptionID(),
		AgentName:  desc.Name,
		Agent:      a,
		EventTypes: make(map[event.Type]struct{}, len(types)),
		Priority:   priority,
		Filter:     filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sub.seq = b.nextSub
	b.nextSub++
	for _, t := range types {
		sub.EventTypes[t] = struct{}{}
		b.subs[t] = append(b.subs[t], sub)
		sort.SliceStable(b.subs[t], func(i, j int) bool {
			if b.subs[t][i].Priority != b.subs[t][j].Priority {
				return b.subs[t][i].Priority < b.subs[t][j].Priority
			}
			return b.subs[t][i].seq < b.subs[t][j].seq
		})
	}
	b.byAgent[desc.Name] = append(b.byAgent[desc.Name], sub)

	b.logger.Debug("subscribed %s to %d event types at priority %d", desc.Name, len(types), priority)
	return sub.ID, nil
}

// Unsubscribe removes all of an agent's subscriptions. Idempotent; reports
// whether anything was removed.
func (b *Bus) Unsubscribe(agentName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.byAgent[agentName]
	if !ok {
		return false
	}
	delete(b.byAgent, agentName)

	owned := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		owned[sub.ID] = struct{}{}
	}
	for t, list := range b.subs {
		kept := list[:0]
		for _, sub := range list {
			if _, gone := owned[sub.ID]; !gone {
				kept = append(kept, sub)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = kept
		}
	}
	return true
}

// Publish enqueues an event at the given priority. Returns the event id, or a
// QueueFullError when the bound is reached.
func (b *Bus) Publish(e *event.Event, priority event.Priority) (string, error) {
	if e == nil {
		return "", errors.NewValidationError("event", "event is required")
	}

	b.mu.Lock()
	if len(b.queue) >= b.capacity {
		b.mu.Unlock()
		return "", &errors.QueueFullError{Capacity: b.capacity}
	}
	b.enqueueLocked(e, priority, 0)
	b.published++
	b.mu.Unlock()

	b.wake()
	return e.ID, nil
}

func (b *Bus) enqueueLocked(e *event.Event, priority event.Priority, attempts int) {
	item := &queuedEvent{
		event:      e,
		priority:   priority,
		attempts:   attempts,
		enqueuedAt: time.Now().UTC(),
		seq:        b.nextSeq,
	}
	b.nextSeq++
	heap.Push(&b.queue, item)
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// PublishImmediate bypasses the queue and synchronously invokes every
// matching subscriber in priority order. Fire-and-forget call sites use it
// for exactly-once, no-retry delivery. A failing subscriber never aborts its
// siblings; its failure comes back as an error result.
func (b *Bus) PublishImmediate(ctx context.Context, e *event.Event) []*agent.Result {
	if e == nil {
		return nil
	}
	subs := b.matchSubscribers(e)
	results := make([]*agent.Result, 0, len(subs))
	for _, sub := range subs {
		results = append(results, b.deliverOne(ctx, sub, e))
	}
	return results
}

func (b *Bus) deliverOne(ctx context.Context, sub *Subscription, e *event.Event) *agent.Result {
	var result *agent.Result
	async.Catch(b.logger, "bus-deliver-"+sub.AgentName, func() {
		result = b.handler(ctx, sub.Agent, e)
	}, func(recovered any) {
		result = agent.NewResult(sub.AgentName)
		result.Success = false
		result.EventID = e.ID
		result.Error = fmt.Sprintf("handler panic: %v", recovered)
		result.ErrorCode = string(errors.CodeExecution)
		result.Message = errors.FormatForUser(nil)
		result.Complete()
	})
	if result == nil {
		result = agent.NewResult(sub.AgentName)
		result.Success = true
		result.EventID = e.ID
		result.Complete()
	}
	return result
}

// matchSubscribers resolves delivery targets for an event: declared type
// membership, optional filter, a live CanHandle check, and the explicit
// target-agent override restricting delivery to exactly one subscriber.
func (b *Bus) matchSubscribers(e *event.Event) []*Subscription {
	b.mu.RLock()
	candidates := make([]*Subscription, len(b.subs[e.Type]))
	copy(candidates, b.subs[e.Type])
	b.mu.RUnlock()

	matched := make([]*Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if e.TargetAgent != "" && sub.AgentName != e.TargetAgent {
			continue
		}
		if sub.Filter != nil && !sub.Filter(e) {
			continue
		}
		if !sub.Agent.CanHandle(e) {
			continue
		}
		matched = append(matched, sub)
		if e.TargetAgent != "" {
			break
		}
	}
	return matched
}

// Start launches the background processing loop. It runs until ctx is
// cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	async.Go(b.logger, "bus-loop", func() {
		b.loop(ctx)
	})
}

// Stop terminates the processing loop. Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopped)
	})
}

func (b *Bus) loop(ctx context.Context) {
	for {
		item := b.pop()
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-b.stopped:
				return
			case <-b.notify:
				continue
			}
		}
		b.process(ctx, item)

		select {
		case <-ctx.Done():
			return
		case <-b.stopped:
			return
		default:
		}
	}
}

func (b *Bus) pop() *queuedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	return heap.Pop(&b.queue).(*queuedEvent)
}

// process delivers one dequeued event to every matching subscriber in
// priority order. Any subscriber failure triggers an event-level requeue at
// the original priority until attempts are exhausted; all subscribers re-run
// on retry, so handlers must tolerate re-delivery.
func (b *Bus) process(ctx context.Context, item *queuedEvent) {
	e := item.event
	subs := b.matchSubscribers(e)

	if len(subs) == 0 {
		b.finish(item, "completed", 0, "")
		return
	}

	var firstErr string
	for _, sub := range subs {
		result := b.deliverOne(ctx, sub, e)
		if !result.Success && firstErr == "" {
			firstErr = result.Error
			if firstErr == "" {
				firstErr = "subscriber " + sub.AgentName + " failed"
			}
		}
	}

	if firstErr == "" {
		b.finish(item, "completed", len(subs), "")
		return
	}

	if item.attempts+1 < b.maxAttempts {
		b.mu.Lock()
		// Publishers may have refilled the queue since this event was
		// popped; the capacity bound holds for retries too.
		if len(b.queue) >= b.capacity {
			b.mu.Unlock()
			b.finish(item, "failed", len(subs), firstErr+" (queue full, retry dropped)")
			b.logger.Error("event %s failed and the queue is full, dropping retry: %s", e.ID, firstErr)
			return
		}
		b.retried++
		b.enqueueLocked(e, item.priority, item.attempts+1)
		b.mu.Unlock()
		b.wake()
		b.logger.Warn("event %s failed (attempt %d/%d), requeued: %s", e.ID, item.attempts+1, b.maxAttempts, firstErr)
		return
	}

	b.finish(item, "failed", len(subs), firstErr)
	b.logger.Error("event %s failed permanently after %d attempts: %s", e.ID, item.attempts+1, firstErr)
}

func (b *Bus) finish(item *queuedEvent, status string, subscribers int, errMsg string) {
	entry := HistoryEntry{
		EventID:     item.event.ID,
		EventType:   item.event.Type,
		Status:      status,
		Attempts:    item.attempts + 1,
		Subscribers: subscribers,
		Error:       errMsg,
		FinishedAt:  time.Now().UTC(),
	}

	b.mu.Lock()
	b.processed++
	if status == "failed" {
		b.failed++
	}
	b.history = append(b.history, entry)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
	b.mu.Unlock()
}

// Stats returns a point-in-time activity snapshot.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Pending:   len(b.queue),
		Published: b.published,
		Processed: b.processed,
		Failed:    b.failed,
		Retried:   b.retried,
	}
}

// History returns up to limit most recent terminal events, newest last.
func (b *Bus) History(limit int) []HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]HistoryEntry, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// SubscriberCount reports how many subscriptions exist for an event type.
func (b *Bus) SubscriberCount(t event.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}
