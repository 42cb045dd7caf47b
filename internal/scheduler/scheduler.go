// Package scheduler drives time-based coordination: cron jobs that publish
// tick events onto the bus and run automation trigger sweeps.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"foreman/internal/bus"
	"foreman/internal/event"
	"foreman/internal/logging"
)

// Policy decides what happens when a job is still running at its next tick.
type Policy string

const (
	// PolicySkip drops the overlapping tick.
	PolicySkip Policy = "skip"
	// PolicyDelay queues the tick until the running invocation finishes.
	PolicyDelay Policy = "delay"
)

// DefaultJobTimeout bounds one job invocation.
const DefaultJobTimeout = 5 * time.Minute

// Job is one scheduled unit of work.
type Job struct {
	Name    string
	Spec    string // standard 5-field cron expression
	Policy  Policy
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler wraps a cron runner with per-job overlap policies and timeouts.
type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID

	stopOnce sync.Once
}

// New builds a stopped scheduler. Call Start to begin ticking.
func New(logger logging.Logger) *Scheduler {
	logger = logging.OrNop(logger)
	cl := &cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(cron.Recover(cl)),
		),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a job. Adding a name twice replaces the earlier schedule.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run func", job.Name)
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	name := job.Name
	run := job.Run
	wrapped := s.overlapWrapper(job.Policy)(cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		started := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error("scheduler: job %s failed after %s: %v", name, time.Since(started).Round(time.Millisecond), err)
			return
		}
		s.logger.Debug("scheduler: job %s finished in %s", name, time.Since(started).Round(time.Millisecond))
	}))

	entryID, err := s.cron.AddJob(job.Spec, wrapped)
	if err != nil {
		return fmt.Errorf("scheduler: adding job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[job.Name]; ok {
		s.cron.Remove(old)
	}
	s.entries[job.Name] = entryID
	s.mu.Unlock()

	s.logger.Info("scheduler: job %s registered with spec %q", job.Name, job.Spec)
	return nil
}

// Remove unschedules a job. Unknown names are a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// Start begins ticking in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler: started with %d job(s)", len(s.Jobs()))
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		done := s.cron.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (s *Scheduler) overlapWrapper(p Policy) func(cron.Job) cron.Job {
	cl := &cronLogger{logger: s.logger}
	switch p {
	case PolicyDelay:
		chain := cron.NewChain(cron.DelayIfStillRunning(cl))
		return chain.Then
	default:
		chain := cron.NewChain(cron.SkipIfStillRunning(cl))
		return chain.Then
	}
}

// AddTickPublisher schedules a job that publishes a scheduled-tick event onto
// the bus. The payload is copied per tick with the tick name attached.
func (s *Scheduler) AddTickPublisher(name, spec string, b *bus.Bus, priority event.Priority, payload map[string]any) error {
	return s.Add(Job{
		Name:   name,
		Spec:   spec,
		Policy: PolicySkip,
		Run: func(ctx context.Context) error {
			data := map[string]any{"tick": name}
			for k, v := range payload {
				data[k] = v
			}
			e := event.New(event.TypeScheduledTick, "scheduler", event.WithPayload(data))
			if _, err := b.Publish(e, priority); err != nil {
				return fmt.Errorf("publishing tick %s: %w", name, err)
			}
			return nil
		},
	})
}

// cronLogger adapts our logger to the cron library's key/value logger.
type cronLogger struct {
	logger logging.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
