package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"foreman/internal/agent/convstore"
	"foreman/internal/agents"
	"foreman/internal/automation"
	"foreman/internal/bus"
	"foreman/internal/config"
	"foreman/internal/event"
	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/orchestrator"
	"foreman/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logger := logging.NewComponentLogger("serve")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orch := orchestrator.New(orchestrator.Config{
		HistorySize: cfg.Orchestrator.HistorySize,
		Metrics:     orchestrator.MustNewMetrics(registry),
		Logger:      logging.NewComponentLogger("orchestrator"),
	})
	b := bus.New(bus.Config{
		Capacity:    cfg.Bus.Capacity,
		MaxAttempts: cfg.Bus.MaxAttempts,
		HistorySize: cfg.Bus.HistorySize,
	}, orch.Deliver, logging.NewComponentLogger("bus"))
	orch.AttachBus(b)

	sessions := convstore.New(convstore.Config{
		MaxSessions: cfg.Conversations.MaxSessions,
		TTL:         cfg.Conversations.TTL,
	})

	// The built-in agents run without a planning backend until one is
	// configured; they degrade rather than fail.
	if err := orch.Register(agents.NewChatAgent(nil, sessions, logging.NewComponentLogger("chat"))); err != nil {
		return err
	}
	if err := orch.Register(agents.NewUnblockAgent(nil, logging.NewComponentLogger("unblock"))); err != nil {
		return err
	}

	executor := automation.NewExecutor(nil, automation.NewActionRegistry(), nil,
		automation.NewMemoryRunStore(cfg.Automation.RunRetention),
		logging.NewComponentLogger("automation"))
	dispatch := automation.NewDispatchAgent(executor)
	if cfg.Automation.ManifestPath != "" {
		agentCfgs, err := config.LoadAgentManifest(cfg.Automation.ManifestPath)
		if err != nil {
			return err
		}
		for _, ac := range agentCfgs {
			dispatch.AddConfig(ac)
		}
		logger.Info("loaded %d automation agent(s) from %s", len(agentCfgs), cfg.Automation.ManifestPath)
	}
	if err := orch.Register(dispatch); err != nil {
		return err
	}

	sched := scheduler.New(logging.NewComponentLogger("scheduler"))
	for _, tick := range cfg.Ticks {
		if err := sched.AddTickPublisher(tick.Name, tick.Spec, b, parsePriority(tick.Priority), tick.Payload); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Start(ctx)
		sched.Start()
		logger.Info("foreman serving: %d agent(s), %d scheduled tick(s)", len(orch.Stats().Agents), len(cfg.Ticks))
		<-ctx.Done()
		return nil
	})

	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	g.Go(func() error {
		logger.Info("metrics listening on %s", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler did not stop cleanly: %v", err)
		}
		b.Stop()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("foreman stopped")
	return err
}

func parsePriority(name string) event.Priority {
	switch name {
	case "critical":
		return event.PriorityCritical
	case "high":
		return event.PriorityHigh
	case "low":
		return event.PriorityLow
	default:
		return event.PriorityNormal
	}
}
