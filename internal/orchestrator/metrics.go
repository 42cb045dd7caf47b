package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report dispatch activity.
type Metrics struct {
	executionDuration *prometheus.HistogramVec
	executionFailures *prometheus.CounterVec
	chainDrops        prometheus.Counter
	activeExecutions  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the orchestrator is instantiated
// multiple times (e.g. in unit tests).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers supply a fresh registry when unique metric names are required (for
// example in tests). Registration errors panic, mirroring promauto semantics
// so configuration bugs surface early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	executionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foreman",
			Subsystem: "orchestrator",
			Name:      "agent_execution_duration_seconds",
			Help:      "Duration of agent executions by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent", "status"},
	)
	executionFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "orchestrator",
			Name:      "agent_failures_total",
			Help:      "Total number of agent executions that failed.",
		},
		[]string{"agent", "reason"},
	)
	chainDrops := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "foreman",
			Subsystem: "orchestrator",
			Name:      "chain_events_dropped_total",
			Help:      "Follow-up events dropped for exceeding their chain depth bound.",
		},
	)
	activeExecutions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "foreman",
			Subsystem: "orchestrator",
			Name:      "executions_active",
			Help:      "Number of agent executions currently in flight.",
		},
	)

	collectors := []prometheus.Collector{executionDuration, executionFailures, chainDrops, activeExecutions}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					executionDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					executionFailures = already.ExistingCollector.(*prometheus.CounterVec)
				// Gauge before Counter: every Gauge also satisfies the
				// Counter interface.
				case prometheus.Gauge:
					activeExecutions = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					if target == chainDrops {
						chainDrops = already.ExistingCollector.(prometheus.Counter)
					}
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		executionDuration: executionDuration,
		executionFailures: executionFailures,
		chainDrops:        chainDrops,
		activeExecutions:  activeExecutions,
	}
}

// ObserveExecution records a completed agent execution.
func (m *Metrics) ObserveExecution(agentName, status string, duration time.Duration) {
	if m == nil || m.executionDuration == nil {
		return
	}
	m.executionDuration.WithLabelValues(agentName, status).Observe(duration.Seconds())
}

// IncFailure counts a failed execution by reason.
func (m *Metrics) IncFailure(agentName, reason string) {
	if m == nil || m.executionFailures == nil {
		return
	}
	m.executionFailures.WithLabelValues(agentName, reason).Inc()
}

// IncChainDrop counts a follow-up event dropped at the chain depth bound.
func (m *Metrics) IncChainDrop() {
	if m == nil || m.chainDrops == nil {
		return
	}
	m.chainDrops.Inc()
}

// ExecutionStarted marks one in-flight execution.
func (m *Metrics) ExecutionStarted() {
	if m == nil || m.activeExecutions == nil {
		return
	}
	m.activeExecutions.Inc()
}

// ExecutionFinished unmarks one in-flight execution.
func (m *Metrics) ExecutionFinished() {
	if m == nil || m.activeExecutions == nil {
		return
	}
	m.activeExecutions.Dec()
}
