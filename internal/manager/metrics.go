package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/foreman/internal/worker"
)

// Metric label values for execution outcomes.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
)

var (
	workersSpawned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_workers_spawned_total",
			Help: "Total number of workers spawned, by flavor.",
		},
		[]string{"worker_type"},
	)

	registeredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_registered_workers",
			Help: "Number of workers currently in the registry.",
		},
	)

	executionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_executions_in_flight",
			Help: "Number of executions currently holding a concurrency gate slot.",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_executions_total",
			Help: "Total number of task executions, by flavor and outcome.",
		},
		[]string{"worker_type", "outcome"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_execution_duration_seconds",
			Help:    "Task execution duration in seconds, by flavor.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker_type"},
	)

	gateWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_gate_wait_seconds",
			Help:    "Time spent waiting for a concurrency gate slot, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(workersSpawned)
	prometheus.MustRegister(registeredWorkers)
	prometheus.MustRegister(executionsInFlight)
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(gateWaitDuration)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, wt := range []string{worker.TypeTerminal, worker.TypeContainer} {
		workersSpawned.WithLabelValues(wt)
		executionsTotal.WithLabelValues(wt, outcomeCompleted)
		executionsTotal.WithLabelValues(wt, outcomeFailed)
		executionsTotal.WithLabelValues(wt, outcomeTimeout)
	}
	workersSpawned.WithLabelValues(worker.TypeDebug)
}
