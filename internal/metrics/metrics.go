// Package metrics holds the prometheus collectors for the runner.
//
// Collectors are package-level and registered with the default registry via
// promauto, so any package can record an observation without plumbing a
// registry through every constructor. The server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_executions_total",
			Help: "Total number of requests handled, by language, mode and outcome",
		},
		[]string{"language", "mode", "outcome"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_execution_duration_ms",
			Help:    "Wall-clock duration of child processes in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language", "phase"}, // phase: "compile", "run", "harness", "script"
	)

	TimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_timeouts_total",
			Help: "Child processes killed after exceeding their wall-clock bound",
		},
		[]string{"language", "phase"},
	)

	CompileFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_compile_failures_total",
			Help: "Compile steps that exited non-zero",
		},
		[]string{"language"},
	)

	LiveProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_live_processes",
			Help: "Child process groups currently running",
		},
	)

	ActiveWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_active_workspaces",
			Help: "Workspaces acquired and not yet released",
		},
	)

	CleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_workspace_cleanup_failures_total",
			Help: "Filesystem removals that failed while releasing a workspace",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderunner_container_creation_ms",
			Help:    "Time to create and start a pooled container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
