// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		resetsTotal,
		checkpointRunsTotal,
		checkpointRunDuration,
		checkpointLockContendedTotal,
	)
}

var (
	resetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_resets_total",
			Help: "Per-subscription reset outcomes by checkpoint and status.",
		},
		[]string{"checkpoint", "status", "delayed"},
	)

	checkpointRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_runs_total",
			Help: "Checkpoint runs by result (ok/failed/error/skipped_locked).",
		},
		[]string{"checkpoint", "result"},
	)

	checkpointRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkpoint_run_duration_seconds",
			Help:    "Wall time of one checkpoint run across all accounts.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"checkpoint"},
	)

	checkpointLockContendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_lock_contended_total",
			Help: "Trigger firings skipped because the previous run still held the lock.",
		},
		[]string{"checkpoint"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncReset(checkpoint, status string, delayed bool) {
	d := "false"
	if delayed {
		d = "true"
	}
	resetsTotal.WithLabelValues(norm(checkpoint), norm(status), d).Inc()
}

func IncCheckpointRun(checkpoint, result string) {
	checkpointRunsTotal.WithLabelValues(norm(checkpoint), norm(result)).Inc()
}

func ObserveCheckpointDuration(checkpoint string, seconds float64) {
	checkpointRunDuration.WithLabelValues(norm(checkpoint)).Observe(seconds)
}

func IncLockContended(checkpoint string) {
	checkpointLockContendedTotal.WithLabelValues(norm(checkpoint)).Inc()
}
