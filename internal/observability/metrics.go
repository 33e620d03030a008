package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain collectors. Labels are bounded enums (domain, mode, state, kind).
var (
	importRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_import_runs_total",
			Help: "Import pipeline runs by domain, mode and terminal state.",
		},
		[]string{"domain", "mode", "state"},
	)

	importRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_import_rows_total",
			Help: "Rows read by the import pipeline, by domain.",
		},
		[]string{"domain"},
	)

	computeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perfmon_compute_duration_seconds",
			Help:    "Duration of engine runs by kind.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	triggersNotified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perfmon_triggers_notified_total",
			Help: "Triggers published as notifiable.",
		},
	)

	recomputeJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfmon_recompute_jobs_total",
			Help: "Recompute jobs finished by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(importRuns, importRows, computeDuration, triggersNotified, recomputeJobs)
}

// ObserveImport records one pipeline run.
func ObserveImport(domain, mode, state string, rows int) {
	importRuns.WithLabelValues(domain, mode, state).Inc()
	if rows > 0 {
		importRows.WithLabelValues(domain).Add(float64(rows))
	}
}

// ObserveCompute records how long an engine run of kind took since start.
func ObserveCompute(kind string, start time.Time) {
	computeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// ObserveNotified adds n published notifications.
func ObserveNotified(n int) {
	if n > 0 {
		triggersNotified.Add(float64(n))
	}
}

// ObserveRecomputeJob counts a finished queue job.
func ObserveRecomputeJob(status string) {
	recomputeJobs.WithLabelValues(status).Inc()
}
