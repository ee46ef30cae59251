// Package observability provides lifecycle extensions for metrics and
// structured logging, plus a Prometheus scrape endpoint helper.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/ext"
	"github.com/imsks/pulse/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDead      = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics via Prometheus. Register it
// as a pulse extension to track enqueue rates, completion counts and
// durations, retry counts, and dead-letter entries.
type MetricsExtension struct {
	jobsEnqueued *prometheus.CounterVec
	jobsDone     *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
}

// NewMetricsExtension creates a MetricsExtension registered on the
// default Prometheus registerer.
func NewMetricsExtension() *MetricsExtension {
	return &MetricsExtension{
		jobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_jobs_enqueued_total",
			Help: "The total number of jobs admitted to the queue.",
		}, []string{"type", "priority"}),
		jobsDone: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_jobs_processed_total",
			Help: "The total number of processed job attempts by outcome.",
		}, []string{"type", "status"}), // status: completed, retried, dead
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_job_duration_seconds",
			Help:    "Duration of successful job executions.",
			Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
		}, []string{"type"}),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.jobsEnqueued.WithLabelValues(j.Type, string(j.Priority)).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobsDone.WithLabelValues(j.Type, "completed").Inc()
	m.jobDuration.WithLabelValues(j.Type).Observe(elapsed.Seconds())
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobsDone.WithLabelValues(j.Type, "retried").Inc()
	return nil
}

// OnJobDead implements ext.JobDead.
func (m *MetricsExtension) OnJobDead(_ context.Context, j *job.Job, _ *dlq.Entry, _ error) error {
	m.jobsDone.WithLabelValues(j.Type, "dead").Inc()
	return nil
}

// NewLogger creates a structured JSON logger for production use.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server exposing Prometheus metrics on
// /metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
