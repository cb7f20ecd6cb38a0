// Package metrics provides Prometheus metrics for bqloader pipeline runs.
//
// # Overview
//
// The collectors are registered on the default registry at package
// initialisation and exposed by the HTTP trigger on /metrics:
//   - pipeline runs by final status and failing stage
//   - fetch attempts by outcome
//   - rows submitted to load jobs and loads skipped
//   - stage durations
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	table, err := transformer.ToTable(raw)
//	metrics.StageDuration.WithLabelValues("transform").Observe(timer.Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by the collectors.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// PipelineRuns counts finished pipeline runs.
	// Labels: status (success/error), stage (config/fetch/transform/load, or "" on success)
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqloader_pipeline_runs_total",
			Help: "Total number of pipeline runs by final status",
		},
		[]string{"status", "stage"},
	)

	// FetchAttempts counts individual HTTP attempts against the source API.
	// Labels: outcome (success/error)
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqloader_fetch_attempts_total",
			Help: "Total number of HTTP attempts against the source API",
		},
		[]string{"outcome"},
	)

	// RowsLoaded counts rows submitted in successful load jobs.
	// Labels: table (project.dataset.table)
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqloader_rows_loaded_total",
			Help: "Total number of rows submitted in successful load jobs",
		},
		[]string{"table"},
	)

	// LoadsSkipped counts loads skipped because the table was empty.
	LoadsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bqloader_loads_skipped_total",
			Help: "Total number of loads skipped for an empty dataset",
		},
	)

	// StageDuration tracks how long each stage takes, in seconds.
	// Labels: stage (fetch/transform/load)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bqloader_stage_duration_seconds",
			Help: "Pipeline stage duration in seconds",
			Buckets: []float64{
				0.01, // in-memory transforms
				0.1,
				0.5,
				1,
				2.5, // one retry wait
				5,
				10,
				30,  // load jobs
				60,
				300,
			},
		},
		[]string{"stage"},
	)

	// TriggerRequests counts HTTP trigger requests by response code.
	TriggerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqloader_trigger_requests_total",
			Help: "Total number of HTTP trigger requests by response code",
		},
		[]string{"code"},
	)
)

// Timer measures elapsed time for a stage.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Seconds returns the elapsed time in seconds.
func (t *Timer) Seconds() float64 {
	return time.Since(t.start).Seconds()
}

// Elapsed returns the elapsed time.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
