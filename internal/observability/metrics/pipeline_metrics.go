// Package metrics exposes upload pipeline health signals.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// PipelineMetrics captures batch throughput and retry pressure for the
// upload pipeline.
type PipelineMetrics struct {
	batchesSubmitted prometheus.Counter
	batchesFinished  *prometheus.CounterVec
	rowsProcessed    *prometheus.CounterVec
	attemptRetries   prometheus.Counter
	attemptDuration  prometheus.Histogram
	reportsWritten   prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	batchesSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_batches_submitted_total",
		Help: "Upload batches accepted for processing.",
	})
	batchesFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_batches_finished_total",
		Help: "Upload batches reaching a terminal state, by outcome.",
	}, []string{"outcome"})
	rowsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_rows_processed_total",
		Help: "Upload rows classified, by validation status.",
	}, []string{"status"})
	attemptRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_attempt_retries_total",
		Help: "Pipeline attempts retried after a transient failure.",
	})
	attemptDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_attempt_duration_seconds",
		Help:    "Pipeline attempt latency from dequeue to outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	reportsWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_error_reports_written_total",
		Help: "Error report artifacts written for batches with invalid rows.",
	})

	registerer.MustRegister(
		batchesSubmitted,
		batchesFinished,
		rowsProcessed,
		attemptRetries,
		attemptDuration,
		reportsWritten,
	)

	return &PipelineMetrics{
		batchesSubmitted: batchesSubmitted,
		batchesFinished:  batchesFinished,
		rowsProcessed:    rowsProcessed,
		attemptRetries:   attemptRetries,
		attemptDuration:  attemptDuration,
		reportsWritten:   reportsWritten,
	}
}

func (m *PipelineMetrics) IncBatchSubmitted() {
	if m == nil || m.batchesSubmitted == nil {
		return
	}
	m.batchesSubmitted.Inc()
}

// IncBatchFinished records a terminal outcome (completed, failed, cancelled).
func (m *PipelineMetrics) IncBatchFinished(outcome string) {
	if m == nil || m.batchesFinished == nil {
		return
	}
	m.batchesFinished.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) AddRowsProcessed(status string, count int) {
	if m == nil || m.rowsProcessed == nil || count <= 0 {
		return
	}
	m.rowsProcessed.WithLabelValues(status).Add(float64(count))
}

func (m *PipelineMetrics) IncAttemptRetry() {
	if m == nil || m.attemptRetries == nil {
		return
	}
	m.attemptRetries.Inc()
}

func (m *PipelineMetrics) ObserveAttemptDuration(duration time.Duration) {
	if m == nil || m.attemptDuration == nil {
		return
	}
	m.attemptDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncReportWritten() {
	if m == nil || m.reportsWritten == nil {
		return
	}
	m.reportsWritten.Inc()
}
