// Package metrics provides custom Prometheus metrics for the processing
// node, alongside test doubles (see recorder_test.go) used across the
// package suite.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the narrow interface components depend on so they can be
// tested against TestRecorder/NoOpRecorder without a live registry.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordError(operation, errorType string)
}

// PipelineMetrics exposes the counters the processing pipeline records:
// detections emitted, model load failures, and poll-cycle errors,
// alongside the generic Recorder surface above for per-operation timing.
type PipelineMetrics struct {
	detectionsTotal       *prometheus.CounterVec
	modelLoadFailuresTotal *prometheus.CounterVec
	pollErrorsTotal       *prometheus.CounterVec

	operationsTotal  *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
}

// NewPipelineMetrics registers the processing pipeline's counters against
// registry and returns a handle for recording them.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_detections_total",
			Help: "Total number of detections emitted by the pipeline.",
		}, []string{"domain"}),
		modelLoadFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_model_load_failures_total",
			Help: "Total number of model load attempts that failed.",
		}, []string{"model"}),
		pollErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_poll_errors_total",
			Help: "Total number of poll-cycle errors, by peer and stage.",
		}, []string{"peer", "stage"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_operations_total",
			Help: "Total count of operations, by name and outcome.",
		}, []string{"operation", "status"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gaia_operation_duration_seconds",
			Help:    "Duration of operations, by name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_errors_total",
			Help: "Total count of errors, by operation and error type.",
		}, []string{"operation", "error_type"}),
	}

	collectors := []prometheus.Collector{
		m.detectionsTotal, m.modelLoadFailuresTotal, m.pollErrorsTotal,
		m.operationsTotal, m.operationSeconds, m.errorsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordDetection increments the detections counter for domain.
func (m *PipelineMetrics) RecordDetection(domain string) {
	m.detectionsTotal.WithLabelValues(domain).Inc()
}

// RecordModelLoadFailure increments the model-load-failure counter.
func (m *PipelineMetrics) RecordModelLoadFailure(model string) {
	m.modelLoadFailuresTotal.WithLabelValues(model).Inc()
}

// RecordPollError increments the poll-error counter for peer/stage.
func (m *PipelineMetrics) RecordPollError(peer, stage string) {
	m.pollErrorsTotal.WithLabelValues(peer, stage).Inc()
}

// RecordOperation implements Recorder.
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.operationSeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}
