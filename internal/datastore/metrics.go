package datastore

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the datastore's prometheus counters. A nil *Metrics is
// valid everywhere it's accepted — recording against it is a no-op — so
// callers that don't care about metrics can pass nil.
type Metrics struct {
	operations   *prometheus.CounterVec
	operationDur *prometheus.HistogramVec
	operationErr *prometheus.CounterVec
}

// NewMetrics registers the datastore's counters against reg. Pass
// prometheus.DefaultRegisterer unless a component test needs isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_db_operations_total",
			Help: "Database operations by type, table, and outcome.",
		}, []string{"operation", "table", "outcome"}),
		operationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gaia_db_operation_duration_seconds",
			Help:    "Database operation latency by type and table.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "table"}),
		operationErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gaia_db_operation_errors_total",
			Help: "Database operation errors by type, table, and category.",
		}, []string{"operation", "table", "category"}),
	}
	reg.MustRegister(m.operations, m.operationDur, m.operationErr)
	return m
}

func (m *Metrics) RecordDbOperation(operation, table, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, table, outcome).Inc()
}

func (m *Metrics) RecordDbOperationDuration(operation, table string, seconds float64) {
	if m == nil {
		return
	}
	m.operationDur.WithLabelValues(operation, table).Observe(seconds)
}

func (m *Metrics) RecordDbOperationError(operation, table, category string) {
	if m == nil {
		return
	}
	m.operationErr.WithLabelValues(operation, table, category).Inc()
}

func (m *Metrics) RecordQueryResultSize(operation, table string, rows int) {
	// Row counts aren't currently exported as their own series; operation
	// duration and count carry enough signal for this node's scale.
}
