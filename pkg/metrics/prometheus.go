package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal        *prometheus.CounterVec
	validationsTotal *prometheus.CounterVec
	auditFlushed     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrades_runs_total",
				Help: "Total number of sandbox runs by terminal status",
			},
			[]string{"status"},
		),
		validationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrades_validations_total",
				Help: "Total number of validate calls by outcome",
			},
			[]string{"result"},
		),
		auditFlushed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrades_audit_records_flushed_total",
				Help: "Audit records flushed to backend",
			},
			[]string{"backend"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captrades_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "captrades_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRun records one apply call with its terminal status.
func (r *Recorder) RecordRun(status string) {
	r.runsTotal.WithLabelValues(status).Inc()
}

// RecordValidation records one validate call outcome.
func (r *Recorder) RecordValidation(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	r.validationsTotal.WithLabelValues(result).Inc()
}

// RecordAuditFlush records audit records delivered to a backend.
func (r *Recorder) RecordAuditFlush(backend string, count int) {
	r.auditFlushed.WithLabelValues(backend).Add(float64(count))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
