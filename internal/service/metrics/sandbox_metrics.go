package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	LambdaLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "captrades",
			Subsystem: "sandbox",
			Name:      "latency_seconds",
			Help:      "Latency of sandbox endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	LambdaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captrades",
			Subsystem: "sandbox",
			Name:      "errors_total",
			Help:      "Errors by sandbox endpoint",
		},
		[]string{"endpoint"},
	)

	RunStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captrades",
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Apply calls by terminal status",
		},
		[]string{"status"},
	)

	ValidateResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captrades",
			Subsystem: "sandbox",
			Name:      "validations_total",
			Help:      "Validate calls by outcome",
		},
		[]string{"result"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(LambdaLatency, LambdaErrors, RunStatus, ValidateResults)
	})
}
