package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check outcomes used as the "result" label.
const (
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
	ResultFailOpen = "fail_open"
)

// Metrics contains Prometheus collectors for limiter checks.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	checks        *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
}

// NewMetrics registers the limiter collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_checks_total",
				Help: "Total number of rate limit checks performed",
			},
			[]string{"limiter", "algorithm", "result"},
		),

		storeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_store_errors_total",
				Help: "Total number of checks that failed open because the store was unavailable",
			},
			[]string{"limiter"},
		),

		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quota_check_duration_seconds",
				Help:    "Duration of rate limit checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~160ms
			},
			[]string{"algorithm"},
		),
	}
}

func (m *Metrics) observe(limiter, algorithm string, res Result, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultAllowed
	switch {
	case res.FailedOpen:
		result = ResultFailOpen
	case !res.Allowed:
		result = ResultDenied
	}
	m.checks.WithLabelValues(limiter, algorithm, result).Inc()
	m.checkDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}

func (m *Metrics) storeError(limiter string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(limiter).Inc()
}
