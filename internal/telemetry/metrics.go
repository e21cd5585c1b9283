// Package telemetry holds keymint's Prometheus metrics and logger setup.
//
// All metrics are registered against the default registry and served by the
// admin API at GET /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Issuance metrics.
//
// IssuanceTotal is labelled by outcome: "success" or the failure kind
// (InvalidNameFormat, NameTaken, OwnerNotFound, OwnerAlreadyHasActiveKey,
// DuplicateKey, StorageError). A nonzero DuplicateKey rate means concurrent
// requests are racing on the same name.
//
// VerificationTotal is labelled by result: valid, invalid or inactive.
var (
	IssuanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_issuance_total",
			Help: "Total number of API key issuance attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	IssuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keymint_issuance_duration_seconds",
			Help:    "Histogram of API key issuance latencies.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	VerificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_verification_total",
			Help: "Total number of API key verifications, by result.",
		},
		[]string{"result"},
	)
)

// HTTP metrics. The path label holds the chi route pattern, not the raw URL,
// so key names in the path do not inflate cardinality.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keymint_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)
