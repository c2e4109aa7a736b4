// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts proxied API requests by endpoint and status class.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbridge_requests_total",
			Help: "Total number of API requests handled",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration observes wall-clock request latency per endpoint.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbridge_request_duration_seconds",
			Help:    "Request latency by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// TokenRefreshTotal counts credential refresh attempts by outcome.
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbridge_token_refresh_total",
			Help: "Total number of token refresh attempts",
		},
		[]string{"outcome"},
	)

	// ActiveAccounts tracks how many accounts the store currently holds.
	ActiveAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qbridge_accounts",
			Help: "Number of accounts in the pool",
		},
	)
)
