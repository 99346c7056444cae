package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthFlowsStarted counts authorization flows initiated via /auth.
	AuthFlowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmbridge_auth_flows_started_total",
			Help: "The total number of authorization flows initiated.",
		},
	)

	// AuthFlowsCompleted counts callback outcomes.
	AuthFlowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmbridge_auth_flows_completed_total",
			Help: "The total number of authorization callbacks processed.",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh-token grant attempts.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmbridge_token_refreshes_total",
			Help: "The total number of token refresh attempts.",
		},
		[]string{"result"},
	)

	// APIRequests counts outbound CRM API requests by method and status class.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmbridge_api_requests_total",
			Help: "The total number of CRM API requests issued.",
		},
		[]string{"method", "status"},
	)

	// APIRequestDuration is a histogram of CRM API round-trip time.
	APIRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crmbridge_api_request_duration_seconds",
			Help:    "A histogram of CRM API request duration.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
