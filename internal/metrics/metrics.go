// Package metrics exposes Prometheus metrics for the GMP proxy services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchRequestsTotal counts work requests by outcome
	// (dispatched, no_eligible_work, error).
	DispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmp_dispatch_requests_total",
			Help: "Total number of work requests handled by the dispatch engine.",
		},
		[]string{"outcome"},
	)

	// SubmissionsTotal counts solution submissions by outcome and reason.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmp_submissions_total",
			Help: "Total number of solution submissions handled by the dispatch engine.",
		},
		[]string{"outcome", "reason"},
	)

	// EngineOpDuration observes engine operation latency.
	EngineOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gmp_engine_op_duration_seconds",
			Help:    "Latency of dispatch engine operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// CandidatesScanned observes how many candidates a work request examined
	// before dispatching or declining.
	CandidatesScanned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gmp_candidates_scanned",
			Help:    "Candidates examined per work request.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	// AlertsTotal counts admin alerts by type.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmp_alerts_total",
			Help: "Total number of admin alerts emitted.",
		},
		[]string{"type"},
	)

	// WorkItemsCreated counts work items created from upstream announcements.
	WorkItemsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gmp_work_items_created_total",
			Help: "Total number of work items created from upstream announcements.",
		},
	)

	// HTTPRequestsTotal counts API requests by path, method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gmp_http_requests_total",
			Help: "Total number of HTTP requests handled by the API layer.",
		},
		[]string{"path", "method", "code"},
	)
)
