// Package metrics holds the Prometheus collectors of the allocation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for AllocationRequests.
const (
	OutcomeCreated  = "created"
	OutcomeMerged   = "merged"
	OutcomeUpdated  = "updated"
	OutcomeDeleted  = "deleted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	// AllocationRequests counts assignment writes by operation and outcome.
	AllocationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Name:      "requests_total",
		Help:      "Assignment create/merge/update/delete requests by outcome.",
	}, []string{"operation", "outcome"})

	// CapacityRejections counts requests refused by the per-day cap.
	CapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "allocation",
		Name:      "capacity_rejections_total",
		Help:      "Allocation requests rejected because a day would exceed the cap.",
	})

	// SyncRows counts rows written or removed by the sync bridge.
	SyncRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Name:      "sync_rows_total",
		Help:      "Rows touched by the assignment/time-entry sync bridge.",
	}, []string{"direction", "action"})

	// Reconciliations counts bulk PTO reconciliations by outcome.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Name:      "pto_reconciliations_total",
		Help:      "Bulk PTO month reconciliations by outcome.",
	}, []string{"outcome"})

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	// OperationDuration observes engine operation latency, transaction included.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "allocation",
		Name:      "operation_duration_seconds",
		Help:      "Latency of engine operations including the transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
