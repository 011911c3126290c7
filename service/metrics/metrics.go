// Package metrics exposes Prometheus collectors for approval orchestration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks approval requests created
	RequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hitloop_requests_total",
			Help: "Total number of approval requests created",
		},
	)

	// ResolutionsTotal tracks terminal resolutions per status
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitloop_resolutions_total",
			Help: "Total number of approval requests resolved",
		},
		[]string{"status"},
	)

	// ConflictsTotal tracks resolution attempts on already terminal records
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitloop_conflicts_total",
			Help: "Total number of conflicting resolution attempts",
		},
		[]string{"source"},
	)

	// DeliveriesTotal tracks logical deliveries per result
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitloop_deliveries_total",
			Help: "Total number of logical deliveries",
		},
		[]string{"result"},
	)

	// DeliveryAttempts tracks channel send attempts per logical delivery
	DeliveryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hitloop_delivery_attempts",
			Help:    "Send attempts per logical delivery",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// DeliveryLatency tracks logical delivery latency including retries
	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hitloop_delivery_latency_seconds",
			Help:    "Logical delivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DecisionLatency tracks time from request creation to resolution
	DecisionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hitloop_decision_latency_seconds",
			Help:    "Time from request creation to resolution in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
		},
		[]string{"status"},
	)

	// BreakerState tracks circuit breaker state (0 closed, 1 open, 2 half open)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hitloop_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half open",
		},
	)

	// PendingWaiters tracks live correlation entries
	PendingWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hitloop_pending_waiters",
			Help: "Number of callers waiting for a decision",
		},
	)

	// RecoveredTotal tracks recovery outcomes
	RecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitloop_recovered_total",
			Help: "Records processed by startup recovery",
		},
		[]string{"result"},
	)

	// CallbacksTotal tracks callback ingress results
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitloop_callbacks_total",
			Help: "Total number of decision callbacks received",
		},
		[]string{"transport", "result"},
	)
)
