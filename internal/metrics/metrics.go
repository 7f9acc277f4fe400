// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package metrics provides Prometheus instrumentation for webhook intake,
// pixel intake, reconciliation, the event store and the live broadcast hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_webhooks_received_total",
			Help: "Total number of platform webhooks received",
		},
		[]string{"topic", "outcome"}, // outcome: "applied", "duplicate", "rejected", "error"
	)

	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartscope_webhook_processing_duration_seconds",
			Help:    "End-to-end webhook processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// Pixel intake metrics
	PixelEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_pixel_events_received_total",
			Help: "Total number of storefront pixel events received",
		},
		[]string{"outcome"}, // "applied", "duplicate", "invalid", "error"
	)

	// Reconciliation metrics
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_events_appended_total",
			Help: "Total number of cart events appended to session logs",
		},
		[]string{"kind"},
	)

	FunnelTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_funnel_transitions_total",
			Help: "Total number of session funnel state transitions",
		},
		[]string{"from", "to"},
	)

	OrdersUnattributed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartscope_orders_unattributed_total",
			Help: "Total number of order webhooks with no cart token",
		},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartscope_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartscope_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Live broadcast metrics
	LiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartscope_live_connections",
			Help: "Current number of live dashboard connections",
		},
		[]string{"tenant"},
	)

	LiveUpdatesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartscope_live_updates_published_total",
			Help: "Total number of session updates published to the live hub",
		},
	)

	LiveUpdatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartscope_live_updates_dropped_total",
			Help: "Total number of updates dropped due to slow live connections",
		},
	)

	LiveConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartscope_live_connections_rejected_total",
			Help: "Total number of live connections rejected at the per-tenant cap",
		},
	)

	// Event bus metrics
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_bus_messages_published_total",
			Help: "Total number of messages published on the in-process bus",
		},
		[]string{"topic"},
	)

	BusMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_bus_messages_failed_total",
			Help: "Total number of bus messages that failed to publish or decode",
		},
		[]string{"topic"},
	)

	// Enrichment metrics
	EnrichLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_enrich_lookups_total",
			Help: "Total number of product image lookups",
		},
		[]string{"result"}, // "cache_hit", "resolved", "miss", "throttled", "error"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartscope_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartscope_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Retention metrics
	SessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartscope_sessions_purged_total",
			Help: "Total number of sessions removed by the retention purger",
		},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
