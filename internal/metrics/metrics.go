// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package metrics holds the Prometheus collectors for pathtrace. Collectors
// are registered on the default registry and served from /metrics.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/pathtrace/internal/models"
)

var (
	// Event pipeline
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_events_received_total",
			Help: "Tracked events appended to user action logs",
		},
		[]string{"type"}, // event kind, "other" for unknown kinds
	)

	UsersTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathtrace_users_tracked",
			Help: "Number of user records in the in-memory table",
		},
	)

	UsersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathtrace_users_created_total",
			Help: "User records created since process start",
		},
	)

	IdentitiesMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathtrace_identities_minted_total",
			Help: "Connections that presented no visitor token and were assigned one by the server",
		},
	)

	// WebSocket
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pathtrace_websocket_connections",
			Help: "Open websocket connections by role",
		},
		[]string{"role"}, // observer, session
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_broadcasts_sent_total",
			Help: "Frames queued to observers",
		},
		[]string{"type"},
	)

	BroadcastsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_broadcasts_dropped_total",
			Help: "Broadcast frames dropped before reaching an observer",
		},
		[]string{"reason"}, // queue_full, slow_observer
	)

	// Durability
	CheckpointDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathtrace_checkpoint_duration_seconds",
			Help:    "Time to write the full user table",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend"},
	)

	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_checkpoints_total",
			Help: "Checkpoint attempts by outcome",
		},
		[]string{"backend", "status"}, // status: success, error
	)

	CheckpointLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathtrace_checkpoint_last_success_timestamp_seconds",
			Help: "Unix time of the last successful checkpoint",
		},
	)

	// Enrichment
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_geo_lookups_total",
			Help: "Geo lookups by provider and result",
		},
		[]string{"provider", "result"}, // result: hit, miss, private, error, rejected
	)

	GeoLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pathtrace_geo_lookup_duration_seconds",
			Help:    "Duration of remote geo lookups",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pathtrace_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_api_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathtrace_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathtrace_api_active_requests",
			Help: "In-flight HTTP requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathtrace_api_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pathtrace_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordEvent counts an appended event. Unknown kinds share one label value.
func RecordEvent(kind models.EventKind) {
	label := string(kind)
	if !kind.Known() {
		label = "other"
	}
	EventsReceived.WithLabelValues(label).Inc()
}

// RecordCheckpoint records the outcome of one full-table write.
func RecordCheckpoint(backend string, duration time.Duration, err error) {
	CheckpointDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err != nil {
		CheckpointsTotal.WithLabelValues(backend, "error").Inc()
		return
	}
	CheckpointsTotal.WithLabelValues(backend, "success").Inc()
	CheckpointLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetAppInfo publishes the build version.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}
