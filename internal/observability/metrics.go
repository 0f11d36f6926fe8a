// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpress_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devpress_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// AuthAttempts counts login attempts by method (local, google, facebook) and result.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpress_auth_attempts_total",
		Help: "Login attempts by method and result",
	}, []string{"method", "result"})

	// SessionsCreated counts sessions written to the store.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devpress_sessions_created_total",
		Help: "Total number of sessions created",
	})

	// PostEvents counts post mutations by kind (created, updated, deleted, reaction, favorite, comment).
	PostEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpress_post_events_total",
		Help: "Post mutations by kind",
	}, []string{"kind"})

	// ReactionsByType counts reaction upserts per reaction type.
	ReactionsByType = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpress_reactions_total",
		Help: "Reaction upserts by reaction type",
	}, []string{"type"})

	// CacheLookups counts post cache lookups by result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpress_cache_lookups_total",
		Help: "Post cache lookups by result",
	}, []string{"result"})

	// WebSocketConnections is the gauge of open activity sockets.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devpress_websocket_connections",
		Help: "Number of open post activity WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devpress_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
