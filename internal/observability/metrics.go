package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	MessagesAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_appended_total",
			Help: "Messages durably appended, by outcome",
		},
		[]string{"outcome"},
	)

	NotifierSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_subscriptions_active",
			Help: "Current number of live conversation subscriptions",
		},
	)

	NotifierOverflowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_overflows_total",
			Help: "Subscriptions torn down because their buffer was full",
		},
	)

	NotifierPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_published_total",
			Help: "Messages handed to the local notifier",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
	)

	OutboxPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Outbox events that failed to publish",
		},
		[]string{"event_type"},
	)

	StoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_breaker_state",
			Help: "Store circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
)
