package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_client", Name: "api_requests_total", Help: "Backend API calls by operation and outcome"},
		[]string{"op", "status"},
	)
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rider_client",
			Name:      "api_request_duration_seconds",
			Help:      "Backend API call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)

	RideTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_client", Name: "ride_transitions_total", Help: "Ride lifecycle transitions"},
		[]string{"from", "to"},
	)
	AssignmentSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_client", Name: "assignment_source_total", Help: "Which channel reported the driver assignment first"},
		[]string{"source"},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_client", Name: "realtime_events_total", Help: "Realtime events delivered to handlers"},
		[]string{"event"},
	)
	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rider_client", Name: "realtime_subscriptions_active", Help: "Open realtime channel subscriptions"})

	BridgeSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "rider_client", Name: "bridge_ws_sessions", Help: "UI sessions following the ride over websocket"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rider_client", Name: "http_requests_total", Help: "Total bridge HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rider_client",
			Name:      "http_request_duration_seconds",
			Help:      "Bridge HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
