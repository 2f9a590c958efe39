package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "homeservice_dispatch"

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_total", Help: "Normalized realtime events by source and entity"},
		[]string{"source", "entity"},
	)
	EventsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_duplicate_total", Help: "Events dropped as exact re-deliveries"},
		[]string{"source"},
	)
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_unrecognized_total", Help: "Inbound items that could not be normalized"},
		[]string{"source"},
	)
	JobTransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "job_transitions_rejected_total", Help: "Job events ignored because they would move a job backward"})
	TechnicianConflicts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "technician_conflicts_total", Help: "Observed technicians holding more than one active job"})
	PushConnected          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "push_connected", Help: "1 while the push channel is connected"})
	PushReconnects         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "push_reconnects_total", Help: "Push channel reconnect attempts"})
	HeartbeatPolls         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "heartbeat_polls_total", Help: "Heartbeat poll ticks"})

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "search_requests_total", Help: "Technician searches by trigger"},
		[]string{"trigger"},
	)
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_latency_seconds", Help: "Technician search latency seconds"})

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Job creation attempts by outcome"},
		[]string{"outcome"},
	)
	RidePings           = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_pings_total", Help: "Position samples emitted during rides"})
	RouteRequests       = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "route_requests_total", Help: "Routing queries by result"}, []string{"result"})
	NotificationsUnread = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "notifications_unread", Help: "Unread notifications"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
