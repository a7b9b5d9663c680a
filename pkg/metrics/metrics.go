// Package metrics provides Prometheus metrics for the courier service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal tracks request status transitions by edge and outcome
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of request status transitions attempted",
		},
		[]string{"command", "from", "to", "outcome"},
	)

	// ClaimAttemptsTotal tracks claim attempts by outcome (won, conflict, limited, error)
	ClaimAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "lifecycle",
			Name:      "claim_attempts_total",
			Help:      "Total number of claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	ResolutionResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "resolution",
			Name:      "responses_total",
			Help:      "Total number of customer responses to resolutions",
		},
		[]string{"response"},
	)

	// EventsDispatchedTotal tracks realtime deliveries by sink and outcome
	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "fanout",
			Name:      "events_dispatched_total",
			Help:      "Total number of events delivered to sinks",
		},
		[]string{"sink", "outcome"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "fanout",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped before dispatch",
		},
		[]string{"reason"},
	)

	// DispatchQueueDepth tracks events waiting across all dispatcher shards
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "courier",
			Subsystem: "fanout",
			Name:      "queue_depth",
			Help:      "Number of events waiting in dispatcher queues",
		},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "courier",
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Number of connected realtime subscribers",
		},
	)

	// NotificationsTotal tracks outbox email sends by template and outcome
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "notification",
			Name:      "sends_total",
			Help:      "Total number of notification send attempts",
		},
		[]string{"template", "outcome"},
	)

	NotificationDLQTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "notification",
			Name:      "dlq_total",
			Help:      "Total number of notifications sent to the dead letter stream",
		},
	)

	NotificationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "notification",
			Name:      "retries_total",
			Help:      "Total number of failed notifications requeued by their owner",
		},
	)

	// HTTPRequestDuration tracks inbound API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status_code"},
	)
)
