package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core streaming subsystem metrics. All counters are
// fire-and-forget: the streaming path never blocks on or fails because of
// metric collection.
type Metrics struct {
	// Pub/sub core
	EventsPublished     *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec
	DeliveryErrors      prometheus.Counter
	BufferSize          prometheus.Gauge
	BufferEvictions     prometheus.Counter
	SubscriptionsActive prometheus.Gauge

	// Pollers
	PollRows   *prometheus.CounterVec
	PollErrors *prometheus.CounterVec

	// Transports
	ConnectionsActive     prometheus.Gauge
	ConnectionsTotal      *prometheus.CounterVec
	DisconnectionsTotal   *prometheus.CounterVec
	MessagesReceived      *prometheus.CounterVec
	MessagesSent          *prometheus.CounterVec
	HeartbeatTerminations prometheus.Counter
	DispatchDuration      *prometheus.HistogramVec
	DispatchErrors        *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all streaming metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events published to the broker",
			},
			[]string{"type"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped from a slow subscriber's queue",
			},
			[]string{"reason"},
		),

		DeliveryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "events",
				Name:      "delivery_errors_total",
				Help:      "Subscriber callbacks that returned an error or panicked",
			},
		),

		BufferSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streaming",
				Subsystem: "buffer",
				Name:      "size",
				Help:      "Current number of events held in the replay ring buffer",
			},
		),

		BufferEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "buffer",
				Name:      "evictions_total",
				Help:      "Events evicted from the ring buffer (capacity or age)",
			},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streaming",
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Number of live subscriptions",
			},
		),

		PollRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "poller",
				Name:      "rows_total",
				Help:      "Rows fetched from the store, by category",
			},
			[]string{"category"},
		),

		PollErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "poller",
				Name:      "errors_total",
				Help:      "Failed poll cycles, by category",
			},
			[]string{"category"},
		),

		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streaming",
				Subsystem: "transport",
				Name:      "connections_active",
				Help:      "Currently connected clients",
			},
		),

		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "transport",
				Name:      "connections_total",
				Help:      "Total client connections accepted",
			},
			[]string{"transport"},
		),

		DisconnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "transport",
				Name:      "disconnections_total",
				Help:      "Total client disconnections",
			},
			[]string{"transport", "reason"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "transport",
				Name:      "messages_received_total",
				Help:      "Inbound client messages, by envelope type",
			},
			[]string{"type"},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "transport",
				Name:      "messages_sent_total",
				Help:      "Outbound frames, by envelope type",
			},
			[]string{"type"},
		),

		HeartbeatTerminations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "transport",
				Name:      "heartbeat_terminations_total",
				Help:      "Connections terminated by the liveness check",
			},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streaming",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Command/query handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "operation"},
		),

		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streaming",
				Subsystem: "dispatch",
				Name:      "errors_total",
				Help:      "Command/query handler errors",
			},
			[]string{"kind", "reason"},
		),
	}
}
