package metrics

import "github.com/prometheus/client_golang/prometheus"

// Eviction reasons used as label values.
const (
	EvictWriteFailure     = "write_failure"
	EvictSlowConsumer     = "slow_consumer"
	EvictHeartbeatTimeout = "heartbeat_timeout"
)

// WebSocketMetrics holds Prometheus metrics for the connection registry and broadcaster.
type WebSocketMetrics struct {
	ActiveConnections  prometheus.Gauge
	Registrations      prometheus.Counter
	Rejections         *prometheus.CounterVec
	Evictions          *prometheus.CounterVec
	Subscriptions      prometheus.Gauge
	MessagesSent       *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	MalformedReceived  prometheus.Counter
	HeartbeatSweeps    prometheus.Counter
	SweepDuration      prometheus.Histogram
	BroadcastFanout    prometheus.Histogram
	MessageSendSeconds prometheus.Histogram
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "registrations_total",
			Help:      "Total number of connections accepted into the registry.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejections_total",
			Help:      "Total number of connections rejected before registration, by reason.",
		}, []string{"reason"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "evictions_total",
			Help:      "Total number of connections evicted by the server, by reason.",
		}, []string{"reason"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "subscriptions",
			Help:      "Number of active connection/topic subscriptions.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of envelopes queued to connections, by type.",
		}, []string{"type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Total number of inbound envelopes, by type.",
		}, []string{"type"}),
		MalformedReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "malformed_messages_total",
			Help:      "Total number of inbound frames that failed to decode.",
		}),
		HeartbeatSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "sweeps_total",
			Help:      "Total number of heartbeat sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of heartbeat sweeps in seconds.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		}),
		BroadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "fanout_connections",
			Help:      "Number of connections resolved per broadcast.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		MessageSendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "message_send_duration_seconds",
			Help:      "Duration of individual WebSocket frame writes in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.Registrations, m.Rejections, m.Evictions, m.Subscriptions,
		m.MessagesSent, m.MessagesReceived, m.MalformedReceived,
		m.HeartbeatSweeps, m.SweepDuration, m.BroadcastFanout, m.MessageSendSeconds,
	)
	return m
}
