package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for cross-instance envelope relay.
type RelayMetrics struct {
	Published *prometheus.CounterVec
	Received  *prometheus.CounterVec
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Total number of envelopes published to the relay, by result.",
		}, []string{"result"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "received_total",
			Help:      "Total number of envelopes received from the relay, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Published, m.Received)
	return m
}
