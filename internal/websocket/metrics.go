package websocket

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type hubMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messages          *prometheus.CounterVec
	errors            *prometheus.CounterVec
	slowClients       prometheus.Counter
	persistLatency    prometheus.Histogram
}

// newHubMetrics registers the hub collectors on reg. A nil registerer
// disables metrics; every method is safe on a nil receiver.
func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	if reg == nil {
		return nil
	}

	m := &hubMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connections_active",
			Help: "Current number of registered chat connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total number of chat connections registered since start.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_messages_total",
			Help: "Messages persisted and delivered, by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_event_errors_total",
			Help: "Inbound events rejected or failed, by reason.",
		}, []string{"reason"}),
		slowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_slow_clients_total",
			Help: "Connections dropped because their send queue was full.",
		}),
		persistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatrelay_persist_latency_seconds",
			Help:    "Latency of message store writes.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.messages,
		m.errors,
		m.slowClients,
		m.persistLatency,
	)
	return m
}

func (m *hubMetrics) connected() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *hubMetrics) disconnected() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *hubMetrics) recordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *hubMetrics) recordError(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.errors.WithLabelValues(reason).Inc()
}

func (m *hubMetrics) recordSlowClient() {
	if m == nil {
		return
	}
	m.slowClients.Inc()
}

func (m *hubMetrics) observePersist(dur time.Duration) {
	if m == nil {
		return
	}
	m.persistLatency.Observe(dur.Seconds())
}
