// Package metrics exposes Prometheus instrumentation for the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. All recording methods
// are safe to call on a nil receiver so instrumentation stays optional.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	rejectedTotal       prometheus.Counter
	evictionsTotal      *prometheus.CounterVec
	messagesRoutedTotal *prometheus.CounterVec
	messagesDelivered   prometheus.Counter
	deliveryFailures    prometheus.Counter
	broadcastFanout     prometheus.Histogram
}

// New creates a metrics instance backed by its own registry, so multiple
// servers can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatd_active_connections",
			Help: "Number of currently registered connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatd_connections_total",
			Help: "Total number of accepted connections",
		}),
		rejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatd_connections_rejected_total",
			Help: "Connections rejected because the registry was at capacity",
		}),
		evictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_evictions_total",
			Help: "Forced connection closures by reason",
		}, []string{"reason"}),
		messagesRoutedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_messages_routed_total",
			Help: "Messages handed to the broadcast router by kind",
		}, []string{"kind"}),
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatd_messages_delivered_total",
			Help: "Per-recipient message deliveries",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatd_delivery_failures_total",
			Help: "Per-recipient delivery failures",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatd_broadcast_fanout",
			Help:    "Number of recipients per routed message",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// Handler returns an HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveConnections sets the active connection gauge.
func (m *Metrics) RecordActiveConnections(n int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(n))
}

// RecordConnectionAccepted counts an accepted connection.
func (m *Metrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

// RecordConnectionRejected counts a capacity rejection.
func (m *Metrics) RecordConnectionRejected() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

// RecordEviction counts a forced closure with its reason.
func (m *Metrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(reason).Inc()
}

// RecordRoute counts one routed message and its fan-out.
func (m *Metrics) RecordRoute(kind string, delivered, failed int) {
	if m == nil {
		return
	}
	m.messagesRoutedTotal.WithLabelValues(kind).Inc()
	m.messagesDelivered.Add(float64(delivered))
	m.deliveryFailures.Add(float64(failed))
	m.broadcastFanout.Observe(float64(delivered))
}
