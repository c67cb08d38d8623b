// Package metrics exposes routing and connection counters in Prometheus
// format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsrpc"

// Metrics records upgrade and connection activity
type Metrics struct {
	registry    *prometheus.Registry
	upgrades    *prometheus.CounterVec
	connections *prometheus.GaugeVec
	opened      *prometheus.CounterVec
}

// New creates metrics registered on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrades_total",
			Help:      "Upgrade requests by routing outcome.",
		}, []string{"result"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open message connections per route.",
		}, []string{"route"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Message connections opened per route.",
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.upgrades,
		m.connections,
		m.opened,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// UpgradeMatched counts an upgrade selected by one or more routes
func (m *Metrics) UpgradeMatched(routes int) {
	m.upgrades.WithLabelValues("matched").Inc()
	if routes > 1 {
		m.upgrades.WithLabelValues("overlap").Inc()
	}
}

// UpgradeUnmatched counts an upgrade no route selected
func (m *Metrics) UpgradeUnmatched() {
	m.upgrades.WithLabelValues("unmatched").Inc()
}

// HandshakeFailed counts a rejected handshake
func (m *Metrics) HandshakeFailed() {
	m.upgrades.WithLabelValues("handshake_failed").Inc()
}

// ConnectionOpened tracks a new message connection on route
func (m *Metrics) ConnectionOpened(route string) {
	m.connections.WithLabelValues(route).Inc()
	m.opened.WithLabelValues(route).Inc()
}

// ConnectionClosed tracks a message connection going away
func (m *Metrics) ConnectionClosed(route string) {
	m.connections.WithLabelValues(route).Dec()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
