// Package metrics defines the Prometheus metrics exported by redirsocks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redirsocks"

// Metrics holds the collectors updated by the proxy.
type Metrics struct {
	// Connections counts accepted connections by how their destination was
	// found: "redirect", "sni" or "socks5".
	Connections *prometheus.CounterVec
	Active      prometheus.Gauge

	// Errors counts failed connections by error kind.
	Errors *prometheus.CounterVec

	// Sniffs counts TLS peeks by result.
	Sniffs *prometheus.CounterVec

	// Bytes counts relayed bytes by direction: "sent" towards upstream,
	// "received" towards the client.
	Bytes *prometheus.CounterVec

	Handoffs          prometheus.Counter
	HalfCloseTimeouts prometheus.Counter
}

// New creates the metrics and registers them with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by destination discovery path.",
		}, []string{"via"}),

		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently being negotiated or relayed.",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Connections that ended in an error, by kind.",
		}, []string{"kind"}),

		Sniffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_sniffs_total",
			Help:      "TLS ClientHello peeks by result.",
		}, []string{"result"}),

		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Bytes relayed, by direction.",
		}, []string{"direction"}),

		Handoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_buffer_handoffs_total",
			Help:      "Stalled writes whose bytes moved from a shared to a private buffer.",
		}),

		HalfCloseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "half_close_timeouts_total",
			Help:      "Relays ended by the half-close grace period.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Connections,
			m.Active,
			m.Errors,
			m.Sniffs,
			m.Bytes,
			m.Handoffs,
			m.HalfCloseTimeouts,
		)
	}
	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
