// Package metrics exposes Prometheus collectors for proxies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Connections *prometheus.CounterVec
	Active      *prometheus.GaugeVec
	Bytes       *prometheus.CounterVec
	Events      *prometheus.CounterVec
	Rebuilds    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noxious_connections_total",
			Help: "Client connections accepted, by proxy and outcome.",
		}, []string{"proxy", "result"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "noxious_active_connections",
			Help: "Connections currently proxied.",
		}, []string{"proxy"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noxious_bytes_total",
			Help: "Bytes written after toxics, by proxy and direction.",
		}, []string{"proxy", "direction"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noxious_toxic_events_total",
			Help: "Toxic events processed, by proxy, kind and result.",
		}, []string{"proxy", "kind", "result"}),
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noxious_link_rebuilds_total",
			Help: "Connection rebuilds after toxic changes, by proxy and result.",
		}, []string{"proxy", "result"}),
	}
	reg.MustRegister(m.Connections, m.Active, m.Bytes, m.Events, m.Rebuilds)
	return m
}

// Result maps an error to a "ok" or "error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
