package relay

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes path/slot/keep-alive gauges and counters to a
// Prometheus registry. It is a thin read side effect: the core never
// calls into it from invariant-checking code, only from the daemon's
// periodic collector and from drop/connect event points.
type Metrics struct {
	Paths          prometheus.Gauge
	ResponderSlots prometheus.Gauge
	Connections    *prometheus.CounterVec
	Drops          *prometheus.CounterVec
	KeepAlivePings prometheus.Counter
}

// NewMetrics creates and registers the relay's metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Paths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "saltyrelay",
			Name:      "paths",
			Help:      "Number of currently registered paths.",
		}),
		ResponderSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "saltyrelay",
			Name:      "responder_slots_in_use",
			Help:      "Total responder slots occupied across all paths.",
		}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saltyrelay",
			Name:      "connections_total",
			Help:      "Connections accepted, by role (initiator/responder).",
		}, []string{"role"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saltyrelay",
			Name:      "drops_total",
			Help:      "Clients dropped, by close code.",
		}, []string{"code"}),
		KeepAlivePings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "saltyrelay",
			Name:      "keepalive_pings_total",
			Help:      "Successful keep-alive ping/pong round trips.",
		}),
	}
	reg.MustRegister(m.Paths, m.ResponderSlots, m.Connections, m.Drops, m.KeepAlivePings)
	return m
}

// Collect updates the gauges from a registry snapshot. Called
// periodically by the daemon rather than on every path mutation, since
// path/slot counts are cheap to recompute and this avoids threading a
// *Metrics pointer through Path/Registry.
func (m *Metrics) Collect(reg *Registry) {
	stats := reg.Snapshot()
	m.Paths.Set(float64(len(stats)))
	var slots int
	for _, s := range stats {
		slots += s.Responders
	}
	m.ResponderSlots.Set(float64(slots))
}

// RecordConnection increments the connection counter for role.
func (m *Metrics) RecordConnection(role AddressType) {
	m.Connections.WithLabelValues(role.String()).Inc()
}

// RecordDrop increments the drop counter for code.
func (m *Metrics) RecordDrop(code CloseCode) {
	m.Drops.WithLabelValues(strconv.Itoa(int(code))).Inc()
}
