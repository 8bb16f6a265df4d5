package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ticketsIssued  prometheus.Counter
	ticketsRefused prometheus.Counter
	consoleClients prometheus.Gauge
	linesForwarded prometheus.Counter
	commandsRouted prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ticketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emberpanel_relay_tickets_issued_total",
			Help: "Connection tickets issued.",
		}),
		ticketsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emberpanel_relay_tickets_refused_total",
			Help: "Websocket upgrades refused for invalid tickets.",
		}),
		consoleClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emberpanel_relay_console_clients",
			Help: "Consoles currently attached to the push stream.",
		}),
		linesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emberpanel_relay_lines_forwarded_total",
			Help: "Log lines forwarded to consoles.",
		}),
		commandsRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emberpanel_relay_commands_routed_total",
			Help: "Operator commands routed to targets.",
		}),
	}
	reg.MustRegister(m.ticketsIssued, m.ticketsRefused, m.consoleClients, m.linesForwarded, m.commandsRouted)
	return m
}
