package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects coordinator counters and gauges.
type Metrics struct {
	registry *prometheus.Registry

	pollCycles     prometheus.Counter
	pollErrors     prometheus.Counter
	lastPoll       prometheus.Gauge
	discoveries    prometheus.Counter
	accessoryCount prometheus.Gauge
	commands       *prometheus.CounterVec
	position       *prometheus.GaugeVec
}

// NewMetrics creates the coordinator metrics on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tahoma_poll_cycles_total",
			Help: "Completed polling cycles",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tahoma_poll_errors_total",
			Help: "Polling cycles that failed to fetch devices",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tahoma_last_poll_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tahoma_discoveries_total",
			Help: "Completed discovery passes",
		}),
		accessoryCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tahoma_accessories",
			Help: "Accessories currently exposed",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tahoma_commands_total",
			Help: "Gateway commands by verb and result",
		}, []string{"command", "result"}),
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tahoma_cover_position_percent",
			Help: "Current cover position (100=open)",
		}, []string{"id", "device_url"}),
	}
	m.registry.MustRegister(
		m.pollCycles, m.pollErrors, m.lastPoll, m.discoveries,
		m.accessoryCount, m.commands, m.position,
	)
	return m
}

// Registry returns the prometheus registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observePoll(err error, unix float64) {
	if err != nil {
		m.pollErrors.Inc()
		return
	}
	m.pollCycles.Inc()
	m.lastPoll.Set(unix)
}

func (m *Metrics) observeCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) setPosition(id, deviceURL string, pos int) {
	m.position.WithLabelValues(id, deviceURL).Set(float64(pos))
}

func (m *Metrics) forget(id, deviceURL string) {
	m.position.DeleteLabelValues(id, deviceURL)
}
