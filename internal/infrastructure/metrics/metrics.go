// Package metrics exposes the host's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally and the host can run with metrics disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labhost"

// Metrics holds every collector the host records.
type Metrics struct {
	registry *prometheus.Registry

	AcksTotal        *prometheus.CounterVec
	RelaysTotal      *prometheus.CounterVec
	JobFiresTotal    *prometheus.CounterVec
	HandleDuration   *prometheus.HistogramVec
	RegistryDevices  prometheus.Gauge
	RegistryLeases   prometheus.Gauge
	ScheduledJobs    prometheus.Gauge
	MQTTConnected    prometheus.Gauge
	MQTTReconnects   prometheus.Counter
	WebSocketClients prometheus.Gauge
}

// New creates a Metrics instance on its own registry, with Go runtime and
// process collectors included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		AcksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Acks published, by module and code",
		}, []string{"module", "code"}),

		RelaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Commands relayed to devices, by module and result",
		}, []string{"module", "result"}),

		JobFiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_fires_total",
			Help:      "Scheduled job executions, by module",
		}, []string{"module"}),

		HandleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one command envelope",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"module"}),

		RegistryDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "devices",
			Help:      "Devices known to the registry",
		}),

		RegistryLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "leases",
			Help:      "Live leases in the registry",
		}),

		ScheduledJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pending_jobs",
			Help:      "Jobs waiting to fire",
		}),

		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Broker connection status (0=disconnected, 1=connected)",
		}),

		MQTTReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connection_lost_total",
			Help:      "Times the broker connection was lost",
		}),

		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AcksTotal,
		m.RelaysTotal,
		m.JobFiresTotal,
		m.HandleDuration,
		m.RegistryDevices,
		m.RegistryLeases,
		m.ScheduledJobs,
		m.MQTTConnected,
		m.MQTTReconnects,
		m.WebSocketClients,
	)

	return m
}

// Registerer returns the registry for components that add their own
// collectors (the worker lanes). Nil when metrics are disabled.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

// Gatherer exposes the registry for tests and scraping.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

// RecordAck counts a published ack.
func (m *Metrics) RecordAck(module, code string) {
	if m == nil {
		return
	}
	m.AcksTotal.WithLabelValues(module, code).Inc()
}

// RecordRelay counts a command relayed (or refused) on its way to a device.
func (m *Metrics) RecordRelay(module, result string) {
	if m == nil {
		return
	}
	m.RelaysTotal.WithLabelValues(module, result).Inc()
}

// RecordJobFire counts a scheduled job execution.
func (m *Metrics) RecordJobFire(module string) {
	if m == nil {
		return
	}
	m.JobFiresTotal.WithLabelValues(module).Inc()
}

// RecordHandleDuration records how long a module took to handle a command.
func (m *Metrics) RecordHandleDuration(module string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandleDuration.WithLabelValues(module).Observe(d.Seconds())
}

// RecordRegistrySize updates the registry gauges.
func (m *Metrics) RecordRegistrySize(devices, leases int) {
	if m == nil {
		return
	}
	m.RegistryDevices.Set(float64(devices))
	m.RegistryLeases.Set(float64(leases))
}

// RecordPendingJobs updates the scheduler gauge.
func (m *Metrics) RecordPendingJobs(n int) {
	if m == nil {
		return
	}
	m.ScheduledJobs.Set(float64(n))
}

// RecordMQTTStatus updates the broker connection gauge.
func (m *Metrics) RecordMQTTStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.MQTTConnected.Set(value)
}

// RecordMQTTConnectionLost counts a lost broker connection.
func (m *Metrics) RecordMQTTConnectionLost() {
	if m == nil {
		return
	}
	m.MQTTReconnects.Inc()
}

// RecordWebSocketClients updates the connected client gauge.
func (m *Metrics) RecordWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}
