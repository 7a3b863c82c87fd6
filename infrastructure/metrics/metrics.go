// Package metrics provides the Prometheus pull-scrape surface for the
// supervisor. It never blocks a scheduler: every write here is a non-blocking
// update to an in-memory collector; a scrape reads a consistent snapshot
// through the registered prometheus.Gatherer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProbeBuckets are the histogram buckets for probe round-trip latency.
var ProbeBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// Metrics holds every collector the supervisor exposes.
type Metrics struct {
	DeviceUp              *prometheus.GaugeVec
	ProbeFailuresTotal     *prometheus.CounterVec
	ProbeDurationSeconds   *prometheus.HistogramVec
	EventsTotal            *prometheus.CounterVec
	EventsUnacknowledged   *prometheus.GaugeVec
	EventStoreSize         prometheus.Gauge

	// HTTP surface metrics, recorded by the metrics middleware.
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec

	// Domain-specific gauges, advertised by drivers through describe().
	PlugPowerWatts           *prometheus.GaugeVec
	SensorTemperatureCelsius *prometheus.GaugeVec
	SensorCO2PPM             *prometheus.GaugeVec
	SensorHumidityPercent    *prometheus.GaugeVec
	RobotBatteryPercent      *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance registered against its own registry so
// test suites and multiple supervisors in one process never collide.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		DeviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "device_up", Help: "1 iff the device's health phase is ok"},
			[]string{"id", "category", "driver"},
		),
		ProbeFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "device_probe_failures_total", Help: "Count of classified probe failures"},
			[]string{"id", "cause"},
		),
		ProbeDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "device_probe_duration_seconds",
				Help:    "Probe round-trip latency",
				Buckets: ProbeBuckets,
			},
			[]string{"id"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "events_total", Help: "Count of events appended to the event store"},
			[]string{"severity", "category"},
		),
		EventsUnacknowledged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "events_unacknowledged", Help: "Current unacknowledged event count"},
			[]string{"severity"},
		),
		EventStoreSize: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "event_store_size", Help: "Current number of events retained in the store"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests served"},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request handling latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PlugPowerWatts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "plug_power_watts", Help: "Instantaneous plug power draw"},
			[]string{"id"},
		),
		SensorTemperatureCelsius: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sensor_temperature_celsius", Help: "Environmental sensor temperature"},
			[]string{"id", "module"},
		),
		SensorCO2PPM: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sensor_co2_ppm", Help: "Environmental sensor CO2 concentration"},
			[]string{"id", "module"},
		),
		SensorHumidityPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sensor_humidity_percent", Help: "Environmental sensor relative humidity"},
			[]string{"id", "module"},
		),
		RobotBatteryPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "robot_battery_percent", Help: "Robot battery charge"},
			[]string{"id"},
		),
	}

	registry.MustRegister(
		m.DeviceUp,
		m.ProbeFailuresTotal,
		m.ProbeDurationSeconds,
		m.EventsTotal,
		m.EventsUnacknowledged,
		m.EventStoreSize,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PlugPowerWatts,
		m.SensorTemperatureCelsius,
		m.SensorCO2PPM,
		m.SensorHumidityPercent,
		m.RobotBatteryPercent,
	)

	return m
}

// Registry returns the prometheus.Gatherer the HTTP /metrics handler scrapes.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetDeviceUp records whether a device's current health phase is ok.
func (m *Metrics) SetDeviceUp(id, category, driver string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.DeviceUp.WithLabelValues(id, category, driver).Set(v)
}

// RecordProbe records one completed probe cycle.
func (m *Metrics) RecordProbe(id string, duration time.Duration, cause string) {
	m.ProbeDurationSeconds.WithLabelValues(id).Observe(duration.Seconds())
	if cause != "" {
		m.ProbeFailuresTotal.WithLabelValues(id, cause).Inc()
	}
}

// RecordEvent increments the events_total counter for one appended event.
func (m *Metrics) RecordEvent(severity, category string) {
	m.EventsTotal.WithLabelValues(severity, category).Inc()
}

// SetUnacknowledged sets the current unacknowledged-event gauge for a severity.
func (m *Metrics) SetUnacknowledged(severity string, count int) {
	m.EventsUnacknowledged.WithLabelValues(severity).Set(float64(count))
}

// SetEventStoreSize sets the event_store_size gauge.
func (m *Metrics) SetEventStoreSize(size int) {
	m.EventStoreSize.Set(float64(size))
}
