// Package metrics exposes counter pipeline metrics for Prometheus
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesRead      atomic.Uint64
	FramesSkipped   atomic.Uint64 // skipped by frame stride
	FramesProcessed atomic.Uint64

	// Error counters
	ReadFaults    atomic.Uint64
	GatewayFaults atomic.Uint64
	Reconnects    atomic.Uint64

	// Camera state
	CameraLive atomic.Uint64 // 0 = not live, 1 = live

	// Latency tracking
	TrackLatencyMs   atomic.Uint64 // last tracker round trip
	ProcessLatencyMs atomic.Uint64 // last full frame iteration

	// Viewer tracking
	StreamClients atomic.Int64
	EventClients  atomic.Int64

	vehiclesCounted *prometheus.CounterVec
	sinkFaults      *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		vehiclesCounted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_vehicles_counted_total",
			Help: "Vehicles counted, by class",
		}, []string{"class"}),
		sinkFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_sink_faults_total",
			Help: "Failed event writes, by target (log or store)",
		}, []string{"target"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_camera_state_changes_total",
			Help: "Capture state transitions, by target state",
		}, []string{"state"}),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.vehiclesCounted, m.sinkFaults, m.stateChanges)

	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"counter_frames_read_total", "Frames read from the source", &m.FramesRead},
		{"counter_frames_skipped_total", "Frames skipped by the frame stride", &m.FramesSkipped},
		{"counter_frames_processed_total", "Frames sent through tracking and counting", &m.FramesProcessed},
		{"counter_read_faults_total", "Transient frame read failures", &m.ReadFaults},
		{"counter_gateway_faults_total", "Failed tracking service calls", &m.GatewayFaults},
		{"counter_reconnects_total", "Forced source reconnects", &m.Reconnects},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_camera_live",
			Help: "Camera producing frames (0=no, 1=yes)",
		},
		func() float64 { return float64(m.CameraLive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_track_latency_ms",
			Help: "Last tracking service round trip in milliseconds",
		},
		func() float64 { return float64(m.TrackLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_process_latency_ms",
			Help: "Last frame iteration in milliseconds",
		},
		func() float64 { return float64(m.ProcessLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_stream_clients",
			Help: "Connected MJPEG viewers",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "counter_event_clients",
			Help: "Connected websocket event subscribers",
		},
		func() float64 { return float64(m.EventClients.Load()) },
	))
}

// VehicleCounted increments the per-class vehicle counter
func (m *Metrics) VehicleCounted(class string) {
	m.vehiclesCounted.WithLabelValues(class).Inc()
}

// SinkFault increments the sink fault counter for target
func (m *Metrics) SinkFault(target string) {
	m.sinkFaults.WithLabelValues(target).Inc()
}

// StateChanged records a capture state transition and the live gauge
func (m *Metrics) StateChanged(state string, live bool) {
	m.stateChanges.WithLabelValues(state).Inc()
	if live {
		m.CameraLive.Store(1)
	} else {
		m.CameraLive.Store(0)
	}
}

// UpdateTrackLatency stores the last tracker round trip
func (m *Metrics) UpdateTrackLatency(d time.Duration) {
	m.TrackLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateProcessLatency stores the last frame iteration time
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
