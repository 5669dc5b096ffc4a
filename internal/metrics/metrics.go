package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Detection loop counters
	CyclesCompleted    atomic.Uint64
	CyclesDiscarded    atomic.Uint64 // Results dropped because detection stopped mid-inference
	DetectionsTotal    atomic.Uint64
	FilteredDetections atomic.Uint64
	AlertsRaised       atomic.Uint64
	LoopGenerations    atomic.Uint64
	PreviewFrames      atomic.Uint64 // Frames captured for display while not detecting

	// Error counters
	CaptureErrors     atomic.Uint64
	InferenceErrors   atomic.Uint64
	TemperatureErrors atomic.Uint64

	// Latency tracking
	CaptureLatencyMs atomic.Uint64 // Last capture latency in ms

	// Session state
	RunState         atomic.Int64  // Ordinal of the controller run state
	AlertActive      atomic.Uint64 // 0 = inactive, 1 = active
	TemperatureValid atomic.Uint64 // 0 = unavailable, 1 = available
	temperatureBits  atomic.Uint64 // math.Float64bits of the last reading

	// Client tracking
	StreamClients    atomic.Int64
	SSEClients       atomic.Int64
	WebSocketClients atomic.Int64

	inferenceSeconds prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_inference_duration_seconds",
			Help:    "Time spent in a single model inference",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		f,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Loop metrics
	m.counter("monitor_cycles_total", "Detection cycles that rendered a frame", &m.CyclesCompleted)
	m.counter("monitor_cycles_discarded_total", "Inference results discarded after stop or teardown", &m.CyclesDiscarded)
	m.counter("monitor_detections_total", "Detections returned by the model", &m.DetectionsTotal)
	m.counter("monitor_filtered_detections_total", "Detections drawn after class filtering", &m.FilteredDetections)
	m.counter("monitor_alerts_raised_total", "Transitions of the alert from inactive to active", &m.AlertsRaised)
	m.counter("monitor_loop_generations_total", "Detection loops started", &m.LoopGenerations)
	m.counter("monitor_preview_frames_total", "Frames shown without inference while detection is stopped", &m.PreviewFrames)

	// Error metrics
	m.counter("monitor_capture_errors_total", "Frame capture failures", &m.CaptureErrors)
	m.counter("monitor_inference_errors_total", "Model inference failures", &m.InferenceErrors)
	m.counter("monitor_temperature_errors_total", "Temperature fetch failures", &m.TemperatureErrors)

	m.gauge("monitor_capture_latency_ms", "Last frame capture latency in milliseconds",
		func() float64 { return float64(m.CaptureLatencyMs.Load()) })

	// Session metrics
	m.gauge("monitor_run_state", "Controller run state (0=idle,1=loading_model,2=ready,3=detecting,4=failed)",
		func() float64 { return float64(m.RunState.Load()) })
	m.gauge("monitor_alert_active", "Alert active (0=inactive, 1=active)",
		func() float64 { return float64(m.AlertActive.Load()) })
	m.gauge("monitor_temperature_celsius", "Last ambient temperature reading, NaN when unavailable",
		func() float64 {
			if m.TemperatureValid.Load() == 0 {
				return math.NaN()
			}
			return math.Float64frombits(m.temperatureBits.Load())
		})

	// Client metrics
	m.gauge("monitor_stream_clients", "Connected MJPEG clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("monitor_sse_clients", "Connected status stream clients",
		func() float64 { return float64(m.SSEClients.Load()) })
	m.gauge("monitor_websocket_clients", "Connected WebSocket clients",
		func() float64 { return float64(m.WebSocketClients.Load()) })

	m.registry.MustRegister(m.inferenceSeconds)
}

// ObserveInference records the duration of one model call
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inferenceSeconds.Observe(d.Seconds())
}

// UpdateCaptureLatency stores the latency of the last capture
func (m *Metrics) UpdateCaptureLatency(started time.Time) {
	m.CaptureLatencyMs.Store(uint64(time.Since(started).Milliseconds()))
}

// SetTemperature records a reading; ok=false marks it unavailable
func (m *Metrics) SetTemperature(celsius float64, ok bool) {
	if !ok {
		m.TemperatureValid.Store(0)
		return
	}
	m.temperatureBits.Store(math.Float64bits(celsius))
	m.TemperatureValid.Store(1)
}

// SetAlert records the alert state, counting inactive to active edges
func (m *Metrics) SetAlert(active bool) {
	var v uint64
	if active {
		v = 1
	}
	if prev := m.AlertActive.Swap(v); prev == 0 && v == 1 {
		m.AlertsRaised.Add(1)
	}
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
