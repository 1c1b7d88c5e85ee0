package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Cycle counters
	Cycles       atomic.Uint64
	FailedCycles atomic.Uint64
	EmptyCycles  atomic.Uint64

	// Capture counters
	CaptureAttempts atomic.Uint64
	CaptureFailures atomic.Uint64
	CaptureRetries  atomic.Uint64

	// Model counters
	ModelLoaded       atomic.Uint64 // 0 = not loaded, 1 = loaded
	InferenceFailures atomic.Uint64

	// Artifact housekeeping
	CleanupWarnings atomic.Uint64
	SweptArtifacts  atomic.Uint64

	// State tracking
	AccumulatedCards atomic.Uint64
	StateResets      atomic.Uint64
	StateVersion     atomic.Uint64

	// Latency tracking
	CycleLatencyMs     atomic.Uint64 // Last cycle duration in ms
	InferenceLatencyMs atomic.Uint64 // Last inference duration in ms

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type gauge struct {
	name string
	help string
	v    *atomic.Uint64
}

func (m *Metrics) gauges() []gauge {
	return []gauge{
		{"cardwatch_cycles_total", "Total detection cycles run", &m.Cycles},
		{"cardwatch_failed_cycles_total", "Cycles that gave up after capture or inference failure", &m.FailedCycles},
		{"cardwatch_empty_cycles_total", "Cycles that detected no cards", &m.EmptyCycles},
		{"cardwatch_capture_attempts_total", "Screen capture attempts", &m.CaptureAttempts},
		{"cardwatch_capture_failures_total", "Screen capture failures", &m.CaptureFailures},
		{"cardwatch_capture_retries_total", "Capture attempts made after a failed attempt", &m.CaptureRetries},
		{"cardwatch_model_loaded", "Detection model loaded (0=no, 1=yes)", &m.ModelLoaded},
		{"cardwatch_inference_failures_total", "Inference failures, including model unavailable", &m.InferenceFailures},
		{"cardwatch_cleanup_warnings_total", "Artifact removals that failed", &m.CleanupWarnings},
		{"cardwatch_swept_artifacts_total", "Stale artifacts removed by the periodic sweep", &m.SweptArtifacts},
		{"cardwatch_accumulated_cards", "Distinct cards accumulated since the last reset", &m.AccumulatedCards},
		{"cardwatch_state_resets_total", "Times the accumulated set was cleared", &m.StateResets},
		{"cardwatch_state_version", "Version of the accumulated set", &m.StateVersion},
		{"cardwatch_cycle_latency_ms", "Duration of the last cycle in milliseconds", &m.CycleLatencyMs},
		{"cardwatch_inference_latency_ms", "Duration of the last inference in milliseconds", &m.InferenceLatencyMs},
	}
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	for _, g := range m.gauges() {
		v := g.v
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// UpdateCycleLatency records the last cycle duration
func (m *Metrics) UpdateCycleLatency(d time.Duration) {
	m.CycleLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateInferenceLatency records the last inference duration
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
