// internal/metrics/metrics.go
// Package metrics exports keying pipeline state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
)

const namespace = "cwkeyer"

// Metrics holds the pipeline collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	snr             prometheus.Gauge       // signal peak over noise floor
	noiseFloor      prometheus.Gauge       // normalized noise floor
	peak            prometheus.Gauge       // normalized peak of the last chunk
	lockedFrequency prometheus.Gauge       // tracker lock in Hz, 0 when unlocked
	keyDown         prometheus.Gauge       // 1 while the key is down
	calibrating     prometheus.Gauge       // 1 while levels are being learned
	keyEvents       *prometheus.CounterVec // transitions by state
	blocks          prometheus.Counter     // processed blocks
	droppedChunks   prometheus.Counter     // chunks rejected by a full queue
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		snr: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snr_ratio",
			Help:      "Ratio of signal peak to noise floor",
		}),
		noiseFloor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "noise_floor_normalized",
			Help:      "Noise floor normalized to the running maximum (0-1)",
		}),
		peak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_normalized",
			Help:      "Peak block magnitude of the last chunk normalized to the running maximum (0-1)",
		}),
		lockedFrequency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locked_frequency_hz",
			Help:      "Frequency the tracker is locked to, 0 when unlocked or not scanning",
		}),
		keyDown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "key_down",
			Help:      "Key state (1=down, 0=up)",
		}),
		calibrating: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibrating",
			Help:      "Whether the threshold is still learning levels (1=yes, 0=no)",
		}),
		keyEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_events_total",
			Help:      "Key transitions emitted",
		}, []string{"state"}),
		blocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Sample blocks run through the tone filter",
		}),
		droppedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_chunks_total",
			Help:      "Audio chunks dropped because the processing queue was full",
		}),
	}
}

// Observe records one processing result
func (m *Metrics) Observe(res dsp.Result) {
	for _, ev := range res.Events {
		if ev.KeyDown {
			m.keyEvents.WithLabelValues("down").Inc()
		} else {
			m.keyEvents.WithLabelValues("up").Inc()
		}
	}
	m.blocks.Add(float64(res.Blocks))

	m.snr.Set(res.SNR)
	m.noiseFloor.Set(res.NoiseFloor)
	m.peak.Set(res.Peak)
	m.lockedFrequency.Set(res.LockedFrequency)
	m.keyDown.Set(boolToFloat(res.KeyDown))
	m.calibrating.Set(boolToFloat(res.Calibrating))
}

// AddDropped records chunks dropped before processing
func (m *Metrics) AddDropped(n uint64) {
	m.droppedChunks.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
