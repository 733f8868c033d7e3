// Package metrics exports relay metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeCancelled    = "cancelled"
	OutcomeRefused      = "refused"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

// Exporter holds the relay metrics on a private registry.
type Exporter struct {
	registry *prometheus.Registry

	relaysStarted  prometheus.Counter
	relaysFinished *prometheus.CounterVec
	relaysActive   prometheus.Gauge
	relayDuration  *prometheus.HistogramVec
	firstToken     prometheus.Histogram

	flushes *prometheus.CounterVec
	frames  *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}
}

// NewExporter creates a new Prometheus exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.relaysStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "t4chat",
		Subsystem: "relay",
		Name:      "started_total",
		Help:      "Total number of relays started",
	})

	e.relaysFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "t4chat",
			Subsystem: "relay",
			Name:      "finished_total",
			Help:      "Total number of relays finished, by outcome",
		},
		[]string{"outcome"},
	)

	e.relaysActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "t4chat",
		Subsystem: "relay",
		Name:      "active",
		Help:      "Number of relays currently streaming",
	})

	e.relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "t4chat",
			Subsystem: "relay",
			Name:      "duration_seconds",
			Help:      "Relay wall-clock duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	e.firstToken = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "t4chat",
		Subsystem: "relay",
		Name:      "time_to_first_token_seconds",
		Help:      "Time from relay start to the first text or reasoning event",
		Buckets:   cfg.LatencyBuckets,
	})

	e.flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "t4chat",
			Subsystem: "store",
			Name:      "flushes_total",
			Help:      "Store writes issued by relays, by kind and result",
		},
		[]string{"kind", "result"},
	)

	e.frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "t4chat",
			Subsystem: "provider",
			Name:      "frames_total",
			Help:      "Provider frames received, by kind",
		},
		[]string{"kind"},
	)

	registry.MustRegister(
		e.relaysStarted,
		e.relaysFinished,
		e.relaysActive,
		e.relayDuration,
		e.firstToken,
		e.flushes,
		e.frames,
	)

	return e
}

// RelayStarted records a relay entering the streaming state.
func (e *Exporter) RelayStarted() {
	e.relaysStarted.Inc()
	e.relaysActive.Inc()
}

// RelayFinished records a relay's outcome and duration.
func (e *Exporter) RelayFinished(outcome string, duration time.Duration) {
	e.relaysActive.Dec()
	e.relaysFinished.WithLabelValues(outcome).Inc()
	e.relayDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// TimeToFirstToken records the first-token latency of a relay.
func (e *Exporter) TimeToFirstToken(d time.Duration) {
	e.firstToken.Observe(d.Seconds())
}

// Flush records one store write of kind (text, reasoning, annotations).
func (e *Exporter) Flush(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	e.flushes.WithLabelValues(kind, result).Inc()
}

// Frame records one provider frame of kind.
func (e *Exporter) Frame(kind string) {
	e.frames.WithLabelValues(kind).Inc()
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
