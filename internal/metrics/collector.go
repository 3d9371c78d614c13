// Package metrics exposes Prometheus collectors for turns, summarization
// and generation calls. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "troupe"

// Turn outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"  // turn produced an in-character error message
	OutcomeNoop   = "noop"   // character or location could not be resolved
	OutcomeBusy   = "busy"   // another turn held the location lock
	OutcomeFailed = "failed" // storage or lock failure
)

// Collector holds all application metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal          *prometheus.CounterVec
	turnDuration        *prometheus.HistogramVec
	tokensTotal         *prometheus.CounterVec
	summarizationsTotal *prometheus.CounterVec
	generationErrors    *prometheus.CounterVec
	generationDuration  *prometheus.HistogramVec
	queueDepth          prometheus.Gauge
}

// NewCollector creates a collector with Go runtime and process metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Character turns by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Character turn duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
			},
			[]string{"kind"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by generation calls",
			},
			[]string{"purpose", "direction"},
		),
		summarizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summarizations_total",
				Help:      "Summarization attempts by result",
			},
			[]string{"result"},
		),
		generationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_errors_total",
				Help:      "Failed generation calls by provider",
			},
			[]string{"provider"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Generation call latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Pending turn requests in the queue",
			},
		),
	}
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a finished turn. kind is "turn" or "retry".
func (c *Collector) RecordTurn(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(kind, outcome).Inc()
	c.turnDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordTokens records token usage for a generation purpose.
func (c *Collector) RecordTokens(purpose string, input, output int) {
	if c == nil {
		return
	}
	c.tokensTotal.WithLabelValues(purpose, "input").Add(float64(input))
	c.tokensTotal.WithLabelValues(purpose, "output").Add(float64(output))
}

// RecordSummarization records a summarization result.
func (c *Collector) RecordSummarization(result string) {
	if c == nil {
		return
	}
	c.summarizationsTotal.WithLabelValues(result).Inc()
}

// RecordGeneration records the latency of one generation call and
// whether it failed.
func (c *Collector) RecordGeneration(provider string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.generationDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		c.generationErrors.WithLabelValues(provider).Inc()
	}
}

// SetQueueDepth records the current request queue depth.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
