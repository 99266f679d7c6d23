// Package metrics provides Prometheus metrics for chat turns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter collects per-turn metrics and serves them in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	tokensTotal   *prometheus.CounterVec
	costTotal     *prometheus.CounterVec
	activeStreams prometheus.Gauge
}

// NewExporter creates an exporter with its own registry.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_chat_turns_total",
			Help: "Completed chat turns by model and outcome.",
		}, []string{"model", "status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_chat_turn_duration_seconds",
			Help:    "Wall-clock duration of chat turns.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_tokens_total",
			Help: "LLM tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD by model.",
		}, []string{"model"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_chat_active_streams",
			Help: "Streams currently open.",
		}),
	}

	registry.MustRegister(e.turnsTotal, e.turnDuration, e.tokensTotal, e.costTotal, e.activeStreams)
	return e
}

// StreamStarted marks a stream as open.
func (e *Exporter) StreamStarted() {
	e.activeStreams.Inc()
}

// StreamFinished closes out a stream with its outcome.
// Status is one of "complete", "error", "aborted".
func (e *Exporter) StreamFinished(model, status string, duration time.Duration) {
	e.activeStreams.Dec()
	e.turnsTotal.WithLabelValues(model, status).Inc()
	e.turnDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordUsage accumulates token and cost counters for a completed turn.
func (e *Exporter) RecordUsage(model string, inputTokens, outputTokens int32, cost float64) {
	e.tokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	e.tokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	if cost > 0 {
		e.costTotal.WithLabelValues(model).Add(cost)
	}
}

// Handler returns the scrape endpoint handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
