// Package metrics exposes Prometheus collectors for turns, rounds, tool
// invocations and provider calls. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kgassist"

// Recorder groups the collectors of one registry.
type Recorder struct {
	gatherer prometheus.Gatherer

	turns           *prometheus.CounterVec
	classifications *prometheus.CounterVec
	rounds          prometheus.Histogram
	turnDuration    prometheus.Histogram
	activeTurns     prometheus.Gauge
	invocations     *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	streamDrops     prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns by terminal status",
		}, []string{"status"}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Intent classifications by result and path",
		}, []string{"classification", "path"}),
		rounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_rounds",
			Help:      "Tool rounds executed per turn",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 13},
		}),
		turnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn",
			Buckets:   prometheus.DefBuckets,
		}),
		activeTurns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Turns currently in progress",
		}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and terminal status",
		}, []string{"tool", "status"}),
		toolLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		providerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider failures by provider and retryability",
		}, []string{"provider", "retryable"}),
		streamDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_disconnects_total",
			Help:      "Streams stopped because the transport failed",
		}),
	}
}

// TurnStarted increments the active turn gauge.
func (r *Recorder) TurnStarted() {
	if r == nil {
		return
	}
	r.activeTurns.Inc()
}

// TurnFinished records a terminal turn.
func (r *Recorder) TurnFinished(status string, rounds int, d time.Duration) {
	if r == nil {
		return
	}
	r.activeTurns.Dec()
	r.turns.WithLabelValues(status).Inc()
	r.rounds.Observe(float64(rounds))
	r.turnDuration.Observe(d.Seconds())
}

// Classified records a classifier decision; path is "fast", "provider" or "degraded".
func (r *Recorder) Classified(classification, path string) {
	if r == nil {
		return
	}
	r.classifications.WithLabelValues(classification, path).Inc()
}

// InvocationFinished records a terminal tool invocation.
func (r *Recorder) InvocationFinished(tool, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.invocations.WithLabelValues(tool, status).Inc()
	r.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ProviderFailed records a provider error.
func (r *Recorder) ProviderFailed(provider string, retryable bool) {
	if r == nil {
		return
	}
	label := "false"
	if retryable {
		label = "true"
	}
	r.providerErrors.WithLabelValues(provider, label).Inc()
}

// StreamDisconnected records a stream stopped by transport failure.
func (r *Recorder) StreamDisconnected() {
	if r == nil {
		return
	}
	r.streamDrops.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
