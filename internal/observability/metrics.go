// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the conversation gateway.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "myaa"

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	turnWait      prometheus.Histogram
	liveStates    prometheus.Gauge
	sweptStates   prometheus.Counter
	journalErrors prometheus.Counter
	rateLimited   prometheus.Counter
}

// NewMetrics registers collectors on a fresh registry, which also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(reg)
}

// NewMetricsWithRegistry registers collectors on reg.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		turnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns run through the pipeline, by outcome.",
		}, []string{"outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Duration of each turn pipeline stage.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		turnWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_lock_wait_seconds",
			Help:      "Time a turn waited for its session's turn lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		liveStates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "states",
			Help:      "AgentStates held in the cache, including unswept expired ones.",
		}),
		sweptStates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_swept_total",
			Help:      "Expired AgentStates removed by the sweeper.",
		}),
		journalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Turn journal writes that failed.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Front-end requests rejected by the per-session rate limiter.",
		}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTurn counts a finished turn.
func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveLockWait records time spent waiting for a turn lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.turnWait.Observe(d.Seconds())
}

// SetStates sets the cache size gauge.
func (m *Metrics) SetStates(n int) {
	if m == nil {
		return
	}
	m.liveStates.Set(float64(n))
}

// AddSwept counts states removed by a sweep.
func (m *Metrics) AddSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptStates.Add(float64(n))
}

// IncJournalErrors counts a failed journal write.
func (m *Metrics) IncJournalErrors() {
	if m == nil {
		return
	}
	m.journalErrors.Inc()
}

// IncRateLimited counts a rejected front-end request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
