package grok

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics recorded by filters. One Metrics
// may be shared by several filters; AbandonedAttempts then reports their sum.
type Metrics struct {
	// Events counts filtered events by outcome.
	Events *prometheus.CounterVec

	// PatternTimeouts counts individual pattern attempts that timed out.
	PatternTimeouts prometheus.Counter

	// CoercionErrors counts captured values that could not be coerced.
	CoercionErrors prometheus.Counter

	// Duration observes the time spent filtering one event.
	Duration prometheus.Histogram

	// AbandonedAttempts is the number of timed-out attempts still running
	// in the background, as of each filter's most recent event.
	AbandonedAttempts prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all filter metrics in a new registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grok",
			Name:      "events_total",
			Help:      "Total number of filtered events by outcome",
		},
		[]string{"outcome"},
	)

	m.PatternTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grok",
		Name:      "pattern_timeouts_total",
		Help:      "Total number of pattern attempts that exceeded their budget",
	})

	m.CoercionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grok",
		Name:      "coercion_errors_total",
		Help:      "Total number of captured values that failed type coercion",
	})

	m.Duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "grok",
		Name:      "filter_duration_seconds",
		Help:      "Time spent filtering one event in seconds",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
	})

	m.AbandonedAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "grok",
		Name:      "abandoned_attempts",
		Help:      "Number of timed-out match attempts still running in the background",
	})

	// Pre-create outcome series so they are exported at zero.
	for _, o := range []Outcome{Matched, NotMatched, TimedOut} {
		m.Events.WithLabelValues(o.String())
	}

	m.registry.MustRegister(
		m.Events,
		m.PatternTimeouts,
		m.CoercionErrors,
		m.Duration,
		m.AbandonedAttempts,
	)

	return m
}

// Registry returns the registry holding the metrics, for use as a
// prometheus.Gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// record adds one event. abandonedDelta is the change in the filter's
// abandoned attempts since it last recorded.
func (m *Metrics) record(res Result, seconds float64, patternTimeouts int, abandonedDelta int64) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(res.Outcome.String()).Inc()
	m.Duration.Observe(seconds)
	if patternTimeouts > 0 {
		m.PatternTimeouts.Add(float64(patternTimeouts))
	}
	for _, err := range res.Errors {
		var ce *CoercionError
		if errors.As(err, &ce) {
			m.CoercionErrors.Inc()
		}
	}
	if abandonedDelta != 0 {
		m.AbandonedAttempts.Add(float64(abandonedDelta))
	}
}
