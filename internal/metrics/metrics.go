// Package metrics exposes turn pipeline measurements as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbqa"

// Collectors records turn outcomes, generation attempts, citation violations,
// live sessions and ingested chunks.
type Collectors struct {
	turns      *prometheus.CounterVec
	duration   prometheus.Histogram
	attempts   prometheus.Histogram
	violations prometheus.Counter
	sessions   prometheus.Gauge
	ingested   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed question answering turns by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn from retrieval to reconciliation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_attempts",
			Help:      "Backend calls needed per generation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citation_violations_total",
			Help:      "Citations dropped because they referenced chunks outside the assembled context.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live conversation sessions.",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_ingested_total",
			Help:      "Chunks appended to the chunk store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.turns, c.duration, c.attempts, c.violations, c.sessions, c.ingested)
	}
	return c
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (c *Collectors) TurnCompleted(code string, d time.Duration) {
	outcome := code
	if outcome == "" {
		outcome = "ok"
	}
	c.turns.WithLabelValues(outcome).Inc()
	c.duration.Observe(d.Seconds())
}

func (c *Collectors) GenerationAttempts(n int) {
	if n > 0 {
		c.attempts.Observe(float64(n))
	}
}

func (c *Collectors) ConsistencyViolations(n int) {
	c.violations.Add(float64(n))
}

func (c *Collectors) SessionsActive(n int) {
	c.sessions.Set(float64(n))
}

func (c *Collectors) ChunksIngested(n int) {
	c.ingested.Add(float64(n))
}
