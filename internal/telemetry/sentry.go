// Package telemetry reports turns and ingestion to Sentry as traces.
package telemetry

import (
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	serverName   = "kbqa"
	flushTimeout = 5 * time.Second
)

// untraced lists transactions that are never sampled.
var untraced = map[string]bool{
	"GET /health":  true,
	"GET /metrics": true,
}

type Config struct {
	DSN         string
	Environment string
	Release     string
	// SampleRate of zero picks SampleRateFor(Environment).
	SampleRate float64
	Debug      bool
}

// SampleRateFor is the root trace sample rate used when none is configured.
func SampleRateFor(environment string) float64 {
	switch environment {
	case "", "development", "test":
		return 1.0
	default:
		return 0.1
	}
}

// Init starts the Sentry client and returns a function that flushes buffered
// events. Without a DSN it does nothing. A client that fails to start is
// logged and the server runs untraced.
func Init(cfg Config) func() {
	noop := func() {}
	if cfg.DSN == "" {
		return noop
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRateFor(cfg.Environment)
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           cfg.DSN,
		Environment:   cfg.Environment,
		Release:       cfg.Release,
		ServerName:    serverName,
		Debug:         cfg.Debug,
		EnableTracing: true,
		TracesSampler: sampler(cfg.SampleRate),
	})
	if err != nil {
		log.Printf("sentry: tracing disabled: %v", err)
		return noop
	}

	log.Printf("sentry: tracing enabled (environment=%s sample_rate=%.2f)", cfg.Environment, cfg.SampleRate)
	return func() { sentry.Flush(flushTimeout) }
}

// sampler keeps whole traces together: child spans inherit the root's
// decision and only roots are sampled at rate.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		span := ctx.Span
		if span == nil {
			return rate
		}
		if untraced[span.Name] {
			return 0
		}
		if span.ParentSpanID != (sentry.SpanID{}) {
			if span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}
