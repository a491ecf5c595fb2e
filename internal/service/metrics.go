package service

import "time"

// Metrics receives turn pipeline measurements.
type Metrics interface {
	TurnCompleted(code string, duration time.Duration)
	GenerationAttempts(n int)
	ConsistencyViolations(n int)
	SessionsActive(n int)
	ChunksIngested(n int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) TurnCompleted(string, time.Duration) {}
func (NopMetrics) GenerationAttempts(int)               {}
func (NopMetrics) ConsistencyViolations(int)            {}
func (NopMetrics) SessionsActive(int)                   {}
func (NopMetrics) ChunksIngested(int)                   {}
