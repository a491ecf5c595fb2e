package jobs

import (
	"context"
	"time"
)

// IdleSweeper ends sessions that have been idle longer than a TTL.
type IdleSweeper interface {
	SweepIdle(ttl time.Duration) int
}

// SessionSweeper evicts idle conversation sessions on each tick. Sessions
// with a turn in flight are left to the next round.
type SessionSweeper struct {
	sessions IdleSweeper
	ttl      time.Duration
}

func NewSessionSweeper(sessions IdleSweeper, ttl time.Duration) *SessionSweeper {
	return &SessionSweeper{sessions: sessions, ttl: ttl}
}

// ProcessJobs returns the number of sessions evicted.
func (s *SessionSweeper) ProcessJobs(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.ttl <= 0 {
		return 0, nil
	}
	return s.sessions.SweepIdle(s.ttl), nil
}
