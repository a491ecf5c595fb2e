package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

// Session owns one conversation. Its turns run one at a time.
type Session struct {
	id        string
	createdAt time.Time
	conv      *domain.ConversationState
	slot      chan struct{}

	mu         sync.Mutex
	lastActive time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// acquire waits for the session's turn slot or for ctx to end.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return canceledError(ctx.Err())
	}
}

func (s *Session) tryAcquire() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() {
	<-s.slot
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Turns      int       `json:"turns"`
}

// SessionManager tracks live sessions and their conversation state.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxTurns int
	metrics  Metrics
	now      func() time.Time
}

// NewSessionManager creates a manager whose conversations keep maxTurns turns.
func NewSessionManager(maxTurns int, metrics Metrics) *SessionManager {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		maxTurns: maxTurns,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start creates a new session with an empty conversation.
func (m *SessionManager) Start() *Session {
	now := m.now().UTC()
	s := &Session{
		id:         uuid.NewString(),
		createdAt:  now,
		conv:       domain.NewConversationState(m.maxTurns),
		slot:       make(chan struct{}, 1),
		lastActive: now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsActive(n)
	return s
}

// Get returns a live session.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// End destroys a session and its conversation state. A turn already running
// finishes against the detached state.
func (m *SessionManager) End(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}
	m.metrics.SessionsActive(n)
	return nil
}

// Info returns a snapshot of a session, waiting for any running turn.
func (m *SessionManager) Info(ctx context.Context, id string) (*SessionInfo, []domain.Turn, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.release()

	turns := s.conv.Turns()
	return &SessionInfo{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastActive: s.idleSince(),
		Turns:      len(turns),
	}, turns, nil
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdle ends sessions idle for longer than ttl. Sessions with a turn in
// flight are skipped. It returns the number of sessions ended.
func (m *SessionManager) SweepIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().UTC().Add(-ttl)

	m.mu.Lock()
	evicted := 0
	for id, s := range m.sessions {
		if !s.idleSince().Before(cutoff) {
			continue
		}
		if !s.tryAcquire() {
			continue
		}
		delete(m.sessions, id)
		s.release()
		evicted++
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if evicted > 0 {
		m.metrics.SessionsActive(n)
	}
	return evicted
}
