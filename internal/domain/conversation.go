package domain

import "time"

// DefaultMaxTurns bounds a conversation window when none is configured.
const DefaultMaxTurns = 20

// Query is one user question, optionally carrying the prior turns it follows.
type Query struct {
	Text           string
	ConversationID string
	History        []Turn
}

// Turn is one completed question/answer exchange.
type Turn struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Answer    Answer    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState is the bounded history of a single session.
// It is owned by its session and is not safe for concurrent use on its own;
// the session serializes access.
type ConversationState struct {
	maxTurns int
	turns    []Turn
}

// NewConversationState creates an empty conversation bounded to maxTurns.
func NewConversationState(maxTurns int) *ConversationState {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &ConversationState{maxTurns: maxTurns}
}

// Len returns the number of retained turns.
func (s *ConversationState) Len() int {
	return len(s.turns)
}

// MaxTurns returns the window size.
func (s *ConversationState) MaxTurns() int {
	return s.maxTurns
}

// Append records a completed turn, evicting the oldest beyond the window.
func (s *ConversationState) Append(t Turn) {
	s.turns = append(s.turns, t)
	if over := len(s.turns) - s.maxTurns; over > 0 {
		kept := make([]Turn, s.maxTurns)
		copy(kept, s.turns[over:])
		s.turns = kept
	}
}

// Last returns a copy of the most recent n turns, oldest first.
func (s *ConversationState) Last(n int) []Turn {
	if n <= 0 || len(s.turns) == 0 {
		return nil
	}
	if n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]Turn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// Turns returns a copy of all retained turns.
func (s *ConversationState) Turns() []Turn {
	return s.Last(len(s.turns))
}
