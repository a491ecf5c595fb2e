package domain

import "fmt"

// TurnState is a phase of the per-turn pipeline.
type TurnState string

const (
	TurnStateIdle        TurnState = "idle"
	TurnStateRetrieving  TurnState = "retrieving"
	TurnStateAssembling  TurnState = "assembling"
	TurnStateGenerating  TurnState = "generating"
	TurnStateReconciling TurnState = "reconciling"
	TurnStateFailed      TurnState = "failed"
)

var turnTransitions = map[TurnState][]TurnState{
	TurnStateIdle:        {TurnStateRetrieving},
	TurnStateRetrieving:  {TurnStateAssembling},
	TurnStateAssembling:  {TurnStateGenerating},
	TurnStateGenerating:  {TurnStateReconciling},
	TurnStateReconciling: {TurnStateIdle},
}

// CanTransition reports whether the pipeline may move from one state to another.
// Failed is reachable from every non-terminal state.
func CanTransition(from, to TurnState) bool {
	if from == TurnStateFailed {
		return false
	}
	if to == TurnStateFailed {
		return true
	}
	for _, next := range turnTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TurnTrace records the states a single turn passed through.
type TurnTrace struct {
	states []TurnState
}

// NewTurnTrace starts a trace in the idle state.
func NewTurnTrace() *TurnTrace {
	return &TurnTrace{states: []TurnState{TurnStateIdle}}
}

// Current returns the latest state.
func (t *TurnTrace) Current() TurnState {
	return t.states[len(t.states)-1]
}

// Enter moves the trace to the next state, rejecting skipped or illegal moves.
func (t *TurnTrace) Enter(next TurnState) error {
	cur := t.Current()
	if !CanTransition(cur, next) {
		return fmt.Errorf("illegal turn transition %s -> %s", cur, next)
	}
	t.states = append(t.states, next)
	return nil
}

// States returns a copy of the recorded states.
func (t *TurnTrace) States() []TurnState {
	out := make([]TurnState, len(t.states))
	copy(out, t.states)
	return out
}
