package datapool

import (
	"fmt"
	"strings"
)

// State is the processing state of an entry. The zero value means the entry
// was never synced with the portal and may move to any state.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
	StateTimeout    State = "TIMEOUT"
)

// stateTransitions lists the successors a caller may move an entry to. DONE
// and ERROR are terminal. Hydration from a portal response is exempt: the
// server already arbitrated those writes.
var stateTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateTimeout, StateDone, StateError},
	StateTimeout:    {StateDone, StateError},
	StateDone:       {},
	StateError:      {},
}

// TransitionError reports a rejected state change. The entry keeps its
// previous state.
type TransitionError struct {
	From    State
	To      State
	Allowed []State
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition from %s to %s: %s is terminal", e.From, e.To, e.From)
	}
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid transition from %s to %s: allowed next states are %s",
		e.From, e.To, strings.Join(names, ", "))
}

func checkTransition(from State, to State) error {
	if from == "" {
		return nil
	}
	for _, allowed := range stateTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Allowed: stateTransitions[from]}
}
