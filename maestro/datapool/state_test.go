package datapool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStateTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{name: "unset to pending", from: "", to: StatePending, allowed: true},
		{name: "unset to processing", from: "", to: StateProcessing, allowed: true},
		{name: "unset to done", from: "", to: StateDone, allowed: true},
		{name: "unset to error", from: "", to: StateError, allowed: true},
		{name: "unset to timeout", from: "", to: StateTimeout, allowed: true},
		{name: "pending to processing", from: StatePending, to: StateProcessing, allowed: true},
		{name: "pending to done", from: StatePending, to: StateDone, allowed: false},
		{name: "pending to error", from: StatePending, to: StateError, allowed: false},
		{name: "pending to timeout", from: StatePending, to: StateTimeout, allowed: false},
		{name: "processing to done", from: StateProcessing, to: StateDone, allowed: true},
		{name: "processing to error", from: StateProcessing, to: StateError, allowed: true},
		{name: "processing to timeout", from: StateProcessing, to: StateTimeout, allowed: true},
		{name: "processing to pending", from: StateProcessing, to: StatePending, allowed: false},
		{name: "timeout to done", from: StateTimeout, to: StateDone, allowed: true},
		{name: "timeout to error", from: StateTimeout, to: StateError, allowed: true},
		{name: "timeout to processing", from: StateTimeout, to: StateProcessing, allowed: false},
		{name: "done to error", from: StateDone, to: StateError, allowed: false},
		{name: "done to processing", from: StateDone, to: StateProcessing, allowed: false},
		{name: "error to done", from: StateError, to: StateDone, allowed: false},
		{name: "error to processing", from: StateError, to: StateProcessing, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			entry := &Entry{state: tt.from}
			err := entry.SetState(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, entry.State())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.from, entry.State(), "rejected write must not change state")

			var transErr *TransitionError
			require.ErrorAs(t, err, &transErr)
			assert.Equal(t, tt.from, transErr.From)
			assert.Equal(t, tt.to, transErr.To)
		})
	}
}

func TestTransitionErrorNamesAllowedSuccessors(t *testing.T) {
	t.Parallel()

	entry := &Entry{state: StatePending}
	err := entry.SetState(StateDone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PENDING")
	assert.Contains(t, err.Error(), "DONE")
	assert.Contains(t, err.Error(), "PROCESSING")
}

func TestTransitionErrorNamesTerminalState(t *testing.T) {
	t.Parallel()

	entry := &Entry{state: StateDone}
	err := entry.SetState(StateError)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestSetStateRejectsUnknownState(t *testing.T) {
	t.Parallel()

	entry := &Entry{state: StatePending}
	err := entry.SetState(State("RETIRED"))
	require.Error(t, err)
	assert.Equal(t, StatePending, entry.State())
}
