package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtask/dispatch/pkg/cerr"
)

func TestTransitionHappyPath(t *testing.T) {
	tk := &Task{Status: StatusNew}

	steps := []struct {
		event Event
		want  Status
	}{
		{EventSubmit, StatusPending},
		{EventStart, StatusInProcess},
		{EventSolve, StatusSolved},
		{EventAccept, StatusAccepted},
	}
	for _, step := range steps {
		next, err := Transition(tk, step.event)
		require.NoError(t, err, "event %s from %s", step.event, tk.Status)
		assert.Equal(t, step.want, next)
		tk.Status = next
	}
}

func TestTransitionModificationRound(t *testing.T) {
	tk := &Task{Status: StatusSolved}

	next, err := Transition(tk, EventRequestModifications)
	require.NoError(t, err)
	assert.Equal(t, StatusModificationsRequested, next)
	tk.Status = next

	next, err = Transition(tk, EventStart)
	require.NoError(t, err)
	assert.Equal(t, StatusInProcess, next)
}

func TestTransitionCancelFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []Status{
		StatusNew, StatusPending, StatusInProcess, StatusPaused,
		StatusSolved, StatusInvalid, StatusPendingClassParams,
		StatusPendingPackage, StatusModificationsRequested,
	}
	for _, s := range nonTerminal {
		next, err := Transition(&Task{Status: s}, EventCancel)
		require.NoError(t, err, "cancel from %s", s)
		assert.Equal(t, StatusCancelled, next)
	}
}

func TestTransitionTerminalStatesRejectEverything(t *testing.T) {
	events := []Event{
		EventSubmit, EventStart, EventPause, EventResume, EventSolve,
		EventAccept, EventRequestModifications, EventCancel, EventInvalidate,
		EventSupplyInvalidDescription, EventBlockOnClassParams,
		EventBlockOnPackage, EventUnblock,
	}
	for _, s := range []Status{StatusAccepted, StatusCancelled} {
		for _, ev := range events {
			_, err := Transition(&Task{Status: s}, ev)
			require.Error(t, err, "event %s from %s", ev, s)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
		}
	}
}

func TestTransitionInvalidReopenOnlyViaSupply(t *testing.T) {
	// INVALID admits exactly SupplyInvalidDescription and Cancel.
	_, err := Transition(&Task{Status: StatusInvalid}, EventStart)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Transition(&Task{Status: StatusInvalid}, EventSubmit)
	require.ErrorIs(t, err, ErrInvalidTransition)

	next, err := Transition(&Task{Status: StatusInvalid}, EventSupplyInvalidDescription)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, next)
}

func TestTransitionInvalidateOnlyEarly(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusPending} {
		next, err := Transition(&Task{Status: s}, EventInvalidate)
		require.NoError(t, err)
		assert.Equal(t, StatusInvalid, next)
	}
	for _, s := range []Status{StatusInProcess, StatusSolved, StatusPaused} {
		_, err := Transition(&Task{Status: s}, EventInvalidate)
		require.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestTransitionBlockedStatuses(t *testing.T) {
	for _, ev := range []Event{EventBlockOnClassParams, EventBlockOnPackage} {
		for _, s := range []Status{StatusPending, StatusInProcess} {
			next, err := Transition(&Task{Status: s}, ev)
			require.NoError(t, err, "event %s from %s", ev, s)
			assert.True(t, next.Blocked())
		}
	}
	for _, s := range []Status{StatusPendingClassParams, StatusPendingPackage} {
		next, err := Transition(&Task{Status: s}, EventUnblock)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, next)
	}
}

func TestTransitionPauseResume(t *testing.T) {
	next, err := Transition(&Task{Status: StatusInProcess}, EventPause)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, next)

	next, err = Transition(&Task{Status: StatusPaused}, EventResume)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, next)

	// A paused task resumes to PENDING, never straight back to IN_PROCESS.
	_, err = Transition(&Task{Status: StatusPaused}, EventStart)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTypeSingleShot(t *testing.T) {
	assert.True(t, TypeReviewTask.SingleShot())
	assert.True(t, TypeDescribeFunction.SingleShot())
	assert.True(t, TypeCheckReusability.SingleShot())
	assert.False(t, TypeCreateFunction.SingleShot())
	assert.False(t, TypeUpdateReactComponent.SingleShot())
}
