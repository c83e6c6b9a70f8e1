package task

import (
	"errors"
	"fmt"

	"github.com/microtask/dispatch/pkg/cerr"
)

type Status string

const (
	StatusNew                    Status = "NEW"
	StatusPending                Status = "PENDING"
	StatusInProcess              Status = "IN_PROCESS"
	StatusPaused                 Status = "PAUSED"
	StatusSolved                 Status = "SOLVED"
	StatusAccepted               Status = "ACCEPTED"
	StatusCancelled              Status = "CANCELLED"
	StatusInvalid                Status = "INVALID"
	StatusPendingClassParams     Status = "PENDING_CLASS_PARAMS"
	StatusPendingPackage         Status = "PENDING_PACKAGE"
	StatusModificationsRequested Status = "MODIFICATIONS_REQUESTED"
)

// Terminal statuses admit no further transitions. INVALID is not listed:
// supplying an invalid description reopens the task through an explicitly
// gated event, so it is terminal only in the absence of that event.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusCancelled
}

// Blocked statuses wait on delegator input or an external collaborator; the
// task holds no offerable work item while blocked.
func (s Status) Blocked() bool {
	return s == StatusPaused || s == StatusPendingClassParams || s == StatusPendingPackage
}

// Event drives a status transition.
type Event string

const (
	EventSubmit                   Event = "SUBMIT"
	EventStart                    Event = "START"
	EventPause                    Event = "PAUSE"
	EventResume                   Event = "RESUME"
	EventSolve                    Event = "SOLVE"
	EventAccept                   Event = "ACCEPT"
	EventRequestModifications     Event = "REQUEST_MODIFICATIONS"
	EventCancel                   Event = "CANCEL"
	EventInvalidate               Event = "INVALIDATE"
	EventSupplyInvalidDescription Event = "SUPPLY_INVALID_DESCRIPTION"
	EventBlockOnClassParams       Event = "BLOCK_ON_CLASS_PARAMS"
	EventBlockOnPackage           Event = "BLOCK_ON_PACKAGE"
	EventUnblock                  Event = "UNBLOCK"
)

// ErrInvalidTransition is wrapped by every rejected transition, so callers
// can test with errors.Is regardless of the surrounding cerr code.
var ErrInvalidTransition = errors.New("invalid transition")

// transitions maps event -> allowed source statuses -> target status.
// EventCancel is handled separately: it is legal from any non-terminal state.
var transitions = map[Event]map[Status]Status{
	EventSubmit: {
		StatusNew: StatusPending,
	},
	EventStart: {
		StatusPending:                StatusInProcess,
		StatusModificationsRequested: StatusInProcess,
	},
	EventPause: {
		StatusPending:   StatusPaused,
		StatusInProcess: StatusPaused,
	},
	EventResume: {
		StatusPaused: StatusPending,
	},
	EventSolve: {
		StatusInProcess: StatusSolved,
	},
	EventAccept: {
		StatusSolved: StatusAccepted,
	},
	EventRequestModifications: {
		StatusSolved: StatusModificationsRequested,
	},
	EventInvalidate: {
		StatusNew:     StatusInvalid,
		StatusPending: StatusInvalid,
	},
	EventSupplyInvalidDescription: {
		StatusInvalid: StatusPending,
	},
	EventBlockOnClassParams: {
		StatusPending:   StatusPendingClassParams,
		StatusInProcess: StatusPendingClassParams,
	},
	EventBlockOnPackage: {
		StatusPending:   StatusPendingPackage,
		StatusInProcess: StatusPendingPackage,
	},
	EventUnblock: {
		StatusPendingClassParams: StatusPending,
		StatusPendingPackage:     StatusPending,
	},
}

// Transition validates ev against the task's current status and returns the
// new status. The task is not mutated; callers apply the result after their
// side effects succeed.
func Transition(t *Task, ev Event) (Status, error) {
	if ev == EventCancel {
		if t.Status.Terminal() {
			return "", invalidTransition(t.Status, ev)
		}
		return StatusCancelled, nil
	}
	targets, ok := transitions[ev]
	if !ok {
		return "", cerr.NewError(cerr.Internal, "server error", fmt.Errorf("unknown task event %q", ev))
	}
	next, ok := targets[t.Status]
	if !ok {
		return "", invalidTransition(t.Status, ev)
	}
	return next, nil
}

func invalidTransition(from Status, ev Event) error {
	return cerr.NewError(
		cerr.FailedPrecondition,
		fmt.Sprintf("event %s is not allowed from status %s", ev, from),
		fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from),
	)
}
