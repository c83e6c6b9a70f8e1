package work

import (
	"time"

	"github.com/microtask/dispatch/internal/task"
)

// Type enumerates claimable work kinds. Task types map across one-to-one;
// REVIEW exists only inside a chain and never as a task type.
type Type string

const (
	TypeCreateFunction       Type = "CREATE_FUNCTION"
	TypeUpdateFunction       Type = "UPDATE_FUNCTION"
	TypeDescribeFunction     Type = "DESCRIBE_FUNCTION"
	TypeReviewTask           Type = "REVIEW_TASK"
	TypeOpenTask             Type = "OPEN_TASK"
	TypeCreateReactComponent Type = "CREATE_REACT_COMPONENT"
	TypeUpdateReactComponent Type = "UPDATE_REACT_COMPONENT"
	TypeCheckReusability     Type = "CHECK_REUSABILITY"
	TypeReview               Type = "REVIEW"
)

// TypeForTask maps a task type to the work type of its first work item.
func TypeForTask(t task.Type) Type {
	return Type(t)
}

type Status string

const (
	// StatusAvailable work is offerable. A reserved item keeps this status;
	// the reservation fields carry the sub-state so expiry can return it to
	// the pool without a status transition.
	StatusAvailable Status = "AVAILABLE"
	// StatusUnavailable work exists but is intentionally not offered
	// (superseded, paused or retired by an administrative action).
	StatusUnavailable Status = "UNAVAILABLE"
	// StatusPendingPackage work is blocked on package installation.
	StatusPendingPackage Status = "PENDING_PACKAGE"
	// StatusComplete is terminal; the outcome is recorded on the row.
	StatusComplete Status = "COMPLETE"
)

type Outcome string

const (
	OutcomeSolved           Outcome = "SOLVED"
	OutcomeFeedback         Outcome = "FEEDBACK"
	OutcomeRequestedPackage Outcome = "REQUESTED_PACKAGE"
	OutcomeCancelled        Outcome = "CANCELLED"
	OutcomeSkipped          Outcome = "SKIPPED"
	OutcomeTaskCancelled    Outcome = "TASK_CANCELLED"
)

// Input is the structured payload handed to the worker. Opaque to the
// scheduler.
type Input struct {
	Code    string `yaml:"code,omitempty" json:"code,omitempty"`
	Context string `yaml:"context,omitempty" json:"context,omitempty"`
}

type Work struct {
	ID          int64  `yaml:"id"`
	TaskID      string `yaml:"task_id"`
	Type        Type   `yaml:"type"`
	Status      Status `yaml:"status"`
	Description string `yaml:"description"`
	Input       Input  `yaml:"input"`
	Priority    int    `yaml:"priority"`
	// ReservedWorker and ReservedUntil are set and cleared together.
	ReservedWorker string     `yaml:"reserved_worker,omitempty"`
	ReservedUntil  *time.Time `yaml:"reserved_until,omitempty"`
	// ProhibitedWorker may never claim this item, e.g. the author of the
	// code under review.
	ProhibitedWorker string `yaml:"prohibited_worker,omitempty"`
	// Chain is the serialized continuation state consumed when this item
	// completes. Nil when the chain terminates here.
	Chain     []byte    `yaml:"chain,omitempty"`
	Outcome   Outcome   `yaml:"outcome,omitempty"`
	Result    string    `yaml:"result,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// ReservationLive reports whether a reservation exists and has not expired.
func (w *Work) ReservationLive(now time.Time) bool {
	return w.ReservedWorker != "" && w.ReservedUntil != nil && w.ReservedUntil.After(now)
}

// HeldBy reports whether workerID holds a live reservation on this item.
func (w *Work) HeldBy(workerID string, now time.Time) bool {
	return w.ReservationLive(now) && w.ReservedWorker == workerID
}

// Claimable reports whether the item may be offered to workerID.
func (w *Work) Claimable(workerID string, now time.Time) bool {
	if w.Status != StatusAvailable {
		return false
	}
	if w.ReservationLive(now) {
		return false
	}
	return w.ProhibitedWorker == "" || w.ProhibitedWorker != workerID
}
