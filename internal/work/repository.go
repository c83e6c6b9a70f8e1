package work

import (
	"context"
	"errors"
	"time"
)

// ErrReservationHeld is wrapped by Reserve when another claimant holds a
// live reservation, the item is not AVAILABLE, or the worker is prohibited.
var ErrReservationHeld = errors.New("reservation held")

// ErrReservationChanged is wrapped by ClearReservation when the observed
// reservation no longer matches, i.e. the item was re-reserved, renewed or
// completed between observation and the clear attempt.
var ErrReservationChanged = errors.New("reservation changed")

// Repository persists work items. Reserve and ClearReservation are the two
// concurrency-critical operations: implementations must apply them as single
// conditional updates so concurrent claimants and the expiry sweep can never
// both win. Everything else is plain row-scoped CRUD.
type Repository interface {
	// Create assigns a fresh surrogate ID and persists the item.
	Create(ctx context.Context, w *Work) error
	Get(ctx context.Context, id int64) (*Work, error)
	ListByTask(ctx context.Context, taskID string) ([]*Work, error)
	// ListAvailable returns every item with status AVAILABLE, including ones
	// under a live reservation; callers filter on the reservation fields.
	ListAvailable(ctx context.Context) ([]*Work, error)
	// ListExpired returns items whose reservation lapsed before now.
	ListExpired(ctx context.Context, now time.Time) ([]*Work, error)
	Update(ctx context.Context, w *Work) error
	// Reserve grants workerID an exclusive lease until the given time iff
	// the item is AVAILABLE, carries no live reservation and does not
	// prohibit the worker. Fails wrapping ErrReservationHeld otherwise.
	Reserve(ctx context.Context, id int64, workerID string, until time.Time, now time.Time) (*Work, error)
	// ClearReservation removes the reservation iff it still matches the
	// observed holder and expiry. Fails wrapping ErrReservationChanged if
	// the reservation was renewed, replaced or completed in the interim.
	ClearReservation(ctx context.Context, id int64, observedWorker string, observedUntil time.Time) (*Work, error)
}
