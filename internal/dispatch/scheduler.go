package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/metrics"
	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
)

// Scheduler implements the reservation protocol: workers claim the best
// eligible work item and hold a time-bounded exclusive lease on it. The
// conditional update inside the work repository is the only contended
// critical section; losing it is transparent to the caller, which simply
// retries against the rest of the pool.
type Scheduler struct {
	works     work.Repository
	bus       *eventbus.Bus
	collector *metrics.Collector
	env       *config.DispatchEnv

	now func() time.Time
}

func NewScheduler(works work.Repository, bus *eventbus.Bus, collector *metrics.Collector, env *config.DispatchEnv) *Scheduler {
	return &Scheduler{
		works:     works,
		bus:       bus,
		collector: collector,
		env:       env,
		now:       time.Now,
	}
}

// Claim selects and reserves the best eligible work item for workerID.
// Returns (nil, nil) when no eligible item exists or every candidate was
// lost to concurrent claimants within the attempt budget.
func (s *Scheduler) Claim(ctx context.Context, workerID string) (*work.Work, error) {
	if workerID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "worker id is required", nil)
	}

	for attempt := 0; attempt < s.env.ClaimAttempts; attempt++ {
		now := s.now()
		candidates, err := s.eligible(ctx, workerID, now)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}

		conflicted := false
		for _, cand := range candidates {
			reserved, err := s.works.Reserve(ctx, cand.ID, workerID, now.Add(s.env.LeaseDuration), now)
			if err != nil {
				if errors.Is(err, work.ErrReservationHeld) {
					// Lost the race; try the next candidate.
					s.collector.RecordClaimConflict()
					conflicted = true
					continue
				}
				return nil, err
			}
			s.collector.RecordClaim(true)
			s.bus.PublishNew(eventbus.EventTypeWorkClaimed, strconv.FormatInt(reserved.ID, 10), map[string]string{
				"task_id":   reserved.TaskID,
				"worker_id": workerID,
				"work_type": string(reserved.Type),
			})
			return reserved, nil
		}
		if !conflicted {
			break
		}
		// Every candidate was taken from under us; reselect.
	}

	s.collector.RecordClaim(false)
	return nil, nil
}

// eligible returns claimable items ordered best-first: lowest priority value
// wins, FIFO on creation time among equals.
func (s *Scheduler) eligible(ctx context.Context, workerID string, now time.Time) ([]*work.Work, error) {
	available, err := s.works.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []*work.Work
	for _, w := range available {
		if w.Claimable(workerID, now) {
			candidates = append(candidates, w)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

// Release voluntarily gives up a held reservation without penalty; the item
// returns to the pool immediately.
func (s *Scheduler) Release(ctx context.Context, workID int64, workerID string) error {
	w, err := s.works.Get(ctx, workID)
	if err != nil {
		return err
	}
	if !w.HeldBy(workerID, s.now()) {
		return cerr.NewError(
			cerr.FailedPrecondition,
			"work item is not reserved by this worker",
			fmt.Errorf("%w: work %d", ErrNotReserved, workID),
		)
	}
	if _, err := s.works.ClearReservation(ctx, w.ID, w.ReservedWorker, *w.ReservedUntil); err != nil {
		if errors.Is(err, work.ErrReservationChanged) {
			return cerr.NewError(
				cerr.FailedPrecondition,
				"work item is not reserved by this worker",
				fmt.Errorf("%w: work %d", ErrNotReserved, workID),
			)
		}
		return err
	}
	s.bus.PublishNew(eventbus.EventTypeWorkReleased, strconv.FormatInt(w.ID, 10), map[string]string{
		"task_id":   w.TaskID,
		"worker_id": workerID,
	})
	return nil
}

// ExpireSweep returns every item with a lapsed reservation to the pool. It
// clears only the reservation it observed, so a reservation renewed or
// completed between the scan and the clear is left alone. Returns the number
// of reservations cleared.
func (s *Scheduler) ExpireSweep(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.works.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, w := range expired {
		if _, err := s.works.ClearReservation(ctx, w.ID, w.ReservedWorker, *w.ReservedUntil); err != nil {
			if errors.Is(err, work.ErrReservationChanged) {
				continue
			}
			slog.WarnContext(ctx, "expire sweep: failed to clear reservation", "work_id", w.ID, "error", err)
			continue
		}
		cleared++
		s.collector.RecordReservationExpired()
	}
	return cleared, nil
}

// RunSweeper runs ExpireSweep on the configured interval until ctx is
// cancelled.
func (s *Scheduler) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.env.SweepInterval)
	defer ticker.Stop()

	slog.Info("reservation sweeper started", "interval", s.env.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
			cleared, err := s.ExpireSweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "expire sweep failed", "error", err)
				continue
			}
			if cleared > 0 {
				slog.InfoContext(ctx, "expired reservations returned to pool", "count", cleared)
			}
		}
	}
}
