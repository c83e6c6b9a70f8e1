// Package dispatch is the core of the system: it generates work items from
// tasks, leases them to workers under priority and exclusion rules, and
// feeds reported outcomes back into the task lifecycle through the
// continuation chain.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/metrics"
	"github.com/microtask/dispatch/internal/task"
	"github.com/microtask/dispatch/internal/work"
)

// ErrNotReserved is wrapped when an outcome report or release arrives from a
// worker that does not hold the reservation.
var ErrNotReserved = errors.New("reservation not held by caller")

// ErrExpired is wrapped when the caller's reservation lapsed before the
// report arrived; the item has been or will be returned to the pool.
var ErrExpired = errors.New("reservation expired")

// applyTaskEvent runs one state-machine transition, persists the task and
// publishes the status change.
func applyTaskEvent(ctx context.Context, tasks task.Repository, bus *eventbus.Bus, t *task.Task, ev task.Event, now time.Time) error {
	next, err := task.Transition(t, ev)
	if err != nil {
		return err
	}
	prev := t.Status
	t.Status = next
	t.UpdatedAt = now
	if err := tasks.Update(ctx, t); err != nil {
		return err
	}
	bus.PublishNew(eventbus.EventTypeTaskStatusChanged, t.ID, map[string]string{
		"delegator_id": t.DelegatorID,
		"task_type":    string(t.Type),
		"from_status":  string(prev),
		"new_status":   string(next),
	})
	return nil
}

// createWork persists a freshly generated item and announces it.
func createWork(ctx context.Context, works work.Repository, bus *eventbus.Bus, collector *metrics.Collector, w *work.Work, extraMetadata map[string]string) error {
	if err := works.Create(ctx, w); err != nil {
		return err
	}
	collector.RecordWorkGenerated(string(w.Type))
	metadata := map[string]string{
		"task_id":   w.TaskID,
		"work_type": string(w.Type),
		"priority":  strconv.Itoa(w.Priority),
	}
	for k, v := range extraMetadata {
		metadata[k] = v
	}
	bus.PublishNew(eventbus.EventTypeWorkGenerated, strconv.FormatInt(w.ID, 10), metadata)
	return nil
}
