package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/microtask/dispatch/internal/chain"
	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/metrics"
	"github.com/microtask/dispatch/internal/task"
	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
)

// Processor consumes worker-reported outcomes: it completes the work item,
// consults the continuation chain for a successor, and drives the owning
// task's status.
type Processor struct {
	tasks     task.Repository
	works     work.Repository
	gen       *Generator
	bus       *eventbus.Bus
	collector *metrics.Collector

	now func() time.Time
}

func NewProcessor(tasks task.Repository, works work.Repository, gen *Generator, bus *eventbus.Bus, collector *metrics.Collector) *Processor {
	return &Processor{
		tasks:     tasks,
		works:     works,
		gen:       gen,
		bus:       bus,
		collector: collector,
		now:       time.Now,
	}
}

var validOutcomes = map[work.Outcome]struct{}{
	work.OutcomeSolved:           {},
	work.OutcomeFeedback:         {},
	work.OutcomeRequestedPackage: {},
	work.OutcomeCancelled:        {},
	work.OutcomeSkipped:          {},
	work.OutcomeTaskCancelled:    {},
}

// ReportOutcome records the outcome for a reserved work item. The caller
// must hold a live reservation: a report after the lease lapsed is rejected
// with Expired, one from a non-holder with NotReserved, and in both cases
// nothing is mutated.
func (p *Processor) ReportOutcome(ctx context.Context, workID int64, workerID string, outcome work.Outcome, result string) error {
	if _, ok := validOutcomes[outcome]; !ok {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown outcome %q", outcome), nil)
	}

	w, err := p.works.Get(ctx, workID)
	if err != nil {
		return err
	}
	now := p.now()
	if w.Status == work.StatusComplete {
		return cerr.NewError(
			cerr.FailedPrecondition,
			"work item is already complete",
			fmt.Errorf("%w: work %d", ErrNotReserved, workID),
		)
	}
	if w.ReservedWorker != workerID {
		return cerr.NewError(
			cerr.FailedPrecondition,
			"work item is not reserved by this worker",
			fmt.Errorf("%w: work %d", ErrNotReserved, workID),
		)
	}
	if w.ReservedUntil == nil || !w.ReservedUntil.After(now) {
		return cerr.NewError(
			cerr.FailedPrecondition,
			"reservation expired before the outcome arrived",
			fmt.Errorf("%w: work %d", ErrExpired, workID),
		)
	}

	w.Status = work.StatusComplete
	w.Outcome = outcome
	w.Result = result
	w.ReservedWorker = ""
	w.ReservedUntil = nil
	w.UpdatedAt = now
	if err := p.works.Update(ctx, w); err != nil {
		return err
	}
	p.collector.RecordWorkCompleted(string(outcome))
	p.bus.PublishNew(eventbus.EventTypeWorkCompleted, strconv.FormatInt(w.ID, 10), map[string]string{
		"task_id":   w.TaskID,
		"worker_id": workerID,
		"outcome":   string(outcome),
	})

	t, err := p.tasks.Get(ctx, w.TaskID)
	if err != nil {
		return err
	}

	switch outcome {
	case work.OutcomeRequestedPackage:
		// Package installation is orthogonal to the content chain: the
		// successor is a blocked copy and the mapper is not consulted.
		return p.blockOnPackage(ctx, t, w, result, workerID, now)
	case work.OutcomeTaskCancelled:
		return applyTaskEvent(ctx, p.tasks, p.bus, t, task.EventCancel, now)
	case work.OutcomeSkipped:
		return p.reissue(ctx, t, w, workerID, now)
	case work.OutcomeCancelled:
		return p.reissue(ctx, t, w, "", now)
	default:
		return p.continueChain(ctx, t, w, outcome, now)
	}
}

func (p *Processor) continueChain(ctx context.Context, t *task.Task, completed *work.Work, outcome work.Outcome, now time.Time) error {
	var succ *chain.Successor
	if len(completed.Chain) > 0 {
		mapper, err := chain.Decode(completed.Chain)
		if err != nil {
			// Unknown variants are fatal for this chain; surface instead of
			// guessing what a future mapper would have done.
			return err
		}
		succ = mapper.ProduceNext(completed, outcome)
	}

	if succ == nil {
		return applyTaskEvent(ctx, p.tasks, p.bus, t, task.EventSolve, now)
	}

	next, err := p.gen.Materialize(t, completed, succ, now)
	if err != nil {
		return err
	}
	return p.createWork(ctx, next, nil)
}

func (p *Processor) reissue(ctx context.Context, t *task.Task, completed *work.Work, prohibitedWorker string, now time.Time) error {
	return p.createWork(ctx, p.gen.Reissue(completed, prohibitedWorker, now), nil)
}

func (p *Processor) blockOnPackage(ctx context.Context, t *task.Task, completed *work.Work, pkg, workerID string, now time.Time) error {
	pending := p.gen.PackagePending(completed, now)
	if err := p.createWork(ctx, pending, map[string]string{
		"status":  string(work.StatusPendingPackage),
		"package": pkg,
	}); err != nil {
		return err
	}
	return applyTaskEvent(ctx, p.tasks, p.bus, t, task.EventBlockOnPackage, now)
}

func (p *Processor) createWork(ctx context.Context, w *work.Work, extraMetadata map[string]string) error {
	return createWork(ctx, p.works, p.bus, p.collector, w, extraMetadata)
}

// ResolvePackage re-enters the processor with the package collaborator's
// synthetic outcome. Success returns the blocked item to the pool and the
// task to the active flow; failure parks the item UNAVAILABLE for operator
// attention while the task stays blocked.
func (p *Processor) ResolvePackage(ctx context.Context, workID int64, installed bool) error {
	w, err := p.works.Get(ctx, workID)
	if err != nil {
		return err
	}
	if w.Status != work.StatusPendingPackage {
		return cerr.NewError(cerr.FailedPrecondition, "work item is not pending a package", nil)
	}
	now := p.now()
	if !installed {
		w.Status = work.StatusUnavailable
		w.UpdatedAt = now
		return p.works.Update(ctx, w)
	}

	w.Status = work.StatusAvailable
	w.UpdatedAt = now
	if err := p.works.Update(ctx, w); err != nil {
		return err
	}
	t, err := p.tasks.Get(ctx, w.TaskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusPendingPackage {
		return nil
	}
	if err := applyTaskEvent(ctx, p.tasks, p.bus, t, task.EventUnblock, now); err != nil {
		return err
	}
	return applyTaskEvent(ctx, p.tasks, p.bus, t, task.EventStart, now)
}
