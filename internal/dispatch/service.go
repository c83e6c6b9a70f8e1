package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/metrics"
	"github.com/microtask/dispatch/internal/task"
	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
)

// Service owns the task lifecycle: creation, activation, delegator review
// actions and administrative controls. Worker-facing claiming and outcome
// reporting live on Scheduler and Processor.
type Service struct {
	tasks     task.Repository
	works     work.Repository
	gen       *Generator
	bus       *eventbus.Bus
	collector *metrics.Collector
	env       *config.DispatchEnv

	now func() time.Time
}

func NewService(tasks task.Repository, works work.Repository, gen *Generator, bus *eventbus.Bus, collector *metrics.Collector, env *config.DispatchEnv) *Service {
	return &Service{
		tasks:     tasks,
		works:     works,
		gen:       gen,
		bus:       bus,
		collector: collector,
		env:       env,
		now:       time.Now,
	}
}

type CreateTaskParams struct {
	DelegatorID     string
	Type            task.Type
	Priority        int
	Description     string
	Code            string
	ClassParams     string
	AvailableNames  []string
	AdvancedOptions task.AdvancedOptions
}

// CreateTask registers a NEW task. Nothing is offered to workers until the
// task is activated.
func (s *Service) CreateTask(ctx context.Context, params CreateTaskParams) (*task.Task, error) {
	if params.DelegatorID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "delegator id is required", nil)
	}
	if !params.Type.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown task type %q", params.Type), nil)
	}
	if params.Description == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "description is required", nil)
	}

	now := s.now()
	t := &task.Task{
		ID:              ulid.Make().String(),
		DelegatorID:     params.DelegatorID,
		Type:            params.Type,
		Status:          task.StatusNew,
		Priority:        params.Priority,
		Description:     params.Description,
		Code:            params.Code,
		ClassParams:     params.ClassParams,
		AvailableNames:  params.AvailableNames,
		AdvancedOptions: params.AdvancedOptions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	s.bus.PublishNew(eventbus.EventTypeTaskCreated, t.ID, map[string]string{
		"delegator_id": t.DelegatorID,
		"task_type":    string(t.Type),
	})
	return t, nil
}

// needsClassParams reports whether a task type cannot be worked without the
// owning class's parameters.
func needsClassParams(t *task.Task) bool {
	switch t.Type {
	case task.TypeCreateFunction, task.TypeUpdateFunction:
		return t.ClassParams == ""
	default:
		return false
	}
}

// ActivateTask submits a NEW task and immediately starts it, generating its
// first work item. A function task without class params parks in
// PENDING_CLASS_PARAMS instead and waits for SupplyClassParams.
func (s *Service) ActivateTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventSubmit, now); err != nil {
		return nil, err
	}
	if needsClassParams(t) {
		if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventBlockOnClassParams, now); err != nil {
			return nil, err
		}
		return t, nil
	}
	if err := s.start(ctx, t, now); err != nil {
		return nil, err
	}
	return t, nil
}

// StartTask moves a PENDING task to IN_PROCESS and ensures a work item is on
// offer, re-offering a retired one when possible.
func (s *Service) StartTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.start(ctx, t, s.now()); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) start(ctx context.Context, t *task.Task, now time.Time) error {
	fresh := t.Status == task.StatusModificationsRequested
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventStart, now); err != nil {
		return err
	}
	// A modification round restarts the chain; otherwise a previously retired
	// item is preferred so pause/resume does not lose worker context.
	if !fresh {
		reoffered, err := s.reoffer(ctx, t.ID, now)
		if err != nil {
			return err
		}
		if reoffered {
			return nil
		}
	}
	w, err := s.gen.Initial(t, now)
	if err != nil {
		return err
	}
	return createWork(ctx, s.works, s.bus, s.collector, w, nil)
}

// reoffer returns the most recently retired item for the task to the pool.
func (s *Service) reoffer(ctx context.Context, taskID string, now time.Time) (bool, error) {
	items, err := s.works.ListByTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	var latest *work.Work
	for _, w := range items {
		if w.Status != work.StatusUnavailable {
			continue
		}
		if latest == nil || w.ID > latest.ID {
			latest = w
		}
	}
	if latest == nil {
		return false, nil
	}
	latest.Status = work.StatusAvailable
	latest.UpdatedAt = now
	if err := s.works.Update(ctx, latest); err != nil {
		return false, err
	}
	return true, nil
}

// retireOpenWork takes every offerable item for the task out of the pool and
// drops any reservation on it, so a late outcome report fails NotReserved.
func (s *Service) retireOpenWork(ctx context.Context, taskID string, now time.Time) error {
	items, err := s.works.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, w := range items {
		if w.Status != work.StatusAvailable && w.Status != work.StatusPendingPackage {
			continue
		}
		w.Status = work.StatusUnavailable
		w.ReservedWorker = ""
		w.ReservedUntil = nil
		w.UpdatedAt = now
		if err := s.works.Update(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// PauseTask suspends a PENDING or IN_PROCESS task and retires its open work.
func (s *Service) PauseTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventPause, now); err != nil {
		return nil, err
	}
	if err := s.retireOpenWork(ctx, t.ID, now); err != nil {
		return nil, err
	}
	return t, nil
}

// ResumeTask returns a PAUSED task to PENDING. Work is re-offered when the
// task is started again.
func (s *Service) ResumeTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventResume, s.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// AcceptTask closes a SOLVED task as ACCEPTED.
func (s *Service) AcceptTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventAccept, s.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// RequestModifications sends a SOLVED task back to work. The rework gets a
// fresh chain with the full round budget.
func (s *Service) RequestModifications(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventRequestModifications, now); err != nil {
		return nil, err
	}
	if err := s.start(ctx, t, now); err != nil {
		return nil, err
	}
	return t, nil
}

// CancelTask drives any non-terminal task to CANCELLED and retires its open
// work synchronously, so in-flight workers get NotReserved on report.
func (s *Service) CancelTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventCancel, now); err != nil {
		return nil, err
	}
	if err := s.retireOpenWork(ctx, t.ID, now); err != nil {
		return nil, err
	}
	return t, nil
}

// InvalidateTask rejects a NEW or PENDING task as unworkable, recording why.
func (s *Service) InvalidateTask(ctx context.Context, taskID, code, description string) (*task.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	t.InvalidCode = code
	t.InvalidDescription = description
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventInvalidate, now); err != nil {
		return nil, err
	}
	if err := s.retireOpenWork(ctx, t.ID, now); err != nil {
		return nil, err
	}
	return t, nil
}

// SupplyInvalidDescription reopens an INVALID task with a corrected
// description. This event is the only path out of INVALID.
func (s *Service) SupplyInvalidDescription(ctx context.Context, taskID, description string) (*task.Task, error) {
	if description == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "description is required", nil)
	}
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	t.Description = description
	t.InvalidCode = ""
	t.InvalidDescription = ""
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventSupplyInvalidDescription, s.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// SupplyClassParams unblocks a task waiting on class parameters and starts it.
func (s *Service) SupplyClassParams(ctx context.Context, taskID, classParams string) (*task.Task, error) {
	if classParams == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "class params are required", nil)
	}
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusPendingClassParams {
		return nil, cerr.NewError(
			cerr.FailedPrecondition,
			"task is not waiting for class params",
			fmt.Errorf("%w: %s from %s", task.ErrInvalidTransition, task.EventUnblock, t.Status),
		)
	}
	now := s.now()
	t.ClassParams = classParams
	if err := applyTaskEvent(ctx, s.tasks, s.bus, t, task.EventUnblock, now); err != nil {
		return nil, err
	}
	if err := s.start(ctx, t, now); err != nil {
		return nil, err
	}
	return t, nil
}

// OverrideWorkPriority changes an open item's scheduling priority without
// touching its task.
func (s *Service) OverrideWorkPriority(ctx context.Context, workID int64, priority int) (*work.Work, error) {
	w, err := s.works.Get(ctx, workID)
	if err != nil {
		return nil, err
	}
	if w.Status == work.StatusComplete {
		return nil, cerr.NewError(cerr.FailedPrecondition, "work item is already complete", nil)
	}
	w.Priority = priority
	w.UpdatedAt = s.now()
	if err := s.works.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return s.tasks.Get(ctx, taskID)
}

func (s *Service) ListTasks(ctx context.Context, delegatorID string, status task.Status, limit, offset int) ([]*task.Task, int, error) {
	return s.tasks.List(ctx, delegatorID, status, limit, offset)
}

func (s *Service) ListWork(ctx context.Context, taskID string) ([]*work.Work, error) {
	return s.works.ListByTask(ctx, taskID)
}

func (s *Service) GetWork(ctx context.Context, workID int64) (*work.Work, error) {
	return s.works.Get(ctx, workID)
}
