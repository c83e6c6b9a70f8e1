package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
	"github.com/microtask/dispatch/pkg/storage"
)

const workPrefix = "work"

// YAMLRepository persists one work item per YAML file. A single mutex
// serializes every mutation, which makes Reserve and ClearReservation the
// atomic conditional updates the Repository contract requires; a relational
// implementation would use a conditional UPDATE instead.
type YAMLRepository struct {
	storage storage.Storage

	mu     sync.Mutex
	nextID int64 // 0 until initialized from existing files
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id int64) string {
	return fmt.Sprintf("%s/%012d.yaml", workPrefix, id)
}

// initSeqLocked determines the next surrogate ID from persisted files.
// Caller holds r.mu.
func (r *YAMLRepository) initSeqLocked(ctx context.Context) error {
	if r.nextID > 0 {
		return nil
	}
	items, err := r.listLocked(ctx)
	if err != nil {
		return err
	}
	var max int64
	for _, w := range items {
		if w.ID > max {
			max = w.ID
		}
	}
	r.nextID = max + 1
	return nil
}

func (r *YAMLRepository) listLocked(ctx context.Context) ([]*work.Work, error) {
	paths, err := r.storage.List(ctx, workPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("work items", err)
	}
	sort.Strings(paths)

	var all []*work.Work
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var w work.Work
		if err := yaml.Unmarshal(data, &w); err != nil {
			continue
		}
		all = append(all, &w)
	}
	return all, nil
}

func (r *YAMLRepository) getLocked(ctx context.Context, id int64) (*work.Work, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("work item", err)
	}
	var w work.Work
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal work item: %w", err))
	}
	return &w, nil
}

func (r *YAMLRepository) writeLocked(ctx context.Context, w *work.Work) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal work item: %w", err))
	}
	if err := r.storage.Write(ctx, path(w.ID), data); err != nil {
		return cerr.WrapStorageWriteError("work item", err)
	}
	return nil
}

func (r *YAMLRepository) Create(ctx context.Context, w *work.Work) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.initSeqLocked(ctx); err != nil {
		return err
	}
	w.ID = r.nextID
	if err := r.writeLocked(ctx, w); err != nil {
		return err
	}
	r.nextID++
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id int64) (*work.Work, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx, id)
}

func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string) ([]*work.Work, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.listLocked(ctx)
	if err != nil {
		return nil, err
	}
	var items []*work.Work
	for _, w := range all {
		if w.TaskID == taskID {
			items = append(items, w)
		}
	}
	return items, nil
}

func (r *YAMLRepository) ListAvailable(ctx context.Context) ([]*work.Work, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.listLocked(ctx)
	if err != nil {
		return nil, err
	}
	var items []*work.Work
	for _, w := range all {
		if w.Status == work.StatusAvailable {
			items = append(items, w)
		}
	}
	return items, nil
}

func (r *YAMLRepository) ListExpired(ctx context.Context, now time.Time) ([]*work.Work, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.listLocked(ctx)
	if err != nil {
		return nil, err
	}
	var items []*work.Work
	for _, w := range all {
		if w.ReservedWorker != "" && w.ReservedUntil != nil && !w.ReservedUntil.After(now) {
			items = append(items, w)
		}
	}
	return items, nil
}

func (r *YAMLRepository) Update(ctx context.Context, w *work.Work) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(w.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("work item", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "work item not found", nil)
	}
	return r.writeLocked(ctx, w)
}

func (r *YAMLRepository) Reserve(ctx context.Context, id int64, workerID string, until time.Time, now time.Time) (*work.Work, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.Claimable(workerID, now) {
		return nil, cerr.NewError(
			cerr.Aborted,
			"work item is not claimable",
			fmt.Errorf("%w: work %d", work.ErrReservationHeld, id),
		)
	}
	w.ReservedWorker = workerID
	w.ReservedUntil = &until
	w.UpdatedAt = now
	if err := r.writeLocked(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *YAMLRepository) ClearReservation(ctx context.Context, id int64, observedWorker string, observedUntil time.Time) (*work.Work, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.ReservedWorker != observedWorker || w.ReservedUntil == nil || !w.ReservedUntil.Equal(observedUntil) {
		return nil, cerr.NewError(
			cerr.Aborted,
			"reservation no longer matches",
			fmt.Errorf("%w: work %d", work.ErrReservationChanged, id),
		)
	}
	w.ReservedWorker = ""
	w.ReservedUntil = nil
	w.UpdatedAt = time.Now()
	if err := r.writeLocked(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}
