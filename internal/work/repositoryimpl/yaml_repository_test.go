package repositoryimpl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/storage"
)

func newTestRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(store)
}

func newItem(taskID string) *work.Work {
	now := time.Now()
	return &work.Work{
		TaskID:    taskID,
		Type:      work.TypeCreateFunction,
		Status:    work.StatusAvailable,
		Priority:  10,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := newItem("task-1")
	require.NoError(t, repo.Create(ctx, first))
	second := newItem("task-1")
	require.NoError(t, repo.Create(ctx, second))

	assert.Equal(t, first.ID+1, second.ID)

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, got.TaskID)
}

func TestSequenceSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	repo := NewYAMLRepository(store)
	first := newItem("task-1")
	require.NoError(t, repo.Create(ctx, first))

	// A new repository instance over the same files must not reuse IDs.
	reopened := NewYAMLRepository(store)
	second := newItem("task-1")
	require.NoError(t, reopened.Create(ctx, second))
	assert.Greater(t, second.ID, first.ID)
}

func TestReserveGrantsLease(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := newItem("task-1")
	require.NoError(t, repo.Create(ctx, item))

	until := now.Add(time.Hour)
	reserved, err := repo.Reserve(ctx, item.ID, "worker-a", until, now)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", reserved.ReservedWorker)
	require.NotNil(t, reserved.ReservedUntil)
	assert.True(t, reserved.ReservedUntil.Equal(until))
	assert.Equal(t, work.StatusAvailable, reserved.Status)
}

func TestReserveRejectsHeldItem(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := newItem("task-1")
	require.NoError(t, repo.Create(ctx, item))
	_, err := repo.Reserve(ctx, item.ID, "worker-a", now.Add(time.Hour), now)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, item.ID, "worker-b", now.Add(time.Hour), now)
	require.ErrorIs(t, err, work.ErrReservationHeld)
}

func TestReserveRejectsProhibitedWorker(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := newItem("task-1")
	item.ProhibitedWorker = "worker-a"
	require.NoError(t, repo.Create(ctx, item))

	_, err := repo.Reserve(ctx, item.ID, "worker-a", now.Add(time.Hour), now)
	require.ErrorIs(t, err, work.ErrReservationHeld)

	_, err = repo.Reserve(ctx, item.ID, "worker-b", now.Add(time.Hour), now)
	require.NoError(t, err)
}

func TestReserveAfterExpiry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := newItem("task-1")
	require.NoError(t, repo.Create(ctx, item))
	_, err := repo.Reserve(ctx, item.ID, "worker-a", now.Add(time.Hour), now)
	require.NoError(t, err)

	// A lapsed reservation no longer blocks a new claimant.
	later := now.Add(2 * time.Hour)
	reserved, err := repo.Reserve(ctx, item.ID, "worker-b", later.Add(time.Hour), later)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", reserved.ReservedWorker)
}

func TestClearReservationConditional(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := newItem("task-1")
	require.NoError(t, repo.Create(ctx, item))
	until := now.Add(time.Hour)
	_, err := repo.Reserve(ctx, item.ID, "worker-a", until, now)
	require.NoError(t, err)

	// Clearing against a stale observation fails.
	_, err = repo.ClearReservation(ctx, item.ID, "worker-b", until)
	require.ErrorIs(t, err, work.ErrReservationChanged)
	_, err = repo.ClearReservation(ctx, item.ID, "worker-a", until.Add(time.Minute))
	require.ErrorIs(t, err, work.ErrReservationChanged)

	cleared, err := repo.ClearReservation(ctx, item.ID, "worker-a", until)
	require.NoError(t, err)
	assert.Empty(t, cleared.ReservedWorker)
	assert.Nil(t, cleared.ReservedUntil)

	// The reservation is gone; a second clear against the old observation
	// must fail too.
	_, err = repo.ClearReservation(ctx, item.ID, "worker-a", until)
	require.ErrorIs(t, err, work.ErrReservationChanged)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := newItem("task-1")
	require.NoError(t, repo.Create(ctx, item))

	const claimants = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			if _, err := repo.Reserve(ctx, item.ID, worker, now.Add(time.Hour), now); err == nil {
				mu.Lock()
				wins = append(wins, worker)
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	require.Len(t, wins, 1, "exactly one claimant may win")

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], got.ReservedWorker)
}

func TestListExpired(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	live := newItem("task-1")
	require.NoError(t, repo.Create(ctx, live))
	_, err := repo.Reserve(ctx, live.ID, "worker-a", now.Add(time.Hour), now)
	require.NoError(t, err)

	lapsed := newItem("task-2")
	require.NoError(t, repo.Create(ctx, lapsed))
	_, err = repo.Reserve(ctx, lapsed.ID, "worker-b", now.Add(time.Minute), now)
	require.NoError(t, err)

	expired, err := repo.ListExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, lapsed.ID, expired[0].ID)
}

func TestListAvailableFiltersStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	offered := newItem("task-1")
	require.NoError(t, repo.Create(ctx, offered))

	retired := newItem("task-1")
	retired.Status = work.StatusUnavailable
	require.NoError(t, repo.Create(ctx, retired))

	done := newItem("task-1")
	done.Status = work.StatusComplete
	require.NoError(t, repo.Create(ctx, done))

	available, err := repo.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, offered.ID, available[0].ID)
}
