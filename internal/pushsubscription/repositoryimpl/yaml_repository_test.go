package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtask/dispatch/internal/pushsubscription"
	"github.com/microtask/dispatch/pkg/cerr"
	"github.com/microtask/dispatch/pkg/storage"
)

func newTestRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(store)
}

func newSub(id, delegatorID, endpoint string) *pushsubscription.Subscription {
	return &pushsubscription.Subscription{
		ID:          id,
		DelegatorID: delegatorID,
		Endpoint:    endpoint,
		P256dhKey:   "p256dh",
		AuthKey:     "auth",
		CreatedAt:   time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sub := newSub("sub-1", "delegator-1", "https://push.example.com/1")
	require.NoError(t, repo.Create(ctx, sub))

	got, err := repo.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, sub.Endpoint, got.Endpoint)

	err = repo.Create(ctx, sub)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))
}

func TestListByDelegator(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSub("sub-1", "delegator-1", "https://push.example.com/1")))
	require.NoError(t, repo.Create(ctx, newSub("sub-2", "delegator-1", "https://push.example.com/2")))
	require.NoError(t, repo.Create(ctx, newSub("sub-3", "delegator-2", "https://push.example.com/3")))

	subs, err := repo.ListByDelegator(ctx, "delegator-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	all, err := repo.ListByDelegator(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteByEndpoint(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSub("sub-1", "delegator-1", "https://push.example.com/1")))
	require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push.example.com/1"))

	_, err := repo.Get(ctx, "sub-1")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	err = repo.DeleteByEndpoint(ctx, "https://push.example.com/1")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}
