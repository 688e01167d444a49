package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/remote"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

func TestSyncPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads a plan missing remotely", func(t *testing.T) {
		store := newMemRemote()
		engine, rec := newTestEngine(store)
		p := newPlan("March", time.Hour)

		res := engine.SyncPlan(ctx, testUser, p)

		require.True(t, res.Success)
		assert.False(t, res.Conflict)
		assert.Same(t, p, res.Plan)
		assert.Equal(t, "March", store.plan(t, p.ID).Name)
		assert.Empty(t, rec.kinds())
	})

	t.Run("adopts a newer remote copy", func(t *testing.T) {
		store := newMemRemote()
		engine, rec := newTestEngine(store)
		p := newPlan("local", time.Hour)
		store.seed(t, withUpdate(p, "remote", 2*time.Hour))

		res := engine.SyncPlan(ctx, testUser, p)

		require.True(t, res.Success)
		assert.True(t, res.Conflict)
		assert.Equal(t, "remote", res.Plan.Name)
		assert.Equal(t, plan.Timestamp(base.Add(2*time.Hour)), res.Plan.UpdatedAt)
		assert.True(t, res.Plan.Syncable)
		assert.Zero(t, store.writeCount())

		e, ok := rec.find(EventConflictResolved)
		require.True(t, ok)
		assert.Equal(t, SideRemote, e.Winner)
	})

	t.Run("overwrites an older remote copy", func(t *testing.T) {
		store := newMemRemote()
		engine, rec := newTestEngine(store)
		p := newPlan("local", time.Hour)
		store.seed(t, withUpdate(p, "remote", 30*time.Minute))

		res := engine.SyncPlan(ctx, testUser, p)

		require.True(t, res.Success)
		assert.True(t, res.Conflict)
		assert.Same(t, p, res.Plan)
		assert.Equal(t, 1, store.writeCount())

		stored := store.plan(t, p.ID)
		assert.Equal(t, "local", stored.Name)
		assert.Equal(t, p.UpdatedAt, stored.UpdatedAt)

		e, ok := rec.find(EventConflictResolved)
		require.True(t, ok)
		assert.Equal(t, SideLocal, e.Winner)
	})

	t.Run("equal timestamps need no write", func(t *testing.T) {
		store := newMemRemote()
		engine, rec := newTestEngine(store)
		p := newPlan("local", time.Hour)
		store.seed(t, withUpdate(p, "remote", time.Hour))

		res := engine.SyncPlan(ctx, testUser, p)

		require.True(t, res.Success)
		assert.False(t, res.Conflict)
		assert.Same(t, p, res.Plan)
		assert.Zero(t, store.writeCount())
		assert.Empty(t, rec.kinds())
	})

	t.Run("fetch failure keeps the local version", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)
		p := newPlan("local", time.Hour)
		store.fetchErr[p.ID] = networkErr()

		res := engine.SyncPlan(ctx, testUser, p)

		assert.False(t, res.Success)
		assert.Same(t, p, res.Plan)
		assert.Equal(t, transport.CodeNetwork, transport.CodeOf(res.Err))
	})

	t.Run("failed overwrite reports the conflict", func(t *testing.T) {
		store := newMemRemote()
		engine, rec := newTestEngine(store)
		p := newPlan("local", time.Hour)
		store.seed(t, withUpdate(p, "remote", 30*time.Minute))
		store.writeFail[p.ID] = transport.NewError(transport.CodeServer, "boom", nil)

		res := engine.SyncPlan(ctx, testUser, p)

		assert.False(t, res.Success)
		assert.True(t, res.Conflict)
		assert.Equal(t, "remote", store.plan(t, p.ID).Name)
		_, emitted := rec.find(EventConflictResolved)
		assert.False(t, emitted)
	})

	t.Run("undecodable remote row", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)
		p := newPlan("local", time.Hour)
		store.rows[p.ID] = remote.Row{ID: "row-x", PlanID: p.ID, Data: "{not json", UpdatedAt: base}

		res := engine.SyncPlan(ctx, testUser, p)

		assert.False(t, res.Success)
		assert.Equal(t, transport.CodeUnknown, transport.CodeOf(res.Err))
	})

	t.Run("signed out", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)

		res := engine.SyncPlan(ctx, "", newPlan("local", 0))

		assert.False(t, res.Success)
		assert.Equal(t, transport.CodeAuth, transport.CodeOf(res.Err))
		assert.ErrorIs(t, res.Err, ErrNotAuthenticated)
		assert.Zero(t, store.fetches)
	})
}

func TestUploadWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		store := newMemRemote()
		store.writeErrs = []error{networkErr(), networkErr()}
		engine, rec := newTestEngine(store)
		p := newPlan("March", 0)

		res := engine.UploadWithRetry(ctx, testUser, p)

		require.True(t, res.Success)
		assert.Equal(t, 3, res.Attempts)
		assert.True(t, store.has(p.ID))
		assert.Equal(t, []EventKind{EventUploadSucceeded}, rec.kinds())
	})

	t.Run("updates an existing row instead of duplicating", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)
		p := newPlan("old", 0)
		store.seed(t, p)

		res := engine.UploadWithRetry(ctx, testUser, withUpdate(p, "new", time.Hour))

		require.True(t, res.Success)
		assert.Len(t, store.rows, 1)
		assert.Equal(t, "new", store.plan(t, p.ID).Name)
	})

	t.Run("exhausts retries", func(t *testing.T) {
		store := newMemRemote()
		store.writeErrs = []error{networkErr(), networkErr(), networkErr(), nil}
		engine, rec := newTestEngine(store)

		res := engine.UploadWithRetry(ctx, testUser, newPlan("March", 0))

		assert.False(t, res.Success)
		assert.Equal(t, 3, res.Attempts)
		assert.ErrorIs(t, res.Err, ErrRetriesExhausted)
		assert.Equal(t, transport.CodeNetwork, transport.CodeOf(res.Err))

		var retryErr *RetryError
		require.ErrorAs(t, res.Err, &retryErr)
		assert.Equal(t, 3, retryErr.Attempts)

		_, ok := rec.find(EventNetworkError)
		assert.True(t, ok)
	})

	t.Run("does not retry server errors", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)
		p := newPlan("March", 0)
		store.writeFail[p.ID] = transport.NewError(transport.CodeServer, "permission denied", nil)

		res := engine.UploadWithRetry(ctx, testUser, p)

		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, transport.CodeServer, transport.CodeOf(res.Err))
		assert.False(t, errors.Is(res.Err, ErrRetriesExhausted))
	})

	t.Run("signed out fails once", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)

		res := engine.UploadWithRetry(ctx, "", newPlan("March", 0))

		assert.Equal(t, 1, res.Attempts)
		assert.ErrorIs(t, res.Err, ErrNotAuthenticated)
	})

	t.Run("stops when canceled", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res := engine.UploadWithRetry(cctx, testUser, newPlan("March", 0))

		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		assert.ErrorIs(t, res.Err, context.Canceled)
	})

	t.Run("demo plans are never uploaded", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)

		res := engine.UploadWithRetry(ctx, testUser, plan.NewDemo(base))

		assert.ErrorIs(t, res.Err, ErrNotSyncable)
		assert.Zero(t, res.Attempts)
		assert.Zero(t, store.fetches)
	})
}

func TestDeletePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the remote copy", func(t *testing.T) {
		store := newMemRemote()
		engine, rec := newTestEngine(store)
		p := newPlan("March", 0)
		store.seed(t, p)

		require.NoError(t, engine.DeletePlan(ctx, testUser, p))
		assert.False(t, store.has(p.ID))
		assert.Equal(t, []EventKind{EventPlanDeleted}, rec.kinds())
	})

	t.Run("demo plans stay local", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)

		require.NoError(t, engine.DeletePlan(ctx, "", plan.NewDemo(base)))
		assert.Empty(t, store.deleted)
	})

	t.Run("signed out", func(t *testing.T) {
		store := newMemRemote()
		engine, _ := newTestEngine(store)

		err := engine.DeletePlan(ctx, "", newPlan("March", 0))
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})
}

func TestDownload(t *testing.T) {
	store := newMemRemote()
	engine, rec := newTestEngine(store)
	good := newPlan("good", 0)
	store.seed(t, good)
	store.rows["broken"] = remote.Row{ID: "row-b", PlanID: "broken", Data: "[", CreatedAt: base}

	plans, err := engine.Download(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{good.ID}, ids(plans))

	e, ok := rec.find(EventDownloadSucceeded)
	require.True(t, ok)
	assert.Equal(t, 1, e.Downloaded)
}

func TestEngineCount(t *testing.T) {
	store := newMemRemote()
	engine, _ := newTestEngine(store)
	store.seed(t, newPlan("a", 0), newPlan("b", 0))

	n, err := engine.Count(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = engine.Count(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
