package bundlesync

import (
	"context"
	"testing"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// expectPush sets up a draft bundle whose push is accepted
func expectPush(repos *mockRepos, bundle *bundlesync.Bundle, rec *bundlesync.SyncRecord) {
	repos.bundles.On("FindByID", mock.Anything, bundle.ID).Return(bundle, nil)
	repos.records.On("FindByBundleID", mock.Anything, bundle.ID).Return(rec, nil).Once()
	repos.records.On("Update", mock.Anything, rec).Return(nil)
	repos.operations.On("Create", mock.Anything, mock.Anything).Return(nil)
}

func TestManualSync(t *testing.T) {
	ctx := context.Background()

	t.Run("without wait returns at once", func(t *testing.T) {
		repos := newMockRepos()
		bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
		expectPush(repos, bundle, testRecord(bundle.ID, bundlesync.SyncStatusDraft, ""))
		waiter := NewStatusWaiter()
		ms := NewManualSync(newTestOrchestrator(repos, nil), waiter, time.Second)

		res, err := ms.Sync(ctx, bundle.ID, false)
		require.NoError(t, err)
		assert.True(t, res.InProgress)
		assert.Equal(t, bundlesync.SyncStatusPendingPush, res.Record.Status)
		assert.Equal(t, 0, waiter.Pending())
	})

	t.Run("wait returns the settled record", func(t *testing.T) {
		repos := newMockRepos()
		bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
		expectPush(repos, bundle, testRecord(bundle.ID, bundlesync.SyncStatusDraft, ""))
		synced := testRecord(bundle.ID, bundlesync.SyncStatusSynced, "gid-composite")
		repos.records.On("FindByBundleID", mock.Anything, bundle.ID).Return(synced, nil)

		waiter := NewStatusWaiter()
		ms := NewManualSync(newTestOrchestrator(repos, nil), waiter, 5*time.Second)

		go func() {
			for waiter.Pending() == 0 {
				time.Sleep(time.Millisecond)
			}
			_ = waiter.Handle(ctx, statusChanged(bundle.ID, bundlesync.SyncStatusPendingPush, bundlesync.SyncStatusSynced))
		}()

		res, err := ms.Sync(ctx, bundle.ID, true)
		require.NoError(t, err)
		assert.False(t, res.InProgress)
		assert.Equal(t, bundlesync.SyncStatusSynced, res.Record.Status)
		assert.Equal(t, 0, waiter.Pending())
	})

	t.Run("bound expires while still pending", func(t *testing.T) {
		repos := newMockRepos()
		bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
		rec := testRecord(bundle.ID, bundlesync.SyncStatusDraft, "")
		expectPush(repos, bundle, rec)
		repos.records.On("FindByBundleID", mock.Anything, bundle.ID).Return(rec, nil)

		ms := NewManualSync(newTestOrchestrator(repos, nil), NewStatusWaiter(), 20*time.Millisecond)
		res, err := ms.Sync(ctx, bundle.ID, true)
		require.NoError(t, err)
		assert.True(t, res.InProgress)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		repos := newMockRepos()
		bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
		expectPush(repos, bundle, testRecord(bundle.ID, bundlesync.SyncStatusDraft, ""))

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		ms := NewManualSync(newTestOrchestrator(repos, nil), NewStatusWaiter(), time.Minute)
		_, err := ms.Sync(cctx, bundle.ID, true)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rejected push is returned", func(t *testing.T) {
		repos := newMockRepos()
		bundle := testBundle(bundlesync.ApprovalPublished, "gid-1")
		repos.bundles.On("FindByID", mock.Anything, bundle.ID).Return(bundle, nil)
		repos.records.On("FindByBundleID", mock.Anything, bundle.ID).
			Return(testRecord(bundle.ID, bundlesync.SyncStatusPendingPush, ""), nil)

		waiter := NewStatusWaiter()
		ms := NewManualSync(newTestOrchestrator(repos, nil), waiter, time.Second)
		_, err := ms.Sync(ctx, bundle.ID, true)
		assert.ErrorIs(t, err, bundlesync.ErrPushInProgress)
		assert.Equal(t, 0, waiter.Pending())
	})
}
