package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormPendingOperationRepository_SingleFlight(t *testing.T) {
	repo := NewGormPendingOperationRepository(setupTestDB(t))
	ctx := context.Background()

	bundleID := uuid.New()
	require.NoError(t, repo.Create(ctx, bundlesync.NewPendingOperation(bundleID, "", baseTime)))

	err := repo.Create(ctx, bundlesync.NewPendingOperation(bundleID, "", baseTime))
	assert.ErrorIs(t, err, bundlesync.ErrPushInProgress)
}

func TestGormPendingOperationRepository_ClaimAndSave(t *testing.T) {
	repo := NewGormPendingOperationRepository(setupTestDB(t))
	ctx := context.Background()

	op := bundlesync.NewPendingOperation(uuid.New(), "", baseTime)
	require.NoError(t, repo.Create(ctx, op))

	due, err := repo.FindDue(ctx, baseTime.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	winner, loser := due[0], *due[0]
	ok, err := repo.Claim(ctx, winner, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, &loser, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "second claim on the same version must lose")

	due, err = repo.FindDue(ctx, baseTime.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "leased operation is not due")

	policy := bundlesync.DefaultBackoffPolicy()
	require.NoError(t, winner.Submitted(&bundlesync.OperationHandle{OperationID: "op-1"}, policy, baseTime))
	require.NoError(t, repo.Save(ctx, winner))

	stored, err := repo.FindByBundleID(ctx, op.BundleID)
	require.NoError(t, err)
	assert.Equal(t, bundlesync.StepPoll, stored.Step)
	assert.Equal(t, "op-1", stored.PlatformOperationID)
	assert.Equal(t, winner.Version, stored.Version)

	assert.ErrorIs(t, repo.Save(ctx, &loser), bundlesync.ErrConcurrentSyncUpdate)

	require.NoError(t, repo.Delete(ctx, op.ID))
	_, err = repo.FindByBundleID(ctx, op.BundleID)
	assert.ErrorIs(t, err, bundlesync.ErrOperationNotFound)
	assert.ErrorIs(t, repo.Save(ctx, winner), bundlesync.ErrOperationNotFound)
}
