package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newSyncedRecord(t *testing.T) *bundlesync.SyncRecord {
	t.Helper()
	rec, err := bundlesync.NewSyncRecord(uuid.New())
	require.NoError(t, err)
	rec.CreatedAt, rec.UpdatedAt = baseTime, baseTime
	require.NoError(t, rec.BeginPush(bundlesync.CauseApproval, baseTime))
	require.NoError(t, rec.LinkExternal(bundlesync.ExternalRef{ID: "gid://bundle/1", Handle: "summer-shred"}, baseTime))
	require.NoError(t, rec.CompletePush(bundlesync.PushMarker{Version: 3, UpdatedAt: baseTime}, baseTime))
	return rec
}

func TestGormSyncRecordRepository_CreateAndFind(t *testing.T) {
	repo := NewGormSyncRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := newSyncedRecord(t)
	require.NoError(t, repo.Create(ctx, rec))

	dup, _ := bundlesync.NewSyncRecord(rec.BundleID)
	assert.ErrorIs(t, repo.Create(ctx, dup), bundlesync.ErrRecordAlreadyExists)

	found, err := repo.FindByBundleID(ctx, rec.BundleID)
	require.NoError(t, err)
	assert.Equal(t, bundlesync.SyncStatusSynced, found.Status)
	assert.Equal(t, "gid://bundle/1", found.ExternalID())
	assert.Equal(t, "summer-shred", found.ExternalRef.Handle)
	assert.Equal(t, int64(3), found.LastPushedVersion)
	require.NotNil(t, found.LastPushedAt)
	assert.True(t, found.LastPushedAt.Equal(baseTime))

	byExt, err := repo.FindByExternalID(ctx, "gid://bundle/1")
	require.NoError(t, err)
	assert.Len(t, byExt, 1)

	_, err = repo.FindByBundleID(ctx, uuid.New())
	assert.ErrorIs(t, err, bundlesync.ErrSyncRecordNotFound)
}

func TestGormSyncRecordRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("guards on version", func(t *testing.T) {
		repo := NewGormSyncRecordRepository(setupTestDB(t))
		rec := newSyncedRecord(t)
		require.NoError(t, repo.Create(ctx, rec))

		first, err := repo.FindByBundleID(ctx, rec.BundleID)
		require.NoError(t, err)
		second, err := repo.FindByBundleID(ctx, rec.BundleID)
		require.NoError(t, err)

		require.NoError(t, first.FlagConflict(bundlesync.CauseExternalEdit, "external_edit:gid://bundle/1", baseTime))
		require.NoError(t, repo.Update(ctx, first))
		assert.Equal(t, rec.Version+1, first.Version)

		require.NoError(t, second.BeginPush(bundlesync.CauseRepublish, baseTime))
		assert.ErrorIs(t, repo.Update(ctx, second), bundlesync.ErrConcurrentSyncUpdate)

		stored, err := repo.FindByBundleID(ctx, rec.BundleID)
		require.NoError(t, err)
		assert.Equal(t, bundlesync.SyncStatusConflict, stored.Status)
		assert.Equal(t, "external_edit:gid://bundle/1", stored.ConflictReason)
	})

	t.Run("missing row", func(t *testing.T) {
		repo := NewGormSyncRecordRepository(setupTestDB(t))
		rec, _ := bundlesync.NewSyncRecord(uuid.New())
		assert.ErrorIs(t, repo.Update(ctx, rec), bundlesync.ErrSyncRecordNotFound)
	})
}

func TestGormSyncRecordRepository_ListAndStatus(t *testing.T) {
	repo := NewGormSyncRecordRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newSyncedRecord(t)))
	}
	draft, _ := bundlesync.NewSyncRecord(uuid.New())
	require.NoError(t, repo.Create(ctx, draft))

	synced, err := repo.FindByStatus(ctx, bundlesync.SyncStatusSynced)
	require.NoError(t, err)
	assert.Len(t, synced, 3)

	page, total, err := repo.List(ctx, bundlesync.SyncRecordFilter{Status: bundlesync.SyncStatusSynced, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 1)

	all, total, err := repo.List(ctx, bundlesync.SyncRecordFilter{OrderBy: "status; DROP TABLE x", OrderDir: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 4)
}

func TestGormSyncRecordRepository_UpdateSQL(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	repo := NewGormSyncRecordRepository(gormDB)

	rec := newSyncedRecord(t)
	mock.ExpectExec(`UPDATE "sync_records" SET .* WHERE bundle_id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}
