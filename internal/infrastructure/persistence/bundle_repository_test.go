package persistence

import (
	"context"
	"testing"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormBundleRepository_CreateAndFind(t *testing.T) {
	repo := NewGormBundleRepository(setupTestDB(t))
	ctx := context.Background()

	b := newTestBundle("prod-shaker", "prod-whey")
	require.NoError(t, repo.Create(ctx, b))

	found, err := repo.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summer shred", found.Title)
	assert.True(t, found.Price.Equal(decimal.RequireFromString("149.90")))
	require.Len(t, found.Components, 2)
	assert.Equal(t, "prod-shaker", found.Components[0].ProductID)
	require.Len(t, found.Services, 1)
	assert.Equal(t, 4, found.Services[0].Sessions)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, bundlesync.ErrBundleNotFound)
}

func TestGormBundleRepository_FindReferencingProduct(t *testing.T) {
	repo := NewGormBundleRepository(setupTestDB(t))
	ctx := context.Background()

	a := newTestBundle("prod-shaker", "prod-whey")
	b := newTestBundle("prod-whey")
	c := newTestBundle("prod-mat")
	for _, x := range []*bundlesync.Bundle{a, b, c} {
		require.NoError(t, repo.Create(ctx, x))
	}

	got, err := repo.FindReferencingProduct(ctx, "prod-whey")
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, g := range got {
		ids = append(ids, g.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)

	byIDs, err := repo.FindByIDs(ctx, []uuid.UUID{a.ID, c.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)
}

func TestGormBundleRepository_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces components and bumps version", func(t *testing.T) {
		repo := NewGormBundleRepository(setupTestDB(t))
		b := newTestBundle("prod-shaker", "prod-whey")
		require.NoError(t, repo.Create(ctx, b))

		b.Title = "Winter bulk"
		b.Components = []bundlesync.ComponentRef{{ProductID: "prod-oats", Quantity: 2}}
		require.NoError(t, repo.Save(ctx, b))
		assert.Equal(t, 2, b.Version)

		found, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Winter bulk", found.Title)
		assert.Equal(t, 2, found.Version)
		require.Len(t, found.Components, 1)
		assert.Equal(t, "prod-oats", found.Components[0].ProductID)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		repo := NewGormBundleRepository(setupTestDB(t))
		b := newTestBundle("prod-shaker")
		require.NoError(t, repo.Create(ctx, b))

		stale := *b
		require.NoError(t, repo.Save(ctx, b))

		err := repo.Save(ctx, &stale)
		assert.ErrorIs(t, err, bundlesync.ErrConcurrentSyncUpdate)
	})

	t.Run("missing bundle", func(t *testing.T) {
		repo := NewGormBundleRepository(setupTestDB(t))
		err := repo.Save(ctx, newTestBundle("prod-shaker"))
		assert.ErrorIs(t, err, bundlesync.ErrBundleNotFound)
	})
}
