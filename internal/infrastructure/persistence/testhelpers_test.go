package persistence

import (
	"testing"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB opens an in-memory SQLite database with every sync table migrated.
// A single connection keeps the in-memory schema visible to all queries.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestBundle(productIDs ...string) *bundlesync.Bundle {
	b := &bundlesync.Bundle{
		ID:             uuid.New(),
		TrainerID:      uuid.New(),
		Title:          "Summer shred",
		Description:    "Twelve weeks",
		Price:          decimal.RequireFromString("149.90"),
		Currency:       "EUR",
		ApprovalStatus: bundlesync.ApprovalPublished,
		Version:        1,
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
		Services: []bundlesync.ServiceLineItem{
			{Name: "Personal training", Sessions: 4, DurationMinutes: 60},
		},
	}
	for i, p := range productIDs {
		b.Components = append(b.Components, bundlesync.ComponentRef{ProductID: p, Quantity: 1, Position: i})
	}
	return b
}
