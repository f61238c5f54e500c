package bundlesync

import (
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func testBundle(status bundlesync.ApprovalStatus, products ...string) *bundlesync.Bundle {
	b := &bundlesync.Bundle{
		ID:             uuid.New(),
		TrainerID:      uuid.New(),
		Title:          "Strength starter",
		Description:    "Eight weeks of guided lifting",
		Price:          decimal.RequireFromString("89.00"),
		Currency:       "EUR",
		ApprovalStatus: status,
		Version:        1,
		Services: []bundlesync.ServiceLineItem{
			{Name: "Personal training", Sessions: 4, DurationMinutes: 60},
		},
	}
	for i, p := range products {
		b.Components = append(b.Components, bundlesync.ComponentRef{ProductID: p, Quantity: 1, Position: i})
	}
	return b
}

// testRecord builds a persisted-looking record in the given status
func testRecord(bundleID uuid.UUID, status bundlesync.SyncStatus, externalID string) *bundlesync.SyncRecord {
	rec, err := bundlesync.NewSyncRecord(bundleID)
	if err != nil {
		panic(err)
	}
	rec.Status = status
	rec.Version = 3
	if externalID != "" {
		rec.ExternalRef = &bundlesync.ExternalRef{ID: externalID, LinkedAt: fixedNow.Add(-time.Hour)}
	}
	if status == bundlesync.SyncStatusSynced {
		pushed := fixedNow.Add(-time.Hour)
		rec.LastPushedAt = &pushed
		rec.LastPushedVersion = 7
	}
	return rec
}

func newTestOrchestrator(repos *mockRepos, platform bundlesync.CommercePlatform) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Scope:    repos,
		Bundles:  repos.bundles,
		Records:  repos.records,
		Platform: platform,
		Now:      clock,
	})
}
