package bundlesync

import (
	"context"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
)

// DefaultManualWait bounds how long a manual sync waits for the publisher
const DefaultManualWait = 30 * time.Second

// SyncResult is the answer to a manual sync request
type SyncResult struct {
	Record *bundlesync.SyncRecord
	// InProgress is true when the push had not settled when the call returned
	InProgress bool
}

// ManualSync starts a push on request and optionally waits for it to settle
type ManualSync struct {
	orch    *Orchestrator
	waiter  *StatusWaiter
	maxWait time.Duration
}

// NewManualSync creates a new ManualSync
func NewManualSync(orch *Orchestrator, waiter *StatusWaiter, maxWait time.Duration) *ManualSync {
	if maxWait <= 0 {
		maxWait = DefaultManualWait
	}
	return &ManualSync{orch: orch, waiter: waiter, maxWait: maxWait}
}

// Sync pushes the bundle. With wait set it blocks until the record leaves
// pending_push or the bound expires, then re-reads the record.
func (m *ManualSync) Sync(ctx context.Context, bundleID uuid.UUID, wait bool) (*SyncResult, error) {
	var settled <-chan bundlesync.SyncStatus
	if wait {
		ch, cancel := m.waiter.Register(bundleID)
		defer cancel()
		settled = ch
	}

	rec, err := m.orch.SyncBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if !wait {
		return &SyncResult{Record: rec, InProgress: rec.Status == bundlesync.SyncStatusPendingPush}, nil
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case <-settled:
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	latest, err := m.orch.GetRecord(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	return &SyncResult{Record: latest, InProgress: latest.Status == bundlesync.SyncStatusPendingPush}, nil
}
