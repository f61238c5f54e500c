package bundlesync

import (
	"context"
	"sync"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// StatusWaiter lets a caller block until a bundle leaves pending_push.
// It is fed by SyncStatusChanged events from the in-process bus.
type StatusWaiter struct {
	mu      sync.Mutex
	waiters map[uuid.UUID][]chan bundlesync.SyncStatus
}

// NewStatusWaiter creates a new StatusWaiter
func NewStatusWaiter() *StatusWaiter {
	return &StatusWaiter{waiters: make(map[uuid.UUID][]chan bundlesync.SyncStatus)}
}

// EventTypes implements shared.EventHandler
func (w *StatusWaiter) EventTypes() []string {
	return []string{bundlesync.EventTypeSyncStatusChanged}
}

// Handle wakes every waiter of the bundle once the push has settled
func (w *StatusWaiter) Handle(_ context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*bundlesync.SyncStatusChangedEvent)
	if !ok || changed.To == bundlesync.SyncStatusPendingPush {
		return nil
	}
	w.mu.Lock()
	chans := w.waiters[changed.BundleID]
	delete(w.waiters, changed.BundleID)
	w.mu.Unlock()

	for _, ch := range chans {
		ch <- changed.To
	}
	return nil
}

// Register starts watching a bundle. Call it before triggering the push so no
// status change is missed; the returned cancel must always be called.
func (w *StatusWaiter) Register(bundleID uuid.UUID) (<-chan bundlesync.SyncStatus, func()) {
	ch := make(chan bundlesync.SyncStatus, 1)
	w.mu.Lock()
	w.waiters[bundleID] = append(w.waiters[bundleID], ch)
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		list := w.waiters[bundleID]
		for i, c := range list {
			if c == ch {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(w.waiters, bundleID)
		} else {
			w.waiters[bundleID] = list
		}
	}
	return ch, cancel
}

// Pending returns the number of bundles being waited on
func (w *StatusWaiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}

var _ shared.EventHandler = (*StatusWaiter)(nil)
