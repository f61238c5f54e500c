package bundlesync

import (
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeSyncStatusChanged = "SyncStatusChanged"
)

// SyncStatusChangedEvent is published after a SyncRecord transition is persisted
type SyncStatusChangedEvent struct {
	shared.BaseDomainEvent
	BundleID   uuid.UUID       `json:"bundle_id"`
	From       SyncStatus      `json:"from"`
	To         SyncStatus      `json:"to"`
	Cause      TransitionCause `json:"cause"`
	ExternalID string          `json:"external_id,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// NewSyncStatusChangedEvent creates a SyncStatusChangedEvent for the record's current status
func NewSyncStatusChangedEvent(r *SyncRecord, from SyncStatus, cause TransitionCause) *SyncStatusChangedEvent {
	return &SyncStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(
			EventTypeSyncStatusChanged,
			AggregateTypeSyncRecord,
			r.ID,
		),
		BundleID:   r.BundleID,
		From:       from,
		To:         r.Status,
		Cause:      cause,
		ExternalID: r.ExternalID(),
		LastError:  r.LastError,
	}
}
