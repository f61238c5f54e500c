package handler

import (
	"time"

	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/interfaces/http/dto"
)

// SyncRecordResponse is the API view of a bundle's sync state
// @Description Synchronization state of one bundle
type SyncRecordResponse struct {
	BundleID          string                  `json:"bundle_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Status            string                  `json:"status" example:"synced" enums:"draft,pending_push,synced,conflict,failed"`
	Version           int                     `json:"version" example:"3"`
	External          *bundlesync.ExternalRef `json:"external,omitempty"`
	LastSyncedAt      *time.Time              `json:"last_synced_at,omitempty"`
	LastError         string                  `json:"last_error,omitempty"`
	ErrorKind         string                  `json:"error_kind,omitempty" example:"timeout"`
	LastPushedVersion int64                   `json:"last_pushed_version,omitempty"`
	LastPushedAt      *time.Time              `json:"last_pushed_at,omitempty"`
	ConflictReason    string                  `json:"conflict_reason,omitempty" example:"drift:title,price"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// ManualSyncResponse is returned by the manual sync endpoint
// @Description Result of a manual sync request
type ManualSyncResponse struct {
	SyncRecordResponse
	InProgress bool `json:"in_progress" example:"false"`
}

// ReconcileRequest chooses which side wins a conflict
// @Description Conflict resolution request
type ReconcileRequest struct {
	Direction string `json:"direction" binding:"required,oneof=push pull" example:"push" enums:"push,pull"`
}

// ListSyncRecordsQuery holds the record listing filters
type ListSyncRecordsQuery struct {
	dto.ListRequest
	Status string `form:"status" binding:"omitempty,sync_status"`
}

// WebhookAck acknowledges a webhook delivery
// @Description Webhook acknowledgement
type WebhookAck struct {
	DedupeKey string `json:"dedupe_key,omitempty" example:"evt:1234567890"`
	Topic     string `json:"topic,omitempty" example:"orders/paid"`
	Duplicate bool   `json:"duplicate" example:"false"`
	Processed bool   `json:"processed" example:"true"`
	Message   string `json:"message,omitempty"`
}

// HealthResponse is the liveness/readiness body
// @Description Health status
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty"`
}

func toSyncRecordResponse(r *bundlesync.SyncRecord) SyncRecordResponse {
	return SyncRecordResponse{
		BundleID:          r.BundleID.String(),
		Status:            string(r.Status),
		Version:           r.Version,
		External:          r.ExternalRef,
		LastSyncedAt:      r.LastSyncedAt,
		LastError:         r.LastError,
		ErrorKind:         string(r.ErrorKind),
		LastPushedVersion: r.LastPushedVersion,
		LastPushedAt:      r.LastPushedAt,
		ConflictReason:    r.ConflictReason,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toSyncRecordResponses(records []*bundlesync.SyncRecord) []SyncRecordResponse {
	out := make([]SyncRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toSyncRecordResponse(r))
	}
	return out
}

func toWebhookAck(r *syncapp.WebhookResult) WebhookAck {
	return WebhookAck{
		DedupeKey: r.DedupeKey,
		Topic:     r.Topic,
		Duplicate: r.Duplicate,
		Processed: r.Processed,
		Message:   r.Message,
	}
}
