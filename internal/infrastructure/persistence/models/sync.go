package models

import (
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
)

// SyncRecordModel is the persistence model for the SyncRecord aggregate
type SyncRecordModel struct {
	AggregateModel
	BundleID          uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex"`
	ExternalID        *string               `gorm:"type:varchar(100);index"`
	ExternalHandle    string                `gorm:"type:varchar(255)"`
	ExternalAdminURL  string                `gorm:"type:text"`
	ExternalLinkedAt  *time.Time
	Status            bundlesync.SyncStatus `gorm:"type:varchar(20);not null;index"`
	LastSyncedAt      *time.Time
	LastError         string               `gorm:"type:text"`
	ErrorKind         bundlesync.ErrorKind `gorm:"type:varchar(30)"`
	LastPushedVersion int64                `gorm:"not null;default:0"`
	LastPushedAt      *time.Time
	ConflictReason    string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (SyncRecordModel) TableName() string {
	return "sync_records"
}

// SyncRecordModelFromDomain maps a domain record
func SyncRecordModelFromDomain(r *bundlesync.SyncRecord) *SyncRecordModel {
	m := &SyncRecordModel{
		BundleID:          r.BundleID,
		Status:            r.Status,
		LastSyncedAt:      r.LastSyncedAt,
		LastError:         r.LastError,
		ErrorKind:         r.ErrorKind,
		LastPushedVersion: r.LastPushedVersion,
		LastPushedAt:      r.LastPushedAt,
		ConflictReason:    r.ConflictReason,
	}
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	if ref := r.ExternalRef; ref != nil && ref.ID != "" {
		id := ref.ID
		linked := ref.LinkedAt
		m.ExternalID = &id
		m.ExternalHandle = ref.Handle
		m.ExternalAdminURL = ref.AdminURL
		m.ExternalLinkedAt = &linked
	}
	return m
}

// ToDomain converts the model to a domain record
func (m *SyncRecordModel) ToDomain() *bundlesync.SyncRecord {
	r := &bundlesync.SyncRecord{
		BundleID:          m.BundleID,
		Status:            m.Status,
		LastSyncedAt:      m.LastSyncedAt,
		LastError:         m.LastError,
		ErrorKind:         m.ErrorKind,
		LastPushedVersion: m.LastPushedVersion,
		LastPushedAt:      m.LastPushedAt,
		ConflictReason:    m.ConflictReason,
	}
	m.PopulateAggregateRoot(&r.BaseAggregateRoot)
	if m.ExternalID != nil && *m.ExternalID != "" {
		ref := &bundlesync.ExternalRef{
			ID:       *m.ExternalID,
			Handle:   m.ExternalHandle,
			AdminURL: m.ExternalAdminURL,
		}
		if m.ExternalLinkedAt != nil {
			ref.LinkedAt = *m.ExternalLinkedAt
		}
		r.ExternalRef = ref
	}
	return r
}

// PendingOperationModel is the persistence model of an in-flight publish.
// The unique bundle index enforces a single push per bundle.
type PendingOperationModel struct {
	ID                  uuid.UUID                `gorm:"type:uuid;primaryKey"`
	BundleID            uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex"`
	Kind                bundlesync.OperationKind `gorm:"type:varchar(10);not null"`
	Step                bundlesync.OperationStep `gorm:"type:varchar(10);not null"`
	PlatformOperationID string                   `gorm:"type:varchar(100)"`
	ExternalID          string                   `gorm:"type:varchar(100)"`
	Attempts            int                      `gorm:"not null;default:0"`
	NextPollAt          time.Time                `gorm:"not null;index"`
	StartedAt           time.Time                `gorm:"not null"`
	LastError           string                   `gorm:"type:text"`
	Version             int                      `gorm:"not null;default:1"`
	CreatedAt           time.Time                `gorm:"not null"`
	UpdatedAt           time.Time                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PendingOperationModel) TableName() string {
	return "pending_operations"
}

// PendingOperationModelFromDomain maps a domain operation
func PendingOperationModelFromDomain(o *bundlesync.PendingOperation) *PendingOperationModel {
	return &PendingOperationModel{
		ID:                  o.ID,
		BundleID:            o.BundleID,
		Kind:                o.Kind,
		Step:                o.Step,
		PlatformOperationID: o.PlatformOperationID,
		ExternalID:          o.ExternalID,
		Attempts:            o.Attempts,
		NextPollAt:          o.NextPollAt,
		StartedAt:           o.StartedAt,
		LastError:           o.LastError,
		Version:             o.Version,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

// ToDomain converts the model to a domain operation
func (m *PendingOperationModel) ToDomain() *bundlesync.PendingOperation {
	return &bundlesync.PendingOperation{
		ID:                  m.ID,
		BundleID:            m.BundleID,
		Kind:                m.Kind,
		Step:                m.Step,
		PlatformOperationID: m.PlatformOperationID,
		ExternalID:          m.ExternalID,
		Attempts:            m.Attempts,
		NextPollAt:          m.NextPollAt,
		StartedAt:           m.StartedAt,
		LastError:           m.LastError,
		Version:             m.Version,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// WebhookEventModel is the admission log row of a webhook delivery
type WebhookEventModel struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	DedupeKey          string           `gorm:"type:varchar(200);not null;uniqueIndex"`
	Topic              bundlesync.Topic `gorm:"type:varchar(50);not null;index"`
	ProviderEventID    string           `gorm:"type:varchar(100)"`
	ExternalResourceID string           `gorm:"type:varchar(100);index"`
	PayloadHash        string           `gorm:"type:char(64);not null"`
	ReceivedAt         time.Time        `gorm:"not null;index"`
	ProcessedAt        *time.Time
	ProcessingError    string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// WebhookEventModelFromDomain maps a domain webhook event
func WebhookEventModelFromDomain(e *bundlesync.WebhookEvent) *WebhookEventModel {
	return &WebhookEventModel{
		ID:                 e.ID,
		DedupeKey:          e.DedupeKey,
		Topic:              e.Topic,
		ProviderEventID:    e.ProviderEventID,
		ExternalResourceID: e.ExternalResourceID,
		PayloadHash:        e.PayloadHash,
		ReceivedAt:         e.ReceivedAt,
		ProcessedAt:        e.ProcessedAt,
		ProcessingError:    e.ProcessingError,
	}
}

// ToDomain converts the model to a domain webhook event
func (m *WebhookEventModel) ToDomain() *bundlesync.WebhookEvent {
	return &bundlesync.WebhookEvent{
		ID:                 m.ID,
		DedupeKey:          m.DedupeKey,
		Topic:              m.Topic,
		ProviderEventID:    m.ProviderEventID,
		ExternalResourceID: m.ExternalResourceID,
		PayloadHash:        m.PayloadHash,
		ReceivedAt:         m.ReceivedAt,
		ProcessedAt:        m.ProcessedAt,
		ProcessingError:    m.ProcessingError,
	}
}
