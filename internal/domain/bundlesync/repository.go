package bundlesync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BundleRepository reads bundles owned by the marketplace.
// The engine writes bundles only during pull-wins reconciliation.
type BundleRepository interface {
	// FindByID returns ErrBundleNotFound if the bundle does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*Bundle, error)

	// FindByIDs returns the bundles that exist among ids
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Bundle, error)

	// FindReferencingProduct returns bundles that list productID as a component
	FindReferencingProduct(ctx context.Context, productID string) ([]*Bundle, error)

	// Save persists a bundle using optimistic locking on Version.
	// The stored version must equal b.Version; on success b.Version is incremented.
	Save(ctx context.Context, b *Bundle) error

	// Create inserts a new bundle
	Create(ctx context.Context, b *Bundle) error
}

// SyncRecordFilter filters sync record listings
type SyncRecordFilter struct {
	Status   SyncStatus
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}

// SyncRecordRepository is the state store for SyncRecords
type SyncRecordRepository interface {
	// Create inserts a new record; returns ErrRecordAlreadyExists if the bundle has one
	Create(ctx context.Context, r *SyncRecord) error

	// Update writes r guarded by its version.
	// Returns ErrConcurrentSyncUpdate when the stored version moved, and
	// ErrSyncRecordNotFound when the row is gone. On success r.Version is incremented.
	Update(ctx context.Context, r *SyncRecord) error

	// FindByBundleID returns ErrSyncRecordNotFound if the bundle has no record
	FindByBundleID(ctx context.Context, bundleID uuid.UUID) (*SyncRecord, error)

	// FindByExternalID returns records linked to the platform resource
	FindByExternalID(ctx context.Context, externalID string) ([]*SyncRecord, error)

	// FindByBundleIDs returns the records of the given bundles
	FindByBundleIDs(ctx context.Context, bundleIDs []uuid.UUID) ([]*SyncRecord, error)

	// FindByStatus lists records in a status
	FindByStatus(ctx context.Context, status SyncStatus) ([]*SyncRecord, error)

	// List returns a page of records and the total count
	List(ctx context.Context, filter SyncRecordFilter) ([]*SyncRecord, int64, error)
}

// WebhookEventRepository stores webhook admissions
type WebhookEventRepository interface {
	// Insert stores the event unless its dedupe key already exists.
	// Returns true if the row was inserted, false for a duplicate.
	Insert(ctx context.Context, e *WebhookEvent) (bool, error)

	// Reclaim re-admits a redelivery whose stored row never finished: still
	// unprocessed and received before staleBefore, or processed with an error.
	// On success the row takes e's receipt time and e.ID is set to the row's id.
	Reclaim(ctx context.Context, e *WebhookEvent, staleBefore time.Time) (bool, error)

	// MarkProcessed stores the processing timestamp and error
	MarkProcessed(ctx context.Context, e *WebhookEvent) error

	// FindByDedupeKey returns shared NOT_FOUND when absent
	FindByDedupeKey(ctx context.Context, key string) (*WebhookEvent, error)

	// DeleteProcessedBefore removes processed events received before cutoff
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PendingOperationRepository stores in-flight publisher operations
type PendingOperationRepository interface {
	// Create inserts the operation; returns ErrPushInProgress if the bundle already has one
	Create(ctx context.Context, op *PendingOperation) error

	// Save writes op guarded by its version and increments it
	Save(ctx context.Context, op *PendingOperation) error

	// Claim leases op until leaseUntil by moving NextPollAt, guarded by version.
	// Returns false if another worker claimed it first.
	Claim(ctx context.Context, op *PendingOperation, leaseUntil time.Time) (bool, error)

	// FindDue returns up to limit operations with NextPollAt <= now
	FindDue(ctx context.Context, now time.Time, limit int) ([]*PendingOperation, error)

	// FindByBundleID returns ErrOperationNotFound if none is in flight
	FindByBundleID(ctx context.Context, bundleID uuid.UUID) (*PendingOperation, error)

	// Delete removes a resolved operation
	Delete(ctx context.Context, id uuid.UUID) error
}

// CommerceRepository stores the order, entitlement and delivery mirrors
type CommerceRepository interface {
	// FindOrder returns nil, nil when the order is unknown
	FindOrder(ctx context.Context, externalOrderID string) (*CommerceOrder, error)

	// FindEntitlements returns the entitlements of an order
	FindEntitlements(ctx context.Context, externalOrderID string) ([]*Entitlement, error)

	// FindDelivery returns nil, nil when the fulfillment is unknown
	FindDelivery(ctx context.Context, externalFulfillmentID string) (*DeliveryTracking, error)

	// SaveOrderWithEntitlements upserts the order and entitlements atomically
	SaveOrderWithEntitlements(ctx context.Context, order *CommerceOrder, ents []*Entitlement) error

	// SaveDelivery upserts a delivery tracking row
	SaveDelivery(ctx context.Context, d *DeliveryTracking) error
}
