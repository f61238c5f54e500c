package bundlesync

import (
	"context"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
)

// TransactionalRepositories exposes the repositories bound to one transaction
type TransactionalRepositories interface {
	Bundles() bundlesync.BundleRepository
	Records() bundlesync.SyncRecordRepository
	Operations() bundlesync.PendingOperationRepository
	Commerce() bundlesync.CommerceRepository
	WebhookEvents() bundlesync.WebhookEventRepository
}

// TransactionScope runs fn atomically. Returning an error rolls back every write.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// SignatureVerifier authenticates a raw webhook body
type SignatureVerifier interface {
	Verify(body []byte, signature string) error
}

// DeliveryKind distinguishes archived deliveries
type DeliveryKind string

const (
	DeliveryAdmitted DeliveryKind = "admitted"
	DeliveryRejected DeliveryKind = "rejected"
)

// Delivery is a raw webhook request kept for audit and security review
type Delivery struct {
	Kind       DeliveryKind
	Topic      string
	DedupeKey  string
	RemoteIP   string
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// DeliveryArchive stores raw deliveries. Archiving is best effort.
type DeliveryArchive interface {
	Archive(ctx context.Context, d Delivery) error
}
