package bundlesync

import (
	"context"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/fitmarket/backend/internal/infrastructure/scheduler"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockBundleRepository is a mock implementation of bundlesync.BundleRepository
type MockBundleRepository struct {
	mock.Mock
}

func (m *MockBundleRepository) FindByID(ctx context.Context, id uuid.UUID) (*bundlesync.Bundle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.Bundle), args.Error(1)
}

func (m *MockBundleRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*bundlesync.Bundle, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.Bundle), args.Error(1)
}

func (m *MockBundleRepository) FindReferencingProduct(ctx context.Context, productID string) ([]*bundlesync.Bundle, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.Bundle), args.Error(1)
}

func (m *MockBundleRepository) Save(ctx context.Context, b *bundlesync.Bundle) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockBundleRepository) Create(ctx context.Context, b *bundlesync.Bundle) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

// MockSyncRecordRepository is a mock implementation of bundlesync.SyncRecordRepository
type MockSyncRecordRepository struct {
	mock.Mock
}

func (m *MockSyncRecordRepository) Create(ctx context.Context, r *bundlesync.SyncRecord) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockSyncRecordRepository) Update(ctx context.Context, r *bundlesync.SyncRecord) error {
	args := m.Called(ctx, r)
	if args.Error(0) == nil {
		r.IncrementVersion()
	}
	return args.Error(0)
}

func (m *MockSyncRecordRepository) FindByBundleID(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	args := m.Called(ctx, bundleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) FindByExternalID(ctx context.Context, externalID string) ([]*bundlesync.SyncRecord, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) FindByBundleIDs(ctx context.Context, bundleIDs []uuid.UUID) ([]*bundlesync.SyncRecord, error) {
	args := m.Called(ctx, bundleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) FindByStatus(ctx context.Context, status bundlesync.SyncStatus) ([]*bundlesync.SyncRecord, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) List(ctx context.Context, filter bundlesync.SyncRecordFilter) ([]*bundlesync.SyncRecord, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*bundlesync.SyncRecord), args.Get(1).(int64), args.Error(2)
}

// MockPendingOperationRepository is a mock implementation of bundlesync.PendingOperationRepository
type MockPendingOperationRepository struct {
	mock.Mock
}

func (m *MockPendingOperationRepository) Create(ctx context.Context, op *bundlesync.PendingOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockPendingOperationRepository) Save(ctx context.Context, op *bundlesync.PendingOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockPendingOperationRepository) Claim(ctx context.Context, op *bundlesync.PendingOperation, leaseUntil time.Time) (bool, error) {
	args := m.Called(ctx, op, leaseUntil)
	return args.Bool(0), args.Error(1)
}

func (m *MockPendingOperationRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*bundlesync.PendingOperation, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.PendingOperation), args.Error(1)
}

func (m *MockPendingOperationRepository) FindByBundleID(ctx context.Context, bundleID uuid.UUID) (*bundlesync.PendingOperation, error) {
	args := m.Called(ctx, bundleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.PendingOperation), args.Error(1)
}

func (m *MockPendingOperationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockCommerceRepository is a mock implementation of bundlesync.CommerceRepository
type MockCommerceRepository struct {
	mock.Mock
}

func (m *MockCommerceRepository) FindOrder(ctx context.Context, externalOrderID string) (*bundlesync.CommerceOrder, error) {
	args := m.Called(ctx, externalOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.CommerceOrder), args.Error(1)
}

func (m *MockCommerceRepository) FindEntitlements(ctx context.Context, externalOrderID string) ([]*bundlesync.Entitlement, error) {
	args := m.Called(ctx, externalOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bundlesync.Entitlement), args.Error(1)
}

func (m *MockCommerceRepository) FindDelivery(ctx context.Context, externalFulfillmentID string) (*bundlesync.DeliveryTracking, error) {
	args := m.Called(ctx, externalFulfillmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.DeliveryTracking), args.Error(1)
}

func (m *MockCommerceRepository) SaveOrderWithEntitlements(ctx context.Context, order *bundlesync.CommerceOrder, ents []*bundlesync.Entitlement) error {
	args := m.Called(ctx, order, ents)
	return args.Error(0)
}

func (m *MockCommerceRepository) SaveDelivery(ctx context.Context, d *bundlesync.DeliveryTracking) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

// MockWebhookEventRepository is a mock implementation of bundlesync.WebhookEventRepository
type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) Insert(ctx context.Context, e *bundlesync.WebhookEvent) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *MockWebhookEventRepository) Reclaim(ctx context.Context, e *bundlesync.WebhookEvent, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, e, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockWebhookEventRepository) MarkProcessed(ctx context.Context, e *bundlesync.WebhookEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockWebhookEventRepository) FindByDedupeKey(ctx context.Context, key string) (*bundlesync.WebhookEvent, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockCommercePlatform is a mock implementation of bundlesync.CommercePlatform
type MockCommercePlatform struct {
	mock.Mock
}

func (m *MockCommercePlatform) SubmitCompositeOffering(ctx context.Context, input bundlesync.CompositeOfferingInput) (*bundlesync.OperationHandle, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.OperationHandle), args.Error(1)
}

func (m *MockCommercePlatform) GetOperation(ctx context.Context, operationID string) (*bundlesync.OperationResult, error) {
	args := m.Called(ctx, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.OperationResult), args.Error(1)
}

func (m *MockCommercePlatform) AttachMetadata(ctx context.Context, externalID string, entries []bundlesync.MetadataEntry) (*bundlesync.ResourceVersion, error) {
	args := m.Called(ctx, externalID, entries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.ResourceVersion), args.Error(1)
}

func (m *MockCommercePlatform) GetCompositeOffering(ctx context.Context, externalID string) (*bundlesync.ExternalOffering, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bundlesync.ExternalOffering), args.Error(1)
}

// MockIdempotencyStore is a mock implementation of shared.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// mockRepos hands out the same mocks inside and outside of transactions
type mockRepos struct {
	bundles    *MockBundleRepository
	records    *MockSyncRecordRepository
	operations *MockPendingOperationRepository
	commerce   *MockCommerceRepository
	events     *MockWebhookEventRepository
}

func newMockRepos() *mockRepos {
	return &mockRepos{
		bundles:    new(MockBundleRepository),
		records:    new(MockSyncRecordRepository),
		operations: new(MockPendingOperationRepository),
		commerce:   new(MockCommerceRepository),
		events:     new(MockWebhookEventRepository),
	}
}

func (r *mockRepos) Bundles() bundlesync.BundleRepository { return r.bundles }
func (r *mockRepos) Records() bundlesync.SyncRecordRepository { return r.records }
func (r *mockRepos) Operations() bundlesync.PendingOperationRepository { return r.operations }
func (r *mockRepos) Commerce() bundlesync.CommerceRepository { return r.commerce }
func (r *mockRepos) WebhookEvents() bundlesync.WebhookEventRepository { return r.events }

// Execute runs fn directly; the mocks observe every call
func (r *mockRepos) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(r)
}

func (r *mockRepos) assertExpectations(t mock.TestingT) {
	r.bundles.AssertExpectations(t)
	r.records.AssertExpectations(t)
	r.operations.AssertExpectations(t)
	r.commerce.AssertExpectations(t)
	r.events.AssertExpectations(t)
}

// recordingSubmitter captures tasks instead of running them
type recordingSubmitter struct {
	tasks []scheduler.Task
	err   error
}

func (s *recordingSubmitter) Submit(task scheduler.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}
