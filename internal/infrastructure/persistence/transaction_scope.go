package persistence

import (
	"context"

	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"gorm.io/gorm"
)

// GormTransactionScope runs application units of work inside one GORM transaction
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute commits when fn returns nil and rolls back otherwise
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos syncapp.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txRepositories{tx: tx})
	})
}

type txRepositories struct {
	tx *gorm.DB
}

func (r txRepositories) Bundles() bundlesync.BundleRepository {
	return NewGormBundleRepository(r.tx)
}

func (r txRepositories) Records() bundlesync.SyncRecordRepository {
	return NewGormSyncRecordRepository(r.tx)
}

func (r txRepositories) Operations() bundlesync.PendingOperationRepository {
	return NewGormPendingOperationRepository(r.tx)
}

func (r txRepositories) Commerce() bundlesync.CommerceRepository {
	return NewGormCommerceRepository(r.tx)
}

func (r txRepositories) WebhookEvents() bundlesync.WebhookEventRepository {
	return NewGormWebhookEventRepository(r.tx)
}

var (
	_ syncapp.TransactionScope          = (*GormTransactionScope)(nil)
	_ syncapp.TransactionalRepositories = txRepositories{}
)
