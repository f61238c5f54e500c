package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSyncRecordRepository implements bundlesync.SyncRecordRepository using GORM
type GormSyncRecordRepository struct {
	db *gorm.DB
}

// NewGormSyncRecordRepository creates a new GormSyncRecordRepository
func NewGormSyncRecordRepository(db *gorm.DB) *GormSyncRecordRepository {
	return &GormSyncRecordRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormSyncRecordRepository) WithTx(tx *gorm.DB) *GormSyncRecordRepository {
	return &GormSyncRecordRepository{db: tx}
}

// Create inserts a record unless the bundle already has one
func (r *GormSyncRecordRepository) Create(ctx context.Context, rec *bundlesync.SyncRecord) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bundle_id"}},
			DoNothing: true,
		}).
		Create(models.SyncRecordModelFromDomain(rec))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bundlesync.ErrRecordAlreadyExists
	}
	return nil
}

// Update writes rec only if the stored version still equals rec.Version
func (r *GormSyncRecordRepository) Update(ctx context.Context, rec *bundlesync.SyncRecord) error {
	expected := rec.Version
	model := models.SyncRecordModelFromDomain(rec)
	model.Version = expected + 1

	result := r.db.WithContext(ctx).
		Model(&models.SyncRecordModel{}).
		Where("bundle_id = ? AND version = ?", rec.BundleID, expected).
		Updates(map[string]any{
			"external_id":         model.ExternalID,
			"external_handle":     model.ExternalHandle,
			"external_admin_url":  model.ExternalAdminURL,
			"external_linked_at":  model.ExternalLinkedAt,
			"status":              model.Status,
			"last_synced_at":      model.LastSyncedAt,
			"last_error":          model.LastError,
			"error_kind":          model.ErrorKind,
			"last_pushed_version": model.LastPushedVersion,
			"last_pushed_at":      model.LastPushedAt,
			"conflict_reason":     model.ConflictReason,
			"version":             model.Version,
			"updated_at":          model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.SyncRecordModel{}).
			Where("bundle_id = ?", rec.BundleID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return bundlesync.ErrSyncRecordNotFound
		}
		return fmt.Errorf("%w: bundle %s at version %d", bundlesync.ErrConcurrentSyncUpdate, rec.BundleID, expected)
	}
	rec.IncrementVersion()
	return nil
}

// FindByBundleID loads the record of a bundle
func (r *GormSyncRecordRepository) FindByBundleID(ctx context.Context, bundleID uuid.UUID) (*bundlesync.SyncRecord, error) {
	var model models.SyncRecordModel
	if err := r.db.WithContext(ctx).First(&model, "bundle_id = ?", bundleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bundlesync.ErrSyncRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalID returns the records linked to a platform resource
func (r *GormSyncRecordRepository) FindByExternalID(ctx context.Context, externalID string) ([]*bundlesync.SyncRecord, error) {
	return r.find(ctx, r.db.Where("external_id = ?", externalID))
}

// FindByBundleIDs returns the records of the given bundles
func (r *GormSyncRecordRepository) FindByBundleIDs(ctx context.Context, bundleIDs []uuid.UUID) ([]*bundlesync.SyncRecord, error) {
	if len(bundleIDs) == 0 {
		return []*bundlesync.SyncRecord{}, nil
	}
	return r.find(ctx, r.db.Where("bundle_id IN ?", bundleIDs))
}

// FindByStatus lists every record in a status
func (r *GormSyncRecordRepository) FindByStatus(ctx context.Context, status bundlesync.SyncStatus) ([]*bundlesync.SyncRecord, error) {
	return r.find(ctx, r.db.Where("status = ?", status).Order("updated_at ASC"))
}

// List returns a page of records and the total count
func (r *GormSyncRecordRepository) List(ctx context.Context, filter bundlesync.SyncRecordFilter) ([]*bundlesync.SyncRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRecordModel{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit, offset := normalizePage(filter.Page, filter.PageSize)
	orderBy := ValidateSortField(filter.OrderBy, SyncRecordSortFields, "updated_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.SyncRecordModel
	if err := query.Order(orderBy + " " + orderDir).Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return recordsToDomain(rows), total, nil
}

func (r *GormSyncRecordRepository) find(ctx context.Context, query *gorm.DB) ([]*bundlesync.SyncRecord, error) {
	var rows []models.SyncRecordModel
	if err := query.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return recordsToDomain(rows), nil
}

func recordsToDomain(rows []models.SyncRecordModel) []*bundlesync.SyncRecord {
	out := make([]*bundlesync.SyncRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}
