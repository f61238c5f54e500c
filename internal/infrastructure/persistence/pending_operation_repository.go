package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPendingOperationRepository implements bundlesync.PendingOperationRepository
type GormPendingOperationRepository struct {
	db *gorm.DB
}

// NewGormPendingOperationRepository creates a new GormPendingOperationRepository
func NewGormPendingOperationRepository(db *gorm.DB) *GormPendingOperationRepository {
	return &GormPendingOperationRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormPendingOperationRepository) WithTx(tx *gorm.DB) *GormPendingOperationRepository {
	return &GormPendingOperationRepository{db: tx}
}

// Create inserts op; the unique bundle index rejects a second in-flight push
func (r *GormPendingOperationRepository) Create(ctx context.Context, op *bundlesync.PendingOperation) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bundle_id"}},
			DoNothing: true,
		}).
		Create(models.PendingOperationModelFromDomain(op))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bundlesync.ErrPushInProgress
	}
	return nil
}

// Save writes op guarded by its version
func (r *GormPendingOperationRepository) Save(ctx context.Context, op *bundlesync.PendingOperation) error {
	expected := op.Version
	model := models.PendingOperationModelFromDomain(op)
	model.Version = expected + 1

	result := r.db.WithContext(ctx).
		Model(&models.PendingOperationModel{}).
		Where("id = ? AND version = ?", op.ID, expected).
		Updates(map[string]any{
			"step":                  model.Step,
			"kind":                  model.Kind,
			"platform_operation_id": model.PlatformOperationID,
			"external_id":           model.ExternalID,
			"attempts":              model.Attempts,
			"next_poll_at":          model.NextPollAt,
			"started_at":            model.StartedAt,
			"last_error":            model.LastError,
			"version":               model.Version,
			"updated_at":            model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrStale(ctx, op.ID)
	}
	op.Version = model.Version
	return nil
}

// Claim leases op by pushing NextPollAt to leaseUntil. Only one worker wins.
func (r *GormPendingOperationRepository) Claim(ctx context.Context, op *bundlesync.PendingOperation, leaseUntil time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PendingOperationModel{}).
		Where("id = ? AND version = ?", op.ID, op.Version).
		Updates(map[string]any{
			"next_poll_at": leaseUntil,
			"version":      op.Version + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	op.Version++
	op.NextPollAt = leaseUntil
	return true, nil
}

// FindDue returns operations whose next poll is due, oldest first
func (r *GormPendingOperationRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*bundlesync.PendingOperation, error) {
	var rows []models.PendingOperationModel
	err := r.db.WithContext(ctx).
		Where("next_poll_at <= ?", now).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*bundlesync.PendingOperation, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// FindByBundleID returns the in-flight operation of a bundle
func (r *GormPendingOperationRepository) FindByBundleID(ctx context.Context, bundleID uuid.UUID) (*bundlesync.PendingOperation, error) {
	var model models.PendingOperationModel
	if err := r.db.WithContext(ctx).First(&model, "bundle_id = ?", bundleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bundlesync.ErrOperationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Delete removes a resolved operation; deleting a missing row is not an error
func (r *GormPendingOperationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PendingOperationModel{}, "id = ?", id).Error
}

func (r *GormPendingOperationRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.PendingOperationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return bundlesync.ErrOperationNotFound
	}
	return bundlesync.ErrConcurrentSyncUpdate
}
