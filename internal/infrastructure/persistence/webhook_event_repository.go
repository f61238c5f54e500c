package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWebhookEventRepository implements bundlesync.WebhookEventRepository.
// The unique dedupe_key index is the durable idempotency guarantee.
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Insert stores e unless its dedupe key was already admitted
func (r *GormWebhookEventRepository) Insert(ctx context.Context, e *bundlesync.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(models.WebhookEventModelFromDomain(e))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Reclaim takes over an unfinished row for a redelivery. The conditional
// update is the claim: concurrent redeliveries cannot both win it.
func (r *GormWebhookEventRepository) Reclaim(ctx context.Context, e *bundlesync.WebhookEvent, staleBefore time.Time) (bool, error) {
	db := r.db.WithContext(ctx)
	result := db.Model(&models.WebhookEventModel{}).
		Where("dedupe_key = ?", e.DedupeKey).
		Where("((processed_at IS NULL AND received_at < ?) OR (processed_at IS NOT NULL AND processing_error <> ''))", staleBefore).
		Updates(map[string]any{
			"received_at":      e.ReceivedAt,
			"payload_hash":     e.PayloadHash,
			"processed_at":     nil,
			"processing_error": "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	var model models.WebhookEventModel
	if err := db.Select("id").Where("dedupe_key = ?", e.DedupeKey).Take(&model).Error; err != nil {
		return false, err
	}
	e.ID = model.ID
	return true, nil
}

// MarkProcessed stores the outcome of dispatch
func (r *GormWebhookEventRepository) MarkProcessed(ctx context.Context, e *bundlesync.WebhookEvent) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEventModel{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"processed_at":     e.ProcessedAt,
			"processing_error": e.ProcessingError,
		}).Error
}

// FindByDedupeKey loads an admitted event
func (r *GormWebhookEventRepository) FindByDedupeKey(ctx context.Context, key string) (*bundlesync.WebhookEvent, error) {
	var model models.WebhookEventModel
	if err := r.db.WithContext(ctx).First(&model, "dedupe_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// DeleteProcessedBefore prunes processed events received before cutoff
func (r *GormWebhookEventRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND received_at < ?", cutoff).
		Delete(&models.WebhookEventModel{})
	return result.RowsAffected, result.Error
}
