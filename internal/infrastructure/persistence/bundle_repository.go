package persistence

import (
	"context"
	"errors"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBundleRepository implements bundlesync.BundleRepository using GORM
type GormBundleRepository struct {
	db *gorm.DB
}

// NewGormBundleRepository creates a new GormBundleRepository
func NewGormBundleRepository(db *gorm.DB) *GormBundleRepository {
	return &GormBundleRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormBundleRepository) WithTx(tx *gorm.DB) *GormBundleRepository {
	return &GormBundleRepository{db: tx}
}

// FindByID loads a bundle and its components
func (r *GormBundleRepository) FindByID(ctx context.Context, id uuid.UUID) (*bundlesync.Bundle, error) {
	var model models.BundleModel
	err := r.db.WithContext(ctx).Preload("Components").First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bundlesync.ErrBundleNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDs loads the bundles that exist among ids
func (r *GormBundleRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*bundlesync.Bundle, error) {
	if len(ids) == 0 {
		return []*bundlesync.Bundle{}, nil
	}
	var rows []models.BundleModel
	if err := r.db.WithContext(ctx).Preload("Components").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return bundlesToDomain(rows), nil
}

// FindReferencingProduct returns the bundles that include productID as a component
func (r *GormBundleRepository) FindReferencingProduct(ctx context.Context, productID string) ([]*bundlesync.Bundle, error) {
	var rows []models.BundleModel
	sub := r.db.Model(&models.BundleComponentModel{}).Select("bundle_id").Where("product_id = ?", productID)
	if err := r.db.WithContext(ctx).Preload("Components").Where("id IN (?)", sub).Find(&rows).Error; err != nil {
		return nil, err
	}
	return bundlesToDomain(rows), nil
}

// Create inserts a bundle with its components
func (r *GormBundleRepository) Create(ctx context.Context, b *bundlesync.Bundle) error {
	if b.Version == 0 {
		b.Version = 1
	}
	return r.db.WithContext(ctx).Create(models.BundleModelFromDomain(b)).Error
}

// Save writes b guarded by its version and replaces its components.
func (r *GormBundleRepository) Save(ctx context.Context, b *bundlesync.Bundle) error {
	expected := b.Version
	model := models.BundleModelFromDomain(b)
	model.Version = expected + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.BundleModel{}).
			Where("id = ? AND version = ?", b.ID, expected).
			Updates(map[string]any{
				"title":           model.Title,
				"description":     model.Description,
				"price":           model.Price,
				"currency":        model.Currency,
				"services":        model.ServicesJSON,
				"approval_status": model.ApprovalStatus,
				"version":         model.Version,
				"updated_at":      model.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.BundleModel{}).Where("id = ?", b.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return bundlesync.ErrBundleNotFound
			}
			return bundlesync.ErrConcurrentSyncUpdate
		}
		if err := tx.Where("bundle_id = ?", b.ID).Delete(&models.BundleComponentModel{}).Error; err != nil {
			return err
		}
		if len(model.Components) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Components).Error
	})
	if err != nil {
		return err
	}
	b.Version = model.Version
	return nil
}

func bundlesToDomain(rows []models.BundleModel) []*bundlesync.Bundle {
	out := make([]*bundlesync.Bundle, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}
