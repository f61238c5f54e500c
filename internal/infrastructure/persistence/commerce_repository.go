package persistence

import (
	"context"
	"errors"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCommerceRepository implements bundlesync.CommerceRepository
type GormCommerceRepository struct {
	db *gorm.DB
}

// NewGormCommerceRepository creates a new GormCommerceRepository
func NewGormCommerceRepository(db *gorm.DB) *GormCommerceRepository {
	return &GormCommerceRepository{db: db}
}

// FindOrder returns nil, nil when the order is unknown
func (r *GormCommerceRepository) FindOrder(ctx context.Context, externalOrderID string) (*bundlesync.CommerceOrder, error) {
	var model models.CommerceOrderModel
	err := r.db.WithContext(ctx).First(&model, "external_order_id = ?", externalOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindEntitlements returns the entitlements of an order
func (r *GormCommerceRepository) FindEntitlements(ctx context.Context, externalOrderID string) ([]*bundlesync.Entitlement, error) {
	var rows []models.EntitlementModel
	if err := r.db.WithContext(ctx).
		Where("external_order_id = ?", externalOrderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*bundlesync.Entitlement, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// FindDelivery returns nil, nil when the fulfillment is unknown
func (r *GormCommerceRepository) FindDelivery(ctx context.Context, externalFulfillmentID string) (*bundlesync.DeliveryTracking, error) {
	var model models.DeliveryTrackingModel
	err := r.db.WithContext(ctx).First(&model, "external_fulfillment_id = ?", externalFulfillmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveOrderWithEntitlements upserts the order and its entitlements in one transaction
func (r *GormCommerceRepository) SaveOrderWithEntitlements(ctx context.Context, order *bundlesync.CommerceOrder, ents []*bundlesync.Entitlement) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order != nil {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "external_order_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"name", "customer_id", "customer_email", "currency", "total_price",
					"financial_status", "fulfillment_status", "paid_at", "fulfilled_at", "updated_at",
				}),
			}).Create(models.CommerceOrderModelFromDomain(order)).Error
			if err != nil {
				return err
			}
		}
		for _, e := range ents {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "external_order_id"}, {Name: "line_item_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "activated_at", "quantity", "updated_at"}),
			}).Create(models.EntitlementModelFromDomain(e)).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDelivery upserts a delivery tracking row
func (r *GormCommerceRepository) SaveDelivery(ctx context.Context, d *bundlesync.DeliveryTracking) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_fulfillment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_order_id", "status", "shipment_status", "carrier",
			"tracking_number", "tracking_url", "external_updated_at", "updated_at",
		}),
	}).Create(models.DeliveryTrackingModelFromDomain(d)).Error
}
