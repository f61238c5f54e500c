package models

import (
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommerceOrderModel mirrors a platform order
type CommerceOrderModel struct {
	BaseModel
	ExternalOrderID   string          `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name              string          `gorm:"type:varchar(100)"`
	CustomerID        string          `gorm:"type:varchar(100);index"`
	CustomerEmail     string          `gorm:"type:varchar(255)"`
	Currency          string          `gorm:"type:char(3);not null"`
	TotalPrice        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	FinancialStatus   string          `gorm:"type:varchar(30);not null"`
	FulfillmentStatus string          `gorm:"type:varchar(30);not null"`
	PaidAt            *time.Time
	FulfilledAt       *time.Time
}

// TableName returns the table name for GORM
func (CommerceOrderModel) TableName() string {
	return "commerce_orders"
}

// CommerceOrderModelFromDomain maps a domain order
func CommerceOrderModelFromDomain(o *bundlesync.CommerceOrder) *CommerceOrderModel {
	return &CommerceOrderModel{
		BaseModel:         BaseModel{ID: o.ID, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt},
		ExternalOrderID:   o.ExternalOrderID,
		Name:              o.Name,
		CustomerID:        o.CustomerID,
		CustomerEmail:     o.CustomerEmail,
		Currency:          o.Currency,
		TotalPrice:        o.TotalPrice,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		PaidAt:            o.PaidAt,
		FulfilledAt:       o.FulfilledAt,
	}
}

// ToDomain converts the model to a domain order
func (m *CommerceOrderModel) ToDomain() *bundlesync.CommerceOrder {
	return &bundlesync.CommerceOrder{
		ID:                m.ID,
		ExternalOrderID:   m.ExternalOrderID,
		Name:              m.Name,
		CustomerID:        m.CustomerID,
		CustomerEmail:     m.CustomerEmail,
		Currency:          m.Currency,
		TotalPrice:        m.TotalPrice,
		FinancialStatus:   m.FinancialStatus,
		FulfillmentStatus: m.FulfillmentStatus,
		PaidAt:            m.PaidAt,
		FulfilledAt:       m.FulfilledAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// EntitlementModel grants a customer access to a purchased bundle.
// One entitlement exists per order line item.
type EntitlementModel struct {
	BaseModel
	ExternalOrderID string                       `gorm:"type:varchar(100);not null;uniqueIndex:idx_entitlement_line"`
	LineItemID      string                       `gorm:"type:varchar(100);not null;uniqueIndex:idx_entitlement_line"`
	BundleID        uuid.UUID                    `gorm:"type:uuid;not null;index"`
	CustomerID      string                       `gorm:"type:varchar(100);index"`
	CustomerEmail   string                       `gorm:"type:varchar(255)"`
	Quantity        int                          `gorm:"not null;default:1"`
	Status          bundlesync.EntitlementStatus `gorm:"type:varchar(20);not null"`
	ActivatedAt     *time.Time
}

// TableName returns the table name for GORM
func (EntitlementModel) TableName() string {
	return "entitlements"
}

// EntitlementModelFromDomain maps a domain entitlement
func EntitlementModelFromDomain(e *bundlesync.Entitlement) *EntitlementModel {
	return &EntitlementModel{
		BaseModel:       BaseModel{ID: e.ID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt},
		ExternalOrderID: e.ExternalOrderID,
		LineItemID:      e.LineItemID,
		BundleID:        e.BundleID,
		CustomerID:      e.CustomerID,
		CustomerEmail:   e.CustomerEmail,
		Quantity:        e.Quantity,
		Status:          e.Status,
		ActivatedAt:     e.ActivatedAt,
	}
}

// ToDomain converts the model to a domain entitlement
func (m *EntitlementModel) ToDomain() *bundlesync.Entitlement {
	return &bundlesync.Entitlement{
		ID:              m.ID,
		ExternalOrderID: m.ExternalOrderID,
		LineItemID:      m.LineItemID,
		BundleID:        m.BundleID,
		CustomerID:      m.CustomerID,
		CustomerEmail:   m.CustomerEmail,
		Quantity:        m.Quantity,
		Status:          m.Status,
		ActivatedAt:     m.ActivatedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// DeliveryTrackingModel mirrors the shipment state of a fulfillment
type DeliveryTrackingModel struct {
	BaseModel
	ExternalFulfillmentID string `gorm:"type:varchar(100);not null;uniqueIndex"`
	ExternalOrderID       string `gorm:"type:varchar(100);not null;index"`
	Status                string `gorm:"type:varchar(30);not null"`
	ShipmentStatus        string `gorm:"type:varchar(30)"`
	Carrier               string `gorm:"type:varchar(100)"`
	TrackingNumber        string `gorm:"type:varchar(100)"`
	TrackingURL           string `gorm:"type:text"`
	ExternalUpdatedAt     time.Time
}

// TableName returns the table name for GORM
func (DeliveryTrackingModel) TableName() string {
	return "delivery_trackings"
}

// DeliveryTrackingModelFromDomain maps a domain delivery
func DeliveryTrackingModelFromDomain(d *bundlesync.DeliveryTracking) *DeliveryTrackingModel {
	return &DeliveryTrackingModel{
		BaseModel:             BaseModel{ID: d.ID, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt},
		ExternalFulfillmentID: d.ExternalFulfillmentID,
		ExternalOrderID:       d.ExternalOrderID,
		Status:                d.Status,
		ShipmentStatus:        d.ShipmentStatus,
		Carrier:               d.Carrier,
		TrackingNumber:        d.TrackingNumber,
		TrackingURL:           d.TrackingURL,
		ExternalUpdatedAt:     d.ExternalUpdatedAt,
	}
}

// ToDomain converts the model to a domain delivery
func (m *DeliveryTrackingModel) ToDomain() *bundlesync.DeliveryTracking {
	return &bundlesync.DeliveryTracking{
		ID:                    m.ID,
		ExternalFulfillmentID: m.ExternalFulfillmentID,
		ExternalOrderID:       m.ExternalOrderID,
		Status:                m.Status,
		ShipmentStatus:        m.ShipmentStatus,
		Carrier:               m.Carrier,
		TrackingNumber:        m.TrackingNumber,
		TrackingURL:           m.TrackingURL,
		ExternalUpdatedAt:     m.ExternalUpdatedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// All lists every model for AutoMigrate in tests
func All() []any {
	return []any{
		&BundleModel{},
		&BundleComponentModel{},
		&SyncRecordModel{},
		&PendingOperationModel{},
		&WebhookEventModel{},
		&CommerceOrderModel{},
		&EntitlementModel{},
		&DeliveryTrackingModel{},
	}
}
