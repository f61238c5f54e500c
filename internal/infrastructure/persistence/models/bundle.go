package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var modelLogger = zap.L().Named("persistence.models")

// BundleModel is the persistence model for a trainer bundle.
// Components live in their own table so product lookups stay indexable;
// service lines are stored as a JSON document.
type BundleModel struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	TrainerID      uuid.UUID                 `gorm:"type:uuid;not null;index"`
	Title          string                    `gorm:"type:varchar(255);not null"`
	Description    string                    `gorm:"type:text"`
	Price          decimal.Decimal           `gorm:"type:numeric(12,2);not null"`
	Currency       string                    `gorm:"type:char(3);not null"`
	ServicesJSON   string                    `gorm:"column:services;type:jsonb;not null;default:'[]'"`
	ApprovalStatus bundlesync.ApprovalStatus `gorm:"type:varchar(20);not null;index"`
	Version        int                       `gorm:"not null;default:1"`
	CreatedAt      time.Time                 `gorm:"not null"`
	UpdatedAt      time.Time                 `gorm:"not null"`

	Components []BundleComponentModel `gorm:"foreignKey:BundleID;references:ID"`
}

// TableName returns the table name for GORM
func (BundleModel) TableName() string {
	return "bundles"
}

// BundleComponentModel is one product reference of a bundle
type BundleComponentModel struct {
	BundleID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProductID string    `gorm:"type:varchar(100);primaryKey;index"`
	Quantity  int       `gorm:"not null"`
	Position  int       `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (BundleComponentModel) TableName() string {
	return "bundle_components"
}

// BundleModelFromDomain maps a domain bundle, components included
func BundleModelFromDomain(b *bundlesync.Bundle) *BundleModel {
	services := b.Services
	if services == nil {
		services = []bundlesync.ServiceLineItem{}
	}
	raw, err := json.Marshal(services)
	if err != nil {
		raw = []byte("[]")
	}
	m := &BundleModel{
		ID:             b.ID,
		TrainerID:      b.TrainerID,
		Title:          b.Title,
		Description:    b.Description,
		Price:          b.Price,
		Currency:       b.Currency,
		ServicesJSON:   string(raw),
		ApprovalStatus: b.ApprovalStatus,
		Version:        b.Version,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		Components:     make([]BundleComponentModel, 0, len(b.Components)),
	}
	for _, c := range b.Components {
		m.Components = append(m.Components, BundleComponentModel{
			BundleID:  b.ID,
			ProductID: c.ProductID,
			Quantity:  c.Quantity,
			Position:  c.Position,
		})
	}
	return m
}

// ToDomain converts the model to a domain bundle
func (m *BundleModel) ToDomain() *bundlesync.Bundle {
	b := &bundlesync.Bundle{
		ID:             m.ID,
		TrainerID:      m.TrainerID,
		Title:          m.Title,
		Description:    m.Description,
		Price:          m.Price,
		Currency:       m.Currency,
		ApprovalStatus: m.ApprovalStatus,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		Components:     make([]bundlesync.ComponentRef, 0, len(m.Components)),
		Services:       []bundlesync.ServiceLineItem{},
	}
	comps := append([]BundleComponentModel(nil), m.Components...)
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Position < comps[j].Position })
	for _, c := range comps {
		b.Components = append(b.Components, bundlesync.ComponentRef{
			ProductID: c.ProductID,
			Quantity:  c.Quantity,
			Position:  c.Position,
		})
	}
	if m.ServicesJSON != "" && m.ServicesJSON != "[]" {
		if err := json.Unmarshal([]byte(m.ServicesJSON), &b.Services); err != nil {
			modelLogger.Warn("failed to parse bundle services JSON",
				zap.String("bundle_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return b
}
