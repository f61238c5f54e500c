package bundlesync

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order financial statuses mirrored from the platform
const (
	FinancialStatusPending = "pending"
	FinancialStatusPaid    = "paid"
)

// Order fulfillment statuses mirrored from the platform
const (
	FulfillmentStatusUnfulfilled = "unfulfilled"
	FulfillmentStatusFulfilled   = "fulfilled"
)

// CommerceOrder is the local mirror of a platform order
type CommerceOrder struct {
	ID                uuid.UUID
	ExternalOrderID   string
	Name              string
	CustomerID        string
	CustomerEmail     string
	Currency          string
	TotalPrice        decimal.Decimal
	FinancialStatus   string
	FulfillmentStatus string
	PaidAt            *time.Time
	FulfilledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EntitlementStatus tracks a client's access to a purchased bundle
type EntitlementStatus string

const (
	EntitlementPending EntitlementStatus = "pending"
	EntitlementActive  EntitlementStatus = "active"
	EntitlementRevoked EntitlementStatus = "revoked"
)

// Entitlement grants a client access to the services of a purchased bundle
type Entitlement struct {
	ID              uuid.UUID
	ExternalOrderID string
	LineItemID      string
	BundleID        uuid.UUID
	CustomerID      string
	CustomerEmail   string
	Quantity        int
	Status          EntitlementStatus
	ActivatedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Activate moves a pending entitlement to active; revoked entitlements stay revoked
func (e *Entitlement) Activate(now time.Time) bool {
	if e.Status != EntitlementPending {
		return false
	}
	e.Status = EntitlementActive
	e.ActivatedAt = &now
	e.UpdatedAt = now
	return true
}

// DeliveryTracking mirrors the shipment state of a fulfillment
type DeliveryTracking struct {
	ID                    uuid.UUID
	ExternalFulfillmentID string
	ExternalOrderID       string
	Status                string
	ShipmentStatus        string
	Carrier               string
	TrackingNumber        string
	TrackingURL           string
	ExternalUpdatedAt     time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
