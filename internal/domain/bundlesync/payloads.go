package bundlesync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic payload schemas. Each is decoded strictly from the envelope's data
// object: unknown fields and failed validation reject the delivery.

// OrderLineItem is one line of an order
type OrderLineItem struct {
	ID        string          `json:"id" validate:"required"`
	ProductID string          `json:"product_id" validate:"required"`
	Title     string          `json:"title,omitempty"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	Price     decimal.Decimal `json:"price"`
}

// OrderCustomer identifies who placed an order
type OrderCustomer struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// OrderPayload is the data of orders/create, orders/paid and orders/fulfilled
type OrderPayload struct {
	ID                string          `json:"id" validate:"required"`
	Name              string          `json:"name,omitempty"`
	Email             string          `json:"email,omitempty" validate:"omitempty,email"`
	Customer          *OrderCustomer  `json:"customer,omitempty"`
	Currency          string          `json:"currency" validate:"required,len=3"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	FinancialStatus   string          `json:"financial_status,omitempty"`
	FulfillmentStatus string          `json:"fulfillment_status,omitempty"`
	LineItems         []OrderLineItem `json:"line_items" validate:"dive"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CustomerID returns the customer id when present
func (p *OrderPayload) CustomerID() string {
	if p.Customer == nil {
		return ""
	}
	return p.Customer.ID
}

// CustomerEmail returns the order email, falling back to the customer's
func (p *OrderPayload) CustomerEmail() string {
	if p.Email != "" {
		return p.Email
	}
	if p.Customer != nil {
		return p.Customer.Email
	}
	return ""
}

// FulfillmentPayload is the data of fulfillments/update
type FulfillmentPayload struct {
	ID              string    `json:"id" validate:"required"`
	OrderID         string    `json:"order_id" validate:"required"`
	Status          string    `json:"status" validate:"required"`
	ShipmentStatus  string    `json:"shipment_status,omitempty"`
	TrackingCompany string    `json:"tracking_company,omitempty"`
	TrackingNumber  string    `json:"tracking_number,omitempty"`
	TrackingURL     string    `json:"tracking_url,omitempty" validate:"omitempty,url"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProductPayload is the data of products/update
type ProductPayload struct {
	ID        string          `json:"id" validate:"required"`
	Title     string          `json:"title,omitempty"`
	Status    string          `json:"status,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Version   int64           `json:"version,omitempty" validate:"min=0"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductDeletePayload is the data of products/delete
type ProductDeletePayload struct {
	ID string `json:"id" validate:"required"`
}

// PayloadFor returns an empty schema value for a known topic, or nil for unknown topics
func PayloadFor(topic Topic) any {
	switch topic {
	case TopicOrderCreated, TopicOrderPaid, TopicOrderFulfilled:
		return &OrderPayload{}
	case TopicFulfillmentUpdated:
		return &FulfillmentPayload{}
	case TopicProductUpdated:
		return &ProductPayload{}
	case TopicProductDeleted:
		return &ProductDeletePayload{}
	default:
		return nil
	}
}
