package bundlesync

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ApprovalStatus
// ---------------------------------------------------------------------------

// ApprovalStatus is the review state of a bundle, owned by the review workflow
type ApprovalStatus string

const (
	ApprovalDraft         ApprovalStatus = "draft"
	ApprovalPendingReview ApprovalStatus = "pending_review"
	ApprovalPublished     ApprovalStatus = "published"
	ApprovalRejected      ApprovalStatus = "rejected"
)

// IsValid returns true if the approval status is valid
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalDraft, ApprovalPendingReview, ApprovalPublished, ApprovalRejected:
		return true
	default:
		return false
	}
}

// String returns the string representation of ApprovalStatus
func (s ApprovalStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Bundle
// ---------------------------------------------------------------------------

// ComponentRef points at a product hosted on the commerce platform
type ComponentRef struct {
	// ProductID is the platform's product identifier
	ProductID string `json:"product_id"`
	// Quantity of the product included in one bundle
	Quantity int `json:"quantity"`
	// Position keeps the trainer's ordering stable
	Position int `json:"position"`
}

// ServiceLineItem is a trainer service delivered as part of the bundle
type ServiceLineItem struct {
	Name            string `json:"name"`
	Sessions        int    `json:"sessions"`
	DurationMinutes int    `json:"duration_minutes"`
	Position        int    `json:"position"`
}

// Bundle is a trainer-curated composite offering of products and services.
type Bundle struct {
	ID             uuid.UUID
	TrainerID      uuid.UUID
	Title          string
	Description    string
	Price          decimal.Decimal
	Currency       string
	Components     []ComponentRef
	Services       []ServiceLineItem
	ApprovalStatus ApprovalStatus
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks that the bundle can be represented on the platform
func (b *Bundle) Validate() error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidBundle)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidBundle)
	}
	if b.Price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidBundle)
	}
	if len(b.Currency) != 3 {
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidBundle)
	}
	if len(b.Components) == 0 && len(b.Services) == 0 {
		return fmt.Errorf("%w: bundle has no components or services", ErrInvalidBundle)
	}
	seen := make(map[string]struct{}, len(b.Components))
	for _, c := range b.Components {
		if c.ProductID == "" {
			return fmt.Errorf("%w: component without product id", ErrInvalidBundle)
		}
		if c.Quantity <= 0 {
			return fmt.Errorf("%w: component %s has non-positive quantity", ErrInvalidBundle, c.ProductID)
		}
		if _, dup := seen[c.ProductID]; dup {
			return fmt.Errorf("%w: component %s listed twice", ErrInvalidBundle, c.ProductID)
		}
		seen[c.ProductID] = struct{}{}
	}
	return nil
}

// Approve records the review decision that makes the bundle publishable.
func (b *Bundle) Approve(now time.Time) error {
	switch b.ApprovalStatus {
	case ApprovalPublished:
		return nil
	case ApprovalPendingReview:
		b.ApprovalStatus = ApprovalPublished
		b.UpdatedAt = now
		return nil
	default:
		return ErrBundleNotApproved
	}
}

// IsPublished reports whether the bundle has passed review
func (b *Bundle) IsPublished() bool {
	return b.ApprovalStatus == ApprovalPublished
}

// ReferencesProduct reports whether productID is one of the bundle's components
func (b *Bundle) ReferencesProduct(productID string) bool {
	for _, c := range b.Components {
		if c.ProductID == productID {
			return true
		}
	}
	return false
}

// OrderedComponents returns the components sorted by position
func (b *Bundle) OrderedComponents() []ComponentRef {
	out := make([]ComponentRef, len(b.Components))
	copy(out, b.Components)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// OrderedServices returns the services sorted by position
func (b *Bundle) OrderedServices() []ServiceLineItem {
	out := make([]ServiceLineItem, len(b.Services))
	copy(out, b.Services)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// ServiceSummary renders the service line items as a single human-readable line,
// e.g. "4x Personal training (60 min); 1x Nutrition plan".
func (b *Bundle) ServiceSummary() string {
	services := b.OrderedServices()
	parts := make([]string, 0, len(services))
	for _, s := range services {
		part := fmt.Sprintf("%dx %s", s.Sessions, s.Name)
		if s.DurationMinutes > 0 {
			part += fmt.Sprintf(" (%d min)", s.DurationMinutes)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}

// ApplyExternal overwrites the locally-owned fields with the platform's state.
// Services have no platform representation beyond the summary and are kept.
func (b *Bundle) ApplyExternal(o *ExternalOffering, now time.Time) {
	b.Title = o.Title
	b.Description = o.Description
	b.Price = o.Price
	if o.Currency != "" {
		b.Currency = o.Currency
	}
	components := make([]ComponentRef, len(o.Components))
	for i, c := range o.Components {
		components[i] = ComponentRef{ProductID: c.ProductID, Quantity: c.Quantity, Position: i}
	}
	b.Components = components
	b.UpdatedAt = now
}
