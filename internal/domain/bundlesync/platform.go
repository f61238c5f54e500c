package bundlesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CommercePlatform is the port to the external commerce platform.
// Implementations classify failures with PlatformError and return
// ErrExternalNotFound when a resource no longer exists.
type CommercePlatform interface {
	// SubmitCompositeOffering starts an asynchronous create (ExternalID empty) or
	// update (ExternalID set) and returns the operation handle
	SubmitCompositeOffering(ctx context.Context, input CompositeOfferingInput) (*OperationHandle, error)

	// GetOperation returns the current status of an asynchronous operation
	GetOperation(ctx context.Context, operationID string) (*OperationResult, error)

	// AttachMetadata writes structured metadata onto the composite offering and
	// returns the resource version produced by the write
	AttachMetadata(ctx context.Context, externalID string, entries []MetadataEntry) (*ResourceVersion, error)

	// GetCompositeOffering reads the current state of the composite offering
	GetCompositeOffering(ctx context.Context, externalID string) (*ExternalOffering, error)
}

// OperationStatus is the platform's status of an asynchronous operation
type OperationStatus string

const (
	OperationRunning  OperationStatus = "RUNNING"
	OperationComplete OperationStatus = "COMPLETE"
	OperationFailed   OperationStatus = "FAILED"
)

// IsTerminal reports whether polling can stop
func (s OperationStatus) IsTerminal() bool {
	return s == OperationComplete || s == OperationFailed
}

// CompositeComponent is one product line of a composite offering
type CompositeComponent struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CompositeOfferingInput is the payload pushed to the platform
type CompositeOfferingInput struct {
	// ExternalID selects update-by-id; empty means create
	ExternalID string `json:"external_id,omitempty"`
	// IdempotencyKey makes a create safe to retry
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Title          string               `json:"title"`
	Description    string               `json:"description,omitempty"`
	Price          decimal.Decimal      `json:"price"`
	Currency       string               `json:"currency"`
	Components     []CompositeComponent `json:"components"`
	ServiceSummary string               `json:"service_summary,omitempty"`
}

// IsCreate reports whether the input creates a new offering
func (in CompositeOfferingInput) IsCreate() bool {
	return in.ExternalID == ""
}

// OperationHandle identifies a submitted asynchronous operation
type OperationHandle struct {
	OperationID string
	Status      OperationStatus
}

// OperationResult is the polled state of an asynchronous operation
type OperationResult struct {
	OperationID string
	Status      OperationStatus
	ResourceID  string
	Handle      string
	AdminURL    string
	Errors      []string
}

// ResourceVersion marks the platform state produced by a write
type ResourceVersion struct {
	Version   int64
	UpdatedAt time.Time
}

// Marker converts the version into the echo marker stored on the SyncRecord
func (v ResourceVersion) Marker() PushMarker {
	return PushMarker{Version: v.Version, UpdatedAt: v.UpdatedAt}
}

// MetadataEntry is one structured metadata field attached during finalize
type MetadataEntry struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// MetadataNamespace scopes the metadata written by the engine
const MetadataNamespace = "fitmarket"

// ExternalComponent is a component as read back from the platform
type ExternalComponent struct {
	ProductID string
	Quantity  int
}

// ExternalOffering is the platform's view of a composite offering
type ExternalOffering struct {
	ID          string
	Handle      string
	AdminURL    string
	Title       string
	Description string
	Price       decimal.Decimal
	Currency    string
	Components  []ExternalComponent
	Version     int64
	UpdatedAt   time.Time
}

// ResourceVersion returns the version marker of the offering
func (o *ExternalOffering) ResourceVersion() ResourceVersion {
	return ResourceVersion{Version: o.Version, UpdatedAt: o.UpdatedAt}
}

// BuildPushPayload computes the platform payload for a bundle
func BuildPushPayload(b *Bundle, externalID, idempotencyKey string) CompositeOfferingInput {
	components := b.OrderedComponents()
	out := make([]CompositeComponent, len(components))
	for i, c := range components {
		out[i] = CompositeComponent{ProductID: c.ProductID, Quantity: c.Quantity}
	}
	in := CompositeOfferingInput{
		ExternalID:     externalID,
		Title:          b.Title,
		Description:    b.Description,
		Price:          b.Price,
		Currency:       b.Currency,
		Components:     out,
		ServiceSummary: b.ServiceSummary(),
	}
	if in.IsCreate() {
		in.IdempotencyKey = idempotencyKey
	}
	return in
}

// BuildFinalizeMetadata derives the structured metadata attached after creation
func BuildFinalizeMetadata(b *Bundle) ([]MetadataEntry, error) {
	components, err := json.Marshal(b.OrderedComponents())
	if err != nil {
		return nil, fmt.Errorf("marshal components: %w", err)
	}
	services, err := json.Marshal(b.OrderedServices())
	if err != nil {
		return nil, fmt.Errorf("marshal services: %w", err)
	}
	return []MetadataEntry{
		{Namespace: MetadataNamespace, Key: "bundle_id", Type: "single_line_text_field", Value: b.ID.String()},
		{Namespace: MetadataNamespace, Key: "trainer_id", Type: "single_line_text_field", Value: b.TrainerID.String()},
		{Namespace: MetadataNamespace, Key: "components", Type: "json", Value: string(components)},
		{Namespace: MetadataNamespace, Key: "services", Type: "json", Value: string(services)},
	}, nil
}

// DiffOffering lists the fields where the platform differs from the bundle.
// An empty result means the two are in sync.
func DiffOffering(b *Bundle, o *ExternalOffering) []string {
	var diffs []string
	if strings.TrimSpace(b.Title) != strings.TrimSpace(o.Title) {
		diffs = append(diffs, "title")
	}
	if !b.Price.Equal(o.Price) {
		diffs = append(diffs, "price")
	}
	if o.Currency != "" && !strings.EqualFold(b.Currency, o.Currency) {
		diffs = append(diffs, "currency")
	}
	local := b.OrderedComponents()
	if len(local) != len(o.Components) {
		diffs = append(diffs, "components")
		return diffs
	}
	for i, c := range local {
		if c.ProductID != o.Components[i].ProductID || c.Quantity != o.Components[i].Quantity {
			diffs = append(diffs, "components")
			break
		}
	}
	return diffs
}
