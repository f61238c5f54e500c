package bundlesync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topic handlers are pure: they receive the decoded payload and the current
// local state and return the mutations to apply. They never reconcile; the
// only transitions they plan leave the synced state.

// PlannedTransition is a SyncRecord change requested by a handler
type PlannedTransition struct {
	BundleID        uuid.UUID
	ExpectedVersion int
	To              SyncStatus
	Cause           TransitionCause
	Reason          string
}

// Apply performs the planned change on a freshly loaded record
func (t PlannedTransition) Apply(r *SyncRecord, now time.Time) error {
	switch {
	case t.To == SyncStatusConflict:
		return r.FlagConflict(t.Cause, t.Reason, now)
	case t.To == SyncStatusFailed && t.Cause == CauseComponentDeleted:
		return r.FlagExternalMissing(t.Reason, now)
	default:
		return fmt.Errorf("%w: handlers cannot plan %s via %s", ErrIllegalTransition, t.To, t.Cause)
	}
}

// IgnoredChange explains why a product change did not affect a record
type IgnoredChange struct {
	BundleID uuid.UUID
	Verdict  Verdict
}

// Outcome is the set of local mutations produced by one webhook
type Outcome struct {
	Order        *CommerceOrder
	Entitlements []*Entitlement
	Delivery     *DeliveryTracking
	Transitions  []PlannedTransition
	Ignored      []IgnoredChange
}

// IsEmpty reports whether the outcome changes nothing
func (o Outcome) IsEmpty() bool {
	return o.Order == nil && len(o.Entitlements) == 0 && o.Delivery == nil && len(o.Transitions) == 0
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderState is the local state an order handler needs
type OrderState struct {
	Order        *CommerceOrder
	Entitlements []*Entitlement
	// BundleByProduct maps the external id of each synced bundle to its bundle id
	BundleByProduct map[string]uuid.UUID
}

func (s OrderState) entitlementFor(lineItemID string) *Entitlement {
	for _, e := range s.Entitlements {
		if e.LineItemID == lineItemID {
			return e
		}
	}
	return nil
}

func upsertOrder(p *OrderPayload, existing *CommerceOrder, now time.Time) *CommerceOrder {
	order := existing
	if order == nil {
		order = &CommerceOrder{
			ID:                uuid.New(),
			ExternalOrderID:   p.ID,
			FinancialStatus:   FinancialStatusPending,
			FulfillmentStatus: FulfillmentStatusUnfulfilled,
			CreatedAt:         now,
		}
	}
	order.Name = p.Name
	order.CustomerID = p.CustomerID()
	order.CustomerEmail = p.CustomerEmail()
	order.Currency = p.Currency
	order.TotalPrice = p.TotalPrice
	if p.FinancialStatus != "" && order.FinancialStatus != FinancialStatusPaid {
		order.FinancialStatus = p.FinancialStatus
	}
	if p.FulfillmentStatus != "" && order.FulfillmentStatus != FulfillmentStatusFulfilled {
		order.FulfillmentStatus = p.FulfillmentStatus
	}
	order.UpdatedAt = now
	return order
}

// bundleEntitlements creates missing entitlements for bundle line items and
// returns every entitlement that belongs to the order's bundle lines.
func bundleEntitlements(p *OrderPayload, st OrderState, now time.Time) []*Entitlement {
	var out []*Entitlement
	for _, li := range p.LineItems {
		bundleID, ok := st.BundleByProduct[li.ProductID]
		if !ok {
			continue
		}
		if e := st.entitlementFor(li.ID); e != nil {
			out = append(out, e)
			continue
		}
		out = append(out, &Entitlement{
			ID:              uuid.New(),
			ExternalOrderID: p.ID,
			LineItemID:      li.ID,
			BundleID:        bundleID,
			CustomerID:      p.CustomerID(),
			CustomerEmail:   p.CustomerEmail(),
			Quantity:        li.Quantity,
			Status:          EntitlementPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return out
}

// HandleOrderCreated mirrors the order and opens pending entitlements for bundle lines
func HandleOrderCreated(p *OrderPayload, st OrderState, now time.Time) Outcome {
	return Outcome{
		Order:        upsertOrder(p, st.Order, now),
		Entitlements: bundleEntitlements(p, st, now),
	}
}

// HandleOrderPaid marks the order paid and activates its entitlements,
// creating them when the create event was never seen.
func HandleOrderPaid(p *OrderPayload, st OrderState, now time.Time) Outcome {
	order := upsertOrder(p, st.Order, now)
	if order.FinancialStatus != FinancialStatusPaid {
		order.FinancialStatus = FinancialStatusPaid
	}
	if order.PaidAt == nil {
		paid := now
		order.PaidAt = &paid
	}
	ents := bundleEntitlements(p, st, now)
	for _, e := range ents {
		e.Activate(now)
	}
	return Outcome{Order: order, Entitlements: ents}
}

// HandleOrderFulfilled records fulfillment of the order
func HandleOrderFulfilled(p *OrderPayload, st OrderState, now time.Time) Outcome {
	order := upsertOrder(p, st.Order, now)
	order.FulfillmentStatus = FulfillmentStatusFulfilled
	if order.FulfilledAt == nil {
		at := now
		order.FulfilledAt = &at
	}
	return Outcome{Order: order}
}

// ---------------------------------------------------------------------------
// Fulfillments
// ---------------------------------------------------------------------------

// HandleFulfillmentUpdated upserts delivery tracking. Updates older than the
// stored state are ignored so out-of-order deliveries cannot regress tracking.
func HandleFulfillmentUpdated(p *FulfillmentPayload, existing *DeliveryTracking, now time.Time) Outcome {
	d := existing
	if d == nil {
		d = &DeliveryTracking{
			ID:                    uuid.New(),
			ExternalFulfillmentID: p.ID,
			CreatedAt:             now,
		}
	} else if !p.UpdatedAt.IsZero() && p.UpdatedAt.Before(d.ExternalUpdatedAt) {
		return Outcome{}
	}
	d.ExternalOrderID = p.OrderID
	d.Status = p.Status
	if p.ShipmentStatus != "" {
		d.ShipmentStatus = p.ShipmentStatus
	}
	if p.TrackingCompany != "" {
		d.Carrier = p.TrackingCompany
	}
	if p.TrackingNumber != "" {
		d.TrackingNumber = p.TrackingNumber
	}
	if p.TrackingURL != "" {
		d.TrackingURL = p.TrackingURL
	}
	if !p.UpdatedAt.IsZero() {
		d.ExternalUpdatedAt = p.UpdatedAt
	}
	d.UpdatedAt = now
	return Outcome{Delivery: d}
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// AffectedBundle pairs a sync record with its bundle for product events
type AffectedBundle struct {
	Record *SyncRecord
	Bundle *Bundle
}

// HandleProductUpdated runs the conflict rule against every affected record
func HandleProductUpdated(p *ProductPayload, affected []AffectedBundle, detector ConflictDetector, receivedAt time.Time) Outcome {
	change := ProductChange{
		ResourceID: p.ID,
		Version:    p.Version,
		UpdatedAt:  p.UpdatedAt,
		ReceivedAt: receivedAt,
	}
	var out Outcome
	for _, a := range affected {
		verdict := detector.Classify(a.Record, change)
		if verdict != VerdictConflict {
			out.Ignored = append(out.Ignored, IgnoredChange{BundleID: a.Record.BundleID, Verdict: verdict})
			continue
		}
		out.Transitions = append(out.Transitions, PlannedTransition{
			BundleID:        a.Record.BundleID,
			ExpectedVersion: a.Record.Version,
			To:              SyncStatusConflict,
			Cause:           CauseExternalEdit,
			Reason:          ConflictReason(change),
		})
	}
	return out
}

// HandleProductDeleted takes every synced bundle depending on the product out of synced.
// The composite itself disappearing fails the record; a component disappearing
// is a conflict for the reviewer. Component references are never dropped.
func HandleProductDeleted(p *ProductDeletePayload, affected []AffectedBundle) Outcome {
	var out Outcome
	for _, a := range affected {
		if a.Record.Status != SyncStatusSynced {
			out.Ignored = append(out.Ignored, IgnoredChange{BundleID: a.Record.BundleID, Verdict: VerdictNotApplicable})
			continue
		}
		t := PlannedTransition{
			BundleID:        a.Record.BundleID,
			ExpectedVersion: a.Record.Version,
			Cause:           CauseComponentDeleted,
		}
		switch {
		case a.Record.ExternalID() == p.ID:
			t.To = SyncStatusFailed
			t.Reason = "composite offering " + p.ID + " was deleted on the platform"
		case a.Bundle != nil && a.Bundle.ReferencesProduct(p.ID):
			t.To = SyncStatusConflict
			t.Reason = ComponentDeletedReason(p.ID)
		default:
			out.Ignored = append(out.Ignored, IgnoredChange{BundleID: a.Record.BundleID, Verdict: VerdictNotApplicable})
			continue
		}
		out.Transitions = append(out.Transitions, t)
	}
	return out
}
