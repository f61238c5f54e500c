package bundlesync

import (
	"fmt"
	"time"
)

// DefaultSuppressionWindow is how long after a push product updates are assumed to be echoes
const DefaultSuppressionWindow = 5 * time.Second

// ProductChange is a product-updated notification reduced to what the detector needs
type ProductChange struct {
	ResourceID string
	// Version is the platform's resource version, 0 when the event does not carry one
	Version    int64
	UpdatedAt  time.Time
	ReceivedAt time.Time
}

// observedAt is the timestamp used for the suppression window
func (c ProductChange) observedAt() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.ReceivedAt
}

// Verdict is the result of classifying a product change against a SyncRecord
type Verdict string

const (
	VerdictNotApplicable Verdict = "not_applicable"
	VerdictEcho          Verdict = "echo"
	VerdictStale         Verdict = "stale"
	VerdictConflict      Verdict = "conflict"
)

// ConflictDetector separates our own write echoes from third-party edits.
type ConflictDetector struct {
	SuppressionWindow time.Duration
}

// NewConflictDetector creates a detector; a non-positive window falls back to the default
func NewConflictDetector(window time.Duration) ConflictDetector {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return ConflictDetector{SuppressionWindow: window}
}

// Classify decides whether change is a genuine conflict for record.
//
// Only synced records are considered. Version comparison applies when the change
// is for the composite itself, since component products carry their own versions.
func (d ConflictDetector) Classify(record *SyncRecord, change ProductChange) Verdict {
	if record == nil || record.Status != SyncStatusSynced {
		return VerdictNotApplicable
	}
	versioned := change.Version > 0 && change.ResourceID == record.ExternalID()
	if versioned {
		switch {
		case change.Version == record.LastPushedVersion:
			return VerdictEcho
		case change.Version < record.LastPushedVersion:
			return VerdictStale
		}
	}
	if record.LastPushedAt != nil {
		at := change.observedAt()
		pushed := *record.LastPushedAt
		if !at.Before(pushed) && at.Sub(pushed) <= d.SuppressionWindow {
			return VerdictEcho
		}
		// A newer composite version outranks an older timestamp.
		if at.Before(pushed) && !versioned {
			return VerdictStale
		}
	}
	return VerdictConflict
}

// ConflictReason describes a product change for the reviewer
func ConflictReason(change ProductChange) string {
	if change.Version > 0 {
		return fmt.Sprintf("external_edit:%s@v%d", change.ResourceID, change.Version)
	}
	return "external_edit:" + change.ResourceID
}

// ComponentDeletedReason describes a removed component product for the reviewer
func ComponentDeletedReason(productID string) string {
	return "component_deleted:" + productID
}
