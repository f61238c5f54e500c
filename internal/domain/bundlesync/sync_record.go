package bundlesync

import (
	"fmt"
	"time"

	"github.com/fitmarket/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateTypeSyncRecord is the aggregate type used on domain events
const AggregateTypeSyncRecord = "SyncRecord"

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus is the external representation state of a bundle
type SyncStatus string

const (
	SyncStatusDraft       SyncStatus = "draft"
	SyncStatusPendingPush SyncStatus = "pending_push"
	SyncStatusSynced      SyncStatus = "synced"
	SyncStatusConflict    SyncStatus = "conflict"
	SyncStatusFailed      SyncStatus = "failed"
)

// IsValid returns true if the status is one of the known states
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusDraft, SyncStatusPendingPush, SyncStatusSynced, SyncStatusConflict, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// TransitionCause
// ---------------------------------------------------------------------------

// TransitionCause names the action that drives a status change.
// Edges in the transition table are only legal for specific causes.
type TransitionCause string

const (
	CauseApproval         TransitionCause = "approval"
	CausePublishSucceeded TransitionCause = "publish_succeeded"
	CausePublishFailed    TransitionCause = "publish_failed"
	CauseExternalEdit     TransitionCause = "external_edit"
	CauseComponentDeleted TransitionCause = "component_deleted"
	CauseRepublish        TransitionCause = "republish"
	CauseReconcilePush    TransitionCause = "reconcile_push"
	CauseReconcilePull    TransitionCause = "reconcile_pull"
	CauseManualRetry      TransitionCause = "manual_retry"
)

// ---------------------------------------------------------------------------
// ErrorKind
// ---------------------------------------------------------------------------

// ErrorKind classifies the last failure recorded on a SyncRecord so operators
// can tell a platform rejection from a timeout.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindTerminal         ErrorKind = "terminal"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindFinalize         ErrorKind = "finalize"
	ErrorKindExternalMissing  ErrorKind = "external_missing"
	ErrorKindComponentDeleted ErrorKind = "component_deleted"
)

// ---------------------------------------------------------------------------
// Transition table
// ---------------------------------------------------------------------------

type edge struct {
	from SyncStatus
	to   SyncStatus
}

var transitions = map[edge][]TransitionCause{
	{SyncStatusDraft, SyncStatusPendingPush}:    {CauseApproval},
	{SyncStatusPendingPush, SyncStatusSynced}:   {CausePublishSucceeded},
	{SyncStatusPendingPush, SyncStatusFailed}:   {CausePublishFailed},
	{SyncStatusSynced, SyncStatusConflict}:      {CauseExternalEdit, CauseComponentDeleted},
	{SyncStatusSynced, SyncStatusPendingPush}:   {CauseRepublish},
	{SyncStatusSynced, SyncStatusFailed}:        {CauseComponentDeleted},
	{SyncStatusConflict, SyncStatusPendingPush}: {CauseReconcilePush},
	{SyncStatusConflict, SyncStatusSynced}:      {CauseReconcilePull},
	{SyncStatusFailed, SyncStatusPendingPush}:   {CauseManualRetry},
}

// CanTransition reports whether from -> to is legal for the given cause
func CanTransition(from, to SyncStatus, cause TransitionCause) bool {
	for _, c := range transitions[edge{from, to}] {
		if c == cause {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// ExternalRef
// ---------------------------------------------------------------------------

// ExternalRef maps a bundle onto the platform's composite offering.
// The ID is immutable once set; Handle and AdminURL may be refreshed.
type ExternalRef struct {
	ID       string    `json:"id"`
	Handle   string    `json:"handle,omitempty"`
	AdminURL string    `json:"admin_url,omitempty"`
	LinkedAt time.Time `json:"linked_at"`
}

// PushMarker identifies the platform-side state produced by our last push
type PushMarker struct {
	Version   int64
	UpdatedAt time.Time
}

// ---------------------------------------------------------------------------
// SyncRecord
// ---------------------------------------------------------------------------

// SyncRecord is the persisted synchronization state of one bundle.
// All status changes go through Transition so the table above is the only
// source of legal edges.
type SyncRecord struct {
	shared.BaseAggregateRoot
	BundleID          uuid.UUID
	ExternalRef       *ExternalRef
	Status            SyncStatus
	LastSyncedAt      *time.Time
	LastError         string
	ErrorKind         ErrorKind
	LastPushedVersion int64
	LastPushedAt      *time.Time
	ConflictReason    string
}

// NewSyncRecord creates a draft record for a bundle
func NewSyncRecord(bundleID uuid.UUID) (*SyncRecord, error) {
	if bundleID == uuid.Nil {
		return nil, fmt.Errorf("%w: bundle id is required", ErrInvalidBundle)
	}
	return &SyncRecord{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BundleID:          bundleID,
		Status:            SyncStatusDraft,
	}, nil
}

// ExternalID returns the platform resource id, or "" before the first push
func (r *SyncRecord) ExternalID() string {
	if r.ExternalRef == nil {
		return ""
	}
	return r.ExternalRef.ID
}

// HasExternal reports whether the bundle exists on the platform
func (r *SyncRecord) HasExternal() bool {
	return r.ExternalID() != ""
}

// Transition moves the record to a new status if the edge is legal for cause.
func (r *SyncRecord) Transition(to SyncStatus, cause TransitionCause, now time.Time) error {
	return r.transition(to, cause, now, nil)
}

// transition validates the edge, applies mutate and only then records the event,
// so subscribers observe the final field values.
func (r *SyncRecord) transition(to SyncStatus, cause TransitionCause, now time.Time, mutate func()) error {
	from := r.Status
	if from == SyncStatusPendingPush && to == SyncStatusPendingPush {
		return ErrPushInProgress
	}
	if !CanTransition(from, to, cause) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, from, to, cause)
	}
	if mutate != nil {
		mutate()
	}
	r.Status = to
	r.Touch(now)
	r.AddDomainEvent(NewSyncStatusChangedEvent(r, from, cause))
	return nil
}

// BeginPush moves the record into pending_push and clears the previous failure.
func (r *SyncRecord) BeginPush(cause TransitionCause, now time.Time) error {
	return r.transition(SyncStatusPendingPush, cause, now, func() {
		r.LastError = ""
		r.ErrorKind = ErrorKindNone
		r.ConflictReason = ""
	})
}

// LinkExternal records the platform resource id. Once set the id cannot change.
func (r *SyncRecord) LinkExternal(ref ExternalRef, now time.Time) error {
	if ref.ID == "" {
		return fmt.Errorf("%w: empty external id", ErrInvalidBundle)
	}
	if r.ExternalRef != nil {
		if r.ExternalRef.ID != ref.ID {
			return fmt.Errorf("%w: external id already set to %s", ErrIllegalTransition, r.ExternalRef.ID)
		}
		if ref.Handle != "" {
			r.ExternalRef.Handle = ref.Handle
		}
		if ref.AdminURL != "" {
			r.ExternalRef.AdminURL = ref.AdminURL
		}
		return nil
	}
	if ref.LinkedAt.IsZero() {
		ref.LinkedAt = now
	}
	r.ExternalRef = &ref
	return nil
}

// CompletePush marks the record synced and stores the echo marker.
func (r *SyncRecord) CompletePush(marker PushMarker, now time.Time) error {
	if !r.HasExternal() {
		return fmt.Errorf("%w: push completed without external id", ErrIllegalTransition)
	}
	return r.transition(SyncStatusSynced, CausePublishSucceeded, now, func() {
		r.markPushed(marker, now)
	})
}

// FailPush marks the push as failed and keeps the classified error.
// The external reference, if any, is kept so a retry updates instead of re-creating.
func (r *SyncRecord) FailPush(cause error, now time.Time) error {
	return r.transition(SyncStatusFailed, CausePublishFailed, now, func() {
		r.ErrorKind = ClassifyError(cause)
		if cause != nil {
			r.LastError = cause.Error()
		}
	})
}

// FlagConflict records an external edit that did not originate from our push.
func (r *SyncRecord) FlagConflict(cause TransitionCause, reason string, now time.Time) error {
	return r.transition(SyncStatusConflict, cause, now, func() {
		r.ConflictReason = reason
		if cause == CauseComponentDeleted {
			r.ErrorKind = ErrorKindComponentDeleted
		}
	})
}

// FlagExternalMissing marks a synced record failed because its composite is gone.
func (r *SyncRecord) FlagExternalMissing(reason string, now time.Time) error {
	return r.transition(SyncStatusFailed, CauseComponentDeleted, now, func() {
		r.ErrorKind = ErrorKindExternalMissing
		r.LastError = reason
	})
}

// AcceptExternal resolves a conflict pull-wins: local state now mirrors the platform.
func (r *SyncRecord) AcceptExternal(marker PushMarker, now time.Time) error {
	if r.Status != SyncStatusConflict {
		return ErrNotInConflict
	}
	return r.transition(SyncStatusSynced, CauseReconcilePull, now, func() {
		r.markPushed(marker, now)
	})
}

func (r *SyncRecord) markPushed(marker PushMarker, now time.Time) {
	r.LastPushedVersion = marker.Version
	at := marker.UpdatedAt
	if at.IsZero() {
		at = now
	}
	r.LastPushedAt = &at
	synced := now
	r.LastSyncedAt = &synced
	r.LastError = ""
	r.ErrorKind = ErrorKindNone
	r.ConflictReason = ""
}
