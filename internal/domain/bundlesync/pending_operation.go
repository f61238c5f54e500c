package bundlesync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind says whether the publisher creates or updates the composite
type OperationKind string

const (
	OperationKindCreate OperationKind = "create"
	OperationKindUpdate OperationKind = "update"
)

// OperationStep is the publisher state persisted on the pending operation.
// Terminal outcomes delete the row, so there is no terminal step.
type OperationStep string

const (
	StepSubmit   OperationStep = "submit"
	StepPoll     OperationStep = "poll"
	StepFinalize OperationStep = "finalize"
)

// IsValid returns true if the step is known
func (s OperationStep) IsValid() bool {
	return s == StepSubmit || s == StepPoll || s == StepFinalize
}

// BackoffPolicy bounds operation-status polling
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	MaxWait time.Duration
}

// DefaultBackoffPolicy polls after 1s, doubling to 8s, for at most 60s
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial: time.Second,
		Max:     8 * time.Second,
		MaxWait: 60 * time.Second,
	}
}

// Delay returns the wait before poll number attempt (zero-based): min(Initial*2^attempt, Max)
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// PendingOperation tracks one in-flight asynchronous publish of a bundle
type PendingOperation struct {
	// ID doubles as the idempotency token of a create submission
	ID                  uuid.UUID
	BundleID            uuid.UUID
	Kind                OperationKind
	Step                OperationStep
	PlatformOperationID string
	ExternalID          string
	Attempts            int
	NextPollAt          time.Time
	StartedAt           time.Time
	LastError           string
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewPendingOperation creates an operation in the submit step.
// A known externalID makes it an update so retries never re-create.
func NewPendingOperation(bundleID uuid.UUID, externalID string, now time.Time) *PendingOperation {
	kind := OperationKindCreate
	if externalID != "" {
		kind = OperationKindUpdate
	}
	return &PendingOperation{
		ID:         uuid.New(),
		BundleID:   bundleID,
		Kind:       kind,
		Step:       StepSubmit,
		ExternalID: externalID,
		NextPollAt: now,
		StartedAt:  now,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IdempotencyKey is the token sent with a create submission
func (o *PendingOperation) IdempotencyKey() string {
	return o.ID.String()
}

// Deadline is the instant after which polling gives up
func (o *PendingOperation) Deadline(p BackoffPolicy) time.Time {
	return o.StartedAt.Add(p.MaxWait)
}

// Expired reports whether the polling bound has been reached
func (o *PendingOperation) Expired(p BackoffPolicy, now time.Time) bool {
	return !now.Before(o.Deadline(p))
}

// Submitted records the platform handle and schedules the first poll.
// The polling clock starts at submission.
func (o *PendingOperation) Submitted(handle *OperationHandle, p BackoffPolicy, now time.Time) error {
	if handle == nil || handle.OperationID == "" {
		return fmt.Errorf("%w: submission returned no operation id", ErrTerminalExternal)
	}
	o.PlatformOperationID = handle.OperationID
	o.Step = StepPoll
	o.Attempts = 0
	o.StartedAt = now
	o.LastError = ""
	o.ScheduleNextPoll(p, now)
	return nil
}

// ScheduleNextPoll sets NextPollAt from the backoff schedule, clamped to the deadline
func (o *PendingOperation) ScheduleNextPoll(p BackoffPolicy, now time.Time) {
	next := now.Add(p.Delay(o.Attempts))
	if deadline := o.Deadline(p); next.After(deadline) {
		next = deadline
	}
	o.NextPollAt = next
	o.UpdatedAt = now
}

// StillRunning counts a poll that observed RUNNING and schedules the next one
func (o *PendingOperation) StillRunning(p BackoffPolicy, now time.Time) {
	o.Attempts++
	o.ScheduleNextPoll(p, now)
}

// Completed records the created resource and moves to finalize
func (o *PendingOperation) Completed(resourceID string, now time.Time) {
	o.Attempts++
	if resourceID != "" {
		o.ExternalID = resourceID
	}
	o.Step = StepFinalize
	o.NextPollAt = now
	o.UpdatedAt = now
}

// Deferred keeps the current step and retries after delay
func (o *PendingOperation) Deferred(err error, delay time.Duration, now time.Time) {
	if err != nil {
		o.LastError = err.Error()
	}
	o.NextPollAt = now.Add(delay)
	o.UpdatedAt = now
}
