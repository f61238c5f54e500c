package bundlesync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fitmarket/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// State errors (surfaced to API callers)
// ---------------------------------------------------------------------------

var (
	ErrBundleNotFound       = shared.NewDomainError("NOT_FOUND", "Bundle not found")
	ErrSyncRecordNotFound   = shared.NewDomainError("NOT_FOUND", "Sync record not found")
	ErrOperationNotFound    = shared.NewDomainError("NOT_FOUND", "Pending operation not found")
	ErrIllegalTransition    = shared.NewDomainError("INVALID_STATE", "Sync status transition is not allowed")
	ErrPushInProgress       = shared.NewDomainError("PUSH_IN_PROGRESS", "A push is already in progress for this bundle")
	ErrBundleNotApproved    = shared.NewDomainError("INVALID_STATE", "Bundle is not approved for publication")
	ErrInvalidBundle        = shared.NewDomainError("INVALID_INPUT", "Bundle is not valid for publication")
	ErrNotInConflict        = shared.NewDomainError("INVALID_STATE", "Bundle is not in conflict")
	ErrInvalidDirection     = shared.NewDomainError("INVALID_INPUT", "Reconcile direction must be push or pull")
	ErrRecordAlreadyExists  = shared.NewDomainError("ALREADY_EXISTS", "Sync record already exists for this bundle")
	ErrConcurrentSyncUpdate = shared.ErrConcurrencyConflict
)

// ---------------------------------------------------------------------------
// Ingestion errors
// ---------------------------------------------------------------------------

var (
	ErrSignatureMissing = errors.New("bundlesync: webhook signature missing")
	ErrSignatureInvalid = errors.New("bundlesync: webhook signature invalid")
	ErrMalformedPayload = errors.New("bundlesync: malformed webhook payload")
)

// ---------------------------------------------------------------------------
// External platform errors
// ---------------------------------------------------------------------------

var (
	ErrTransientExternal = errors.New("bundlesync: transient platform error")
	ErrTerminalExternal  = errors.New("bundlesync: platform rejected request")
	ErrPublishTimeout    = errors.New("bundlesync: timed out waiting for platform operation")
	ErrFinalizeFailed    = errors.New("bundlesync: finalize step failed")
	ErrExternalNotFound  = errors.New("bundlesync: external resource not found")
)

// PlatformError carries the classification and messages returned by the platform.
type PlatformError struct {
	Transient  bool
	StatusCode int
	Messages   []string
	Cause      error
}

// Error implements the error interface
func (e *PlatformError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "platform %s error", kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the classification sentinel and the underlying cause.
func (e *PlatformError) Unwrap() []error {
	errs := []error{ErrTerminalExternal}
	if e.Transient {
		errs[0] = ErrTransientExternal
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewTransientError wraps a retryable failure such as a network error, 5xx or rate limit.
func NewTransientError(statusCode int, cause error) *PlatformError {
	return &PlatformError{Transient: true, StatusCode: statusCode, Cause: cause}
}

// NewTerminalError builds a non-retryable platform rejection, keeping the platform's messages.
func NewTerminalError(statusCode int, messages ...string) *PlatformError {
	return &PlatformError{StatusCode: statusCode, Messages: messages}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientExternal)
}

// ClassifyError maps an error from a publish step onto the ErrorKind stored on the SyncRecord.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrPublishTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrFinalizeFailed):
		return ErrorKindFinalize
	case errors.Is(err, ErrExternalNotFound):
		return ErrorKindExternalMissing
	case errors.Is(err, ErrTransientExternal):
		return ErrorKindTransient
	default:
		return ErrorKindTerminal
	}
}
