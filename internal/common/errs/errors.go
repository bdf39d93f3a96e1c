// Package errs holds the error taxonomy shared by inbound processing and
// outbound sync.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"go-hermes/internal/common/models"
)

// MalformedEventError means a payload failed validation. The sender must still
// get an acknowledgement so it does not retry forever.
type MalformedEventError struct {
	Source models.System
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Source, e.Reason)
}

func Malformed(source models.System, format string, args ...any) error {
	return &MalformedEventError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// UnresolvedParentError is returned when a child entity references a parent
// that does not exist locally. The intent is dropped.
type UnresolvedParentError struct {
	Entity    models.EntityType
	Parent    models.EntityType
	Reference string
}

func (e *UnresolvedParentError) Error() string {
	return fmt.Sprintf("%s: parent %s %s not found", e.Entity, e.Parent, e.Reference)
}

// ExternalAPIError wraps a failed call to System A, the CRM or the calendar.
type ExternalAPIError struct {
	System     models.System
	StatusCode int
	Op         string
	Err        error
}

func (e *ExternalAPIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: status %d: %v", e.System, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.System, e.Op, e.StatusCode)
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed later: transport failures
// (StatusCode 0), rate limiting and server errors.
func (e *ExternalAPIError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NotFound reports a 404 from the remote system.
func (e *ExternalAPIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// DuplicateMatchError means a natural-key lookup matched more than one row.
type DuplicateMatchError struct {
	Entity     models.EntityType
	Key        string
	Value      string
	Candidates []int64
}

func (e *DuplicateMatchError) Error() string {
	return fmt.Sprintf("%s: %d candidates match %s=%q: %v", e.Entity, len(e.Candidates), e.Key, e.Value, e.Candidates)
}

// ConcurrencyConflictError means a row lock could not be taken in time. It is
// the one inbound error the sender should retry.
type ConcurrencyConflictError struct {
	Entity models.EntityType
	ID     string
	Err    error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("lock timeout on %s %s: %v", e.Entity, e.ID, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// BookingError rejects a callbooker meeting request. The form shows Reason to
// the person booking.
type BookingError struct {
	Reason string
}

func (e *BookingError) Error() string { return "meeting booking rejected: " + e.Reason }

func IsBooking(err error) bool {
	var target *BookingError
	return errors.As(err, &target)
}

func IsMalformed(err error) bool {
	var target *MalformedEventError
	return errors.As(err, &target)
}

func IsUnresolvedParent(err error) bool {
	var target *UnresolvedParentError
	return errors.As(err, &target)
}

func IsDuplicateMatch(err error) bool {
	var target *DuplicateMatchError
	return errors.As(err, &target)
}

func IsConcurrencyConflict(err error) bool {
	var target *ConcurrencyConflictError
	return errors.As(err, &target)
}

// AsExternalAPI unwraps err into an ExternalAPIError when it is one.
func AsExternalAPI(err error) (*ExternalAPIError, bool) {
	var target *ExternalAPIError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
