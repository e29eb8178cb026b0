/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the numbers behind a rejection.

ERROR CATEGORIES:
  1. Validation - bad input, rejected before any datastore access
  2. Capacity   - the 160h per-day cap would be breached
  3. NotFound   - a referenced assignment/user/project/task/entry is missing
  4. Setup      - the leave task or PTO project is missing from the catalog
  5. Sync       - the sync bridge failed after the primary write validated

USAGE:
    var capErr *generic.CapacityExceededError
    if errors.As(err, &capErr) {
        fmt.Println(capErr.MaxOther, capErr.Requested)
    }

SEE ALSO:
  - capacity.go: produces CapacityExceededError
  - api/handlers.go: maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (hours out of range,
	// start after end, missing field).
	ErrValidation = errors.New("validation failed")

	// ErrCapacityExceeded is returned when an allocation would push a user
	// above CapacityHours on at least one day.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSetupIncomplete is returned when the catalog lacks the leave task or
	// the PTO project. This is an operator configuration defect.
	ErrSetupIncomplete = errors.New("setup incomplete")

	// ErrSyncFailure is returned when the sync bridge fails. The triggering
	// write is rolled back with it.
	ErrSyncFailure = errors.New("sync failure")

	// ErrForbidden is returned when a user edits a work-log entry they do not own.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CapacityExceededError reports the busiest day's committed hours
// (excluding the row being changed) and the hours that were requested.
// Merged is set when Requested is the existing+new sum of a merge.
type CapacityExceededError struct {
	UserID    UserID
	Period    Period
	MaxOther  int
	Requested int
	Merged    bool
	Cap       int
}

// Total is the allocation the busiest day would have carried.
func (e *CapacityExceededError) Total() int {
	return e.MaxOther + e.Requested
}

func (e *CapacityExceededError) Error() string {
	if e.Merged {
		return fmt.Sprintf("merging would exceed %d monthly hours: merged hours %dh, max other hours in range %dh, total %dh",
			e.Cap, e.Requested, e.MaxOther, e.Total())
	}
	return fmt.Sprintf("total allocation would exceed %dh on some dates: max existing %dh, requested %dh, available %dh",
		e.Cap, e.MaxOther, e.Requested, e.Available())
}

// Available is the headroom left on the busiest day.
func (e *CapacityExceededError) Available() int {
	if e.Cap-e.MaxOther < 0 {
		return 0
	}
	return e.Cap - e.MaxOther
}

func (e *CapacityExceededError) Unwrap() error {
	return ErrCapacityExceeded
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "assignment", "user", "project", "task", "time entry"
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// SetupIncompleteError names the catalog record that could not be resolved.
type SetupIncompleteError struct {
	Missing string // e.g. `leave task "Leave/Holiday"`
}

func (e *SetupIncompleteError) Error() string {
	return fmt.Sprintf("setup incomplete: %s is not configured", e.Missing)
}

func (e *SetupIncompleteError) Unwrap() error {
	return ErrSetupIncomplete
}

// SyncDirection names which bridge failed.
type SyncDirection string

const (
	SyncToEntries    SyncDirection = "assignment_to_entries"
	SyncToAssignment SyncDirection = "entry_to_assignment"
)

// SyncFailureError wraps the underlying failure of a sync bridge step.
type SyncFailureError struct {
	Direction SyncDirection
	Err       error
}

func (e *SyncFailureError) Error() string {
	return fmt.Sprintf("sync %s failed: %v", e.Direction, e.Err)
}

// Unwrap exposes both the sentinel and the cause, so a setup defect surfaced
// inside the bridge still matches ErrSetupIncomplete.
func (e *SyncFailureError) Unwrap() []error {
	return []error{ErrSyncFailure, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the request and retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSetupError returns true for operator configuration defects.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrSetupIncomplete)
}
