/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  The closed set of domain error kinds every component returns. Callers
  classify failures with errors.Is against the sentinels; the structured
  types carry context and unwrap to the matching sentinel.

ERROR KINDS:
  Validation          malformed input or structural rule violation
  Conflict            state already decided, duplicate name, overlap
  NotFound            missing leave type / policy / request / balance
  InsufficientBalance live-state shortage, distinct from validation
  Persistence         storage failure, transient and retryable

USAGE:
  if errors.Is(err, leave.ErrInsufficientBalance) { ... }

  var nf *leave.NotFoundError
  if errors.As(err, &nf) { log.Printf("missing %s %s", nf.Resource, nf.ID) }
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPersistence         = errors.New("persistence failure")

	// ErrVersionConflict is returned by BalanceStore.UpdateBalance and
	// RequestStore conditional updates when the optimistic check fails.
	// The ledger retries; it never escapes to callers.
	ErrVersionConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input. Recoverable by correcting input.
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a state collision: an already-decided request, a
// duplicate active catalog name, an overlapping request.
type ConflictError struct {
	Resource string
	Detail   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientBalanceError reports that a mutation would drive Available
// negative. Depends on live ledger state, so it is not a ValidationError.
type InsufficientBalanceError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
	Available   Days
	Requested   Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s/%d: available %s, requested %s",
		e.EmployeeID, e.LeaveTypeID, e.Year, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// PersistenceError wraps a storage collaborator failure. Treated as
// transient by callers; never swallowed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsRetryable reports whether the failure might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrVersionConflict)
}
