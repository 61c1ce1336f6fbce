/*
errors.go - Centralized error types for the installment engine

ERROR CATEGORIES:
  1. Input errors - malformed edit requests (row index, field name)
  2. Lookup errors - missing policy, installment or user
  3. Write errors - a single row or policy write that failed during save

  Malformed user INPUT (a value buffer that does not parse) is NOT an error:
  the session silently drops the edit and returns to viewing.

USAGE:
    if errors.Is(err, parcela.ErrPolicyNotFound) { ... }

    var rowErr *parcela.RowWriteError
    if errors.As(err, &rowErr) { log(rowErr.Numero) }
*/
package parcela

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPolicyNotFound is returned when a referenced policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInstallmentNotFound is returned by Update for an unknown installment id.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrNoCurrentUser is returned when no user is available for inserts.
	ErrNoCurrentUser = errors.New("no current user")

	// ErrRowOutOfRange is returned when an edit targets a row that doesn't exist.
	ErrRowOutOfRange = errors.New("row index out of range")

	// ErrUnknownField is returned when an edit targets a field other than
	// valor or vencimento.
	ErrUnknownField = errors.New("unknown editable field")

	// ErrNotEditing is returned when a buffer is written while viewing.
	ErrNotEditing = errors.New("no row is being edited")

	// ErrInvalidPolicy is returned when a policy document cannot be used.
	ErrInvalidPolicy = errors.New("invalid policy document")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RowWriteError records which row failed during a save and how.
type RowWriteError struct {
	Index  int
	Numero int
	Op     WriteOp
	Err    error
}

func (e *RowWriteError) Error() string {
	return fmt.Sprintf("%s parcela %d (row %d): %v", e.Op, e.Numero, e.Index, e.Err)
}

func (e *RowWriteError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to an invalid request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRowOutOfRange) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrNotEditing) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrNoCurrentUser)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrInstallmentNotFound)
}
