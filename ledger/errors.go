/*
errors.go - Error types for the stock ledger

ERROR CATEGORIES:
  1. Validation errors - Caller input rejected before anything is stored.
     Expected and frequent, always fixable by correcting the input.
  2. Storage errors - The durable store could not complete a write or read.
     Surfaced with the store's own error intact, never retried here.

USAGE:
  if errors.Is(err, ledger.ErrZeroQuantity) { ... }

  var verr *ledger.ValidationError
  if errors.As(err, &verr) {
      fmt.Println(verr.Code(), verr.Message)
  }

  if errors.Is(err, ledger.ErrStorageFailure) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNonFiniteQuantity  = errors.New("NonFiniteQuantity")
	ErrZeroQuantity       = errors.New("ZeroQuantity")
	ErrFractionalQuantity = errors.New("FractionalQuantity")
	ErrQuantityOutOfRange = errors.New("QuantityOutOfRange")
	ErrMissingBatchID     = errors.New("MissingBatchId")
	ErrBatchIDTooLong     = errors.New("BatchIdTooLong")

	// ErrMissingSKU is returned by Append when no SKU is given.
	ErrMissingSKU = errors.New("MissingSku")

	// ErrUnknownTransactionType is returned by Append for types outside
	// DISPENSE, RECEIVE and ADJUST.
	ErrUnknownTransactionType = errors.New("UnknownTransactionType")

	// ErrStorageFailure marks every error that originated in the Store.
	ErrStorageFailure = errors.New("storage failure")

	// ErrDuplicateTransactionID is returned by stores when an id is reused.
	ErrDuplicateTransactionID = errors.New("duplicate transaction id")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is a rejected input. Code is the rule name, Message is
// suitable for display.
type ValidationError struct {
	Rule    error
	Message string
}

func newValidationError(rule error, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Rule }

// Code returns the rule name, e.g. "ZeroQuantity".
func (e *ValidationError) Code() string { return e.Rule.Error() }

// StorageError wraps a failure reported by the Store. Both the store's
// error and ErrStorageFailure match with errors.Is.
type StorageError struct {
	Op  string
	SKU SKU
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.SKU, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsStorageFailure returns true if the error came from the durable store.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}
