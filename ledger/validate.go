package ledger

import (
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	DefaultMaxQuantity = 100000
	MaxBatchIDLength   = 50
)

// Validator checks a proposed quantity and batch before they reach the
// ledger. The zero value uses DefaultMaxQuantity.
type Validator struct {
	MaxQuantity int64
}

func NewValidator(maxQuantity int64) Validator {
	return Validator{MaxQuantity: maxQuantity}
}

func (v Validator) limit() int64 {
	if v.MaxQuantity <= 0 {
		return DefaultMaxQuantity
	}
	return v.MaxQuantity
}

// Validate returns the first violated rule as a *ValidationError, or nil.
// Rules are checked in a fixed order: finite, non-zero, whole, in range,
// batch present, batch length.
func (v Validator) Validate(qty float64, batchID string) error {
	if math.IsNaN(qty) || math.IsInf(qty, 0) {
		return newValidationError(ErrNonFiniteQuantity, "Quantity must be a valid number.")
	}
	if qty == 0 {
		return newValidationError(ErrZeroQuantity, "Quantity cannot be zero.")
	}
	if qty != math.Trunc(qty) {
		return newValidationError(ErrFractionalQuantity, "Quantity must be a whole number (no decimals).")
	}
	if limit := v.limit(); math.Abs(qty) > float64(limit) {
		p := message.NewPrinter(language.English)
		return &ValidationError{
			Rule:    ErrQuantityOutOfRange,
			Message: p.Sprintf("Quantity exceeds maximum allowed limit of %d.", limit),
		}
	}

	if strings.TrimSpace(batchID) == "" {
		return newValidationError(ErrMissingBatchID, "Batch ID is required.")
	}
	if utf8.RuneCountInString(batchID) > MaxBatchIDLength {
		return newValidationError(ErrBatchIDTooLong, "Batch ID cannot exceed %d characters.", MaxBatchIDLength)
	}
	return nil
}
