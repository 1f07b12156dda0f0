package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrLockHeld                = errors.New("lock already held")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrReservationMismatch     = errors.New("reservation mismatch")
	ErrNoCommonNetwork         = errors.New("no common transfer network")
	ErrNoFeeData               = errors.New("no fee data for common networks")
	ErrAdapterUnavailable      = errors.New("exchange adapter unavailable")
	ErrInvalidSymbolOnExchange = errors.New("symbol not tradable on exchange")
	ErrValidation              = errors.New("validation failed")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrLegConflict             = errors.New("leg already recorded with a different transaction id")
	ErrNotCancellable          = errors.New("operation not cancellable")
	ErrLiveTradingDisabled     = errors.New("live trading disabled")
)

// ValidationError names the offending field. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
