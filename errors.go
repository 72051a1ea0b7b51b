package folio

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is matched by every *ValidationError.
	ErrInvalid = errors.New("invalid transaction")
	// ErrOversell is matched by every *OversellError.
	ErrOversell = errors.New("sell quantity exceeds available position")
)

// ValidationError reports a transaction field that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// OversellError reports a sell larger than the position held.
type OversellError struct {
	Asset     string
	Requested Quantity
	Available Quantity
}

func (e *OversellError) Error() string {
	return fmt.Sprintf("cannot sell %v of %s, position is only %v", e.Requested, e.Asset, e.Available)
}

func (e *OversellError) Unwrap() error { return ErrOversell }
