package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount indicates a non-positive transaction amount.
	ErrInvalidAmount = errors.New("amount must be a positive number")
	// ErrMissingAddress indicates a blank from or to address.
	ErrMissingAddress = errors.New("from address and to address are required")
	// ErrDuplicateID indicates an insert collided with an existing transaction id.
	ErrDuplicateID = errors.New("transaction id already exists")
	// ErrNotFound indicates the transaction is unknown locally and on the ledger.
	ErrNotFound = errors.New("transaction not found")
	// ErrLedgerUnavailable indicates the external ledger is unconfigured or unreachable.
	ErrLedgerUnavailable = errors.New("ledger network unavailable")
	// ErrSubmissionFailed indicates the ledger rejected or errored on submission.
	ErrSubmissionFailed = errors.New("ledger submission failed")
	// ErrConfirmationFailed indicates a delivery confirmation attempt failed; retrying is safe.
	ErrConfirmationFailed = errors.New("delivery confirmation failed")
	// ErrUnauthenticated indicates a mutating call was made without a caller identity.
	ErrUnauthenticated = errors.New("caller is not authenticated")
)

// ValidationError reports caller input that was rejected before anything was persisted.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
