package domain

import "errors"

var (
	// ErrInsufficientFunds is returned when a debit exceeds the ledger balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUploadFailed is returned when an input file could not be stored.
	ErrUploadFailed = errors.New("upload failed")
	// ErrInvalidState is returned when an order is not in the state an operation requires.
	ErrInvalidState = errors.New("invalid order state")
	// ErrDuplicateResult is returned when a result already exists for an order.
	ErrDuplicateResult = errors.New("result already exists")
	// ErrConflict is returned when a concurrent writer won a compare-and-set race.
	ErrConflict = errors.New("conflicting update")
	// ErrNotFound is returned when a record or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned by a compare-and-set transition whose expected state did not match.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrReferenceMismatch is returned when an idempotency reference is reused with different parameters.
	ErrReferenceMismatch = errors.New("reference reused with different parameters")
	// ErrTransient marks failures that are safe to retry.
	ErrTransient = errors.New("transient failure")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateSubmitKey is returned when an order with the same submit key already exists.
	ErrDuplicateSubmitKey = errors.New("duplicate submit key")
)

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
