package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrDeckNotFound, ErrTaskNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a usage event with the same request ID).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrAborted is returned when an optimistic transaction is aborted due
	// to a serialization conflict with a concurrent writer. Callers retry
	// the whole read-modify-write with a bounded budget.
	ErrAborted = errors.New("transaction aborted due to conflict")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrDeckNotFound indicates that the requested deck does not exist in the store.
	ErrDeckNotFound = fmt.Errorf("%w: deck", ErrNotFound)

	// ErrSlideNotFound indicates that the requested slide does not exist in the store.
	ErrSlideNotFound = fmt.Errorf("%w: slide", ErrNotFound)

	// ErrTaskNotFound indicates that the requested prompt task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: prompt task", ErrNotFound)

	// ErrQueueEntryNotFound indicates that no claimable queue entry exists for the slide.
	ErrQueueEntryNotFound = fmt.Errorf("%w: queue entry", ErrNotFound)

	// ErrPricingNotFound indicates that no pricing row exists for the model key.
	ErrPricingNotFound = fmt.Errorf("%w: model pricing", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAbortedError checks if the error is a transaction conflict abort.
func IsAbortedError(err error) bool {
	return errors.Is(err, ErrAborted)
}
