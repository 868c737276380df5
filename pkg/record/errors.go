package record

import "errors"

// Sentinel errors shared by record store implementations.
var (
	// ErrImageNotFound is returned when no record exists for the given id.
	ErrImageNotFound = errors.New("image not found")

	// ErrInvalidTransition is returned when a conditional status transition
	// fails because the record is no longer in the expected state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyProcessed is returned by reprocess requests on records that
	// have already been accepted.
	ErrAlreadyProcessed = errors.New("image already processed")
)
