package core

import (
	"errors"
	"fmt"

	"farmcore/pkg/domain"
)

var (
	// ErrInvalidInput reports a draft rejected by validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAllocationConflict reports an identifier that could not be reserved
	// without colliding with an existing record.
	ErrAllocationConflict = errors.New("identifier allocation conflict")
	// ErrPayloadEncodingFailed reports a payload that could not be rendered or
	// stored. The animal record it belongs to is already committed.
	ErrPayloadEncodingFailed = errors.New("payload encoding failed")
)

// ErrNotFound indicates the requested entity does not exist.
type ErrNotFound struct {
	Entity domain.EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is matches domain.ErrNotFound.
func (e ErrNotFound) Is(target error) bool { return target == domain.ErrNotFound }

// AllocationConflictError carries the prefix and number that collided.
type AllocationConflictError struct {
	Prefix string
	Number int64
	Err    error
}

func (e *AllocationConflictError) Error() string {
	if e.Number > 0 {
		return fmt.Sprintf("allocate %s/%03d: %v", e.Prefix, e.Number, e.Err)
	}
	return fmt.Sprintf("allocate %s: %v", e.Prefix, e.Err)
}

func (e *AllocationConflictError) Unwrap() error { return e.Err }

// Is matches ErrAllocationConflict.
func (e *AllocationConflictError) Is(target error) bool { return target == ErrAllocationConflict }

// PayloadEncodingError names the animal whose payload failed. The identifier
// stays assigned; RegeneratePayload retries the encoding.
type PayloadEncodingError struct {
	AnimalID string
	Err      error
}

func (e *PayloadEncodingError) Error() string {
	return fmt.Sprintf("payload for %s: %v", e.AnimalID, e.Err)
}

func (e *PayloadEncodingError) Unwrap() error { return e.Err }

// Is matches ErrPayloadEncodingFailed.
func (e *PayloadEncodingError) Is(target error) bool { return target == ErrPayloadEncodingFailed }

func invalidInput(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
