package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrInvalidID indicates a stream id that is not a canonical UUID.
	ErrInvalidID = errors.New("invalid stream id")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
)
