package core

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/kotoimi/internal/store"
)

// Sentinel errors for the public operations.
var (
	ErrValidation       = errors.New("validation failed")
	ErrMissingParameter = errors.New("missing parameter")
	ErrNotFound         = store.ErrNotFound
)

// ValidationError names the offending field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func missing(param string) error {
	return fmt.Errorf("%w: %s is required", ErrMissingParameter, param)
}
