package services

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ValidationError rejects a submission before any state is written.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err rejects the input rather than signalling a fault.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
