package trips

import (
	"fmt"

	"github.com/example/trip-recorder/internal/storage"
)

// ErrNotFound reports that the referenced trip does not exist.
var ErrNotFound = storage.ErrNotFound

// ValidationError identifies the payload field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
