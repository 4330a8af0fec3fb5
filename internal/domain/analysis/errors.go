package analysis

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an id or key matches no record. Malformed ids map here too.
var ErrNotFound = errors.New("analysis not found")

// ErrStoreUnavailable wraps connection and timeout failures talking to the document store.
var ErrStoreUnavailable = errors.New("document store unavailable")

// ValidationError reports malformed caller input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a *ValidationError
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
