package eventsapi

import (
	"errors"
	"fmt"
)

// ValidationError is returned when a detail id is rejected before any
// request is made.
type ValidationError struct {
	Raw string
	Min int
	Max int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid event ID. Must be between %d and %d.", e.Min, e.Max)
}

// APIError is a non-success HTTP status from the upstream.
type APIError struct {
	// Op is the human-readable operation, e.g. "fetch events" or "fetch event 3".
	Op         string
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Failed to %s: %s", e.Op, e.Status)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
