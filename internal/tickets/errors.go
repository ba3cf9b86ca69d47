package tickets

import (
	"errors"
	"fmt"
)

var (
	// ErrTicketNotFound is the sentinel for lookups and toggles on ids or
	// numbers that do not exist.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrDuplicateTicketNumber surfaces when the storage uniqueness
	// constraint still fires after the bounded regenerate-and-retry loop.
	ErrDuplicateTicketNumber = errors.New("ticket number already exists")
)

// IsClientError reports whether err is caller-correctable input trouble
// rather than a storage or infrastructure failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	var re *ReferenceError
	return errors.As(err, &ve) || errors.As(err, &re)
}

// ValidationError reports malformed or missing input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReferenceError reports a ride or stop id that does not exist.
type ReferenceError struct {
	Kind string // "ride" or "stop"
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Kind, e.ID)
}
