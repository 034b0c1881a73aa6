package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a content item does not exist.
var ErrNotFound = errors.New("content item not found")

// ErrAlreadyExists is returned when creating a content item whose ID is
// already taken. The intake path treats it as a redelivered event, not a
// failure.
var ErrAlreadyExists = errors.New("content item already exists")

// ErrStaleTransition is returned when an item is no longer in any of the
// statuses a transition expected. Callers treat it as "someone else got there
// first" and no-op; it is how concurrent workers avoid double-processing.
var ErrStaleTransition = errors.New("content item no longer in expected status")

// ErrDuplicateReport is returned when a reporter has already reported the
// same content item.
var ErrDuplicateReport = errors.New("content already reported by this user")

// ValidationError is a malformed-input rejection. It surfaces synchronously
// to the caller and is never recorded as a moderation decision.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
