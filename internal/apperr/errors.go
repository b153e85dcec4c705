// Package apperr defines the error taxonomy shared by the poll, vote and like actions.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a poll or option does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when an action for the same poll and user is already in flight.
	ErrBusy = errors.New("another action for this poll is in progress")
	// ErrNotAuthenticated is the AuthenticationError returned when no session is present.
	ErrNotAuthenticated = &AuthenticationError{Reason: "not authenticated"}
)

// ValidationError reports input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthenticationError reports a write attempted without a valid session.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return e.Reason }

// PersistenceError reports a write rejected by the store.
type PersistenceError struct {
	Op  string
	Err error
	// Conflict is set for unique constraint violations.
	Conflict bool
	// BadReference is set for foreign key violations.
	BadReference bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already is one (or is nil).
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
