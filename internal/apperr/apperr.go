// Package apperr classifies failures from the matching core and its
// collaborators into the kinds the HTTP layer maps onto status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error classes from the error handling design.
type Kind int

const (
	Internal Kind = iota
	Validation
	Unauthorized
	NotFound
	InvalidState
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "VALIDATION"
	case Unauthorized:
		return "UNAUTHORIZED"
	case NotFound:
		return "NOT_FOUND"
	case InvalidState:
		return "INVALID_STATE"
	case Persistence:
		return "PERSISTENCE"
	default:
		return "INTERNAL"
	}
}

// Error wraps a cause with a Kind so callers can branch without string
// matching on messages.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal when err does not
// carry one (or is nil, where the zero Kind is meaningless to callers that
// should be checking err != nil first).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
