package servlet

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState is returned when an operation is not valid in the
	// current lifecycle state: mutating a committed response, opening both the
	// byte and text views of a body, touching an invalidated session, or
	// registering components after initialization.
	ErrIllegalState = errors.New("illegal state")

	// ErrInvalidArgument is returned for malformed input such as an empty URL
	// pattern or a nil servlet.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported is returned by operations the container deliberately
	// does not implement.
	ErrUnsupported = errors.New("operation not supported")

	// ErrUnsupportedEncoding is returned when a character encoding name is
	// not recognized.
	ErrUnsupportedEncoding = errors.New("unsupported character encoding")
)

// Error is the application-level failure a servlet or filter returns when it
// cannot complete a request or initialize.
type Error struct {
	Message string
	Cause   error
}

// NewError builds an Error, optionally wrapping a cause.
func NewError(msg string, cause error) *Error {
	return &Error{Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "servlet: " + e.Message
	}
	return fmt.Sprintf("servlet: %s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }
