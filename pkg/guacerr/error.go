package guacerr

import (
	"errors"
	"fmt"
)

// Error pairs a Status with a human-readable message. It replaces
// libguac's thread-local (guac_status, message) pair with a value carried
// directly through return values instead of stashed in thread-local
// storage.
type Error struct {
	Status  Status
	Message string
}

// New creates an Error from a status and a formatted message.
func New(status Status, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Is reports whether target is an *Error with the same Status, so that
// errors.Is(err, guacerr.Of(guacerr.ProtocolError)) compares by status and
// ignores the message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Status == other.Status
}

// Of wraps a bare Status for use with errors.Is, e.g.
// errors.Is(err, guacerr.Of(guacerr.ProtocolError)).
func Of(status Status) error {
	return &Error{Status: status}
}

// StatusOf extracts the Status from err if it is (or wraps) a *Error,
// otherwise returns InternalError.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return InternalError
}
