// Package usererr marks errors that the operator can fix by changing
// configuration, flags or environment, as opposed to runtime failures.
package usererr

import (
	"errors"
	"fmt"
)

// Error is a caller-correctable failure. Its message is meant to be shown
// as-is, without stack detail.
type Error struct {
	msg string
	err error
}

// New returns a user error with the given message.
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Newf returns a user error with a formatted message. A %w verb is honoured
// so the cause stays reachable through errors.Is and errors.As.
func Newf(format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{msg: wrapped.Error(), err: errors.Unwrap(wrapped)}
}

func (e *Error) Error() string { return e.msg }

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether err or anything it wraps is a user error.
func Is(err error) bool {
	var target *Error
	return errors.As(err, &target)
}
