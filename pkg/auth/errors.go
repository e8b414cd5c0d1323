package auth

import (
	"strings"

	"github.com/entrhq/authstate/internal/usererr"
)

// UserError is a misconfiguration the caller can fix: an unknown profile,
// missing credentials, an invalid profile name, a lock timeout or a web
// server that would not come up.
type UserError = usererr.Error

// IsUserError reports whether err is, or wraps, a UserError.
func IsUserError(err error) bool {
	return usererr.Is(err)
}

// ProfileFailure is one failed profile in an ensure run.
type ProfileFailure struct {
	Profile string
	Err     error
}

// EnsureError aggregates every profile that failed during Ensure. Cause is
// set when the run stopped early, e.g. on cancellation.
type EnsureError struct {
	Failures []ProfileFailure
	Cause    error
}

func (e *EnsureError) Error() string {
	var b strings.Builder
	b.WriteString("Auth ensure failed:")
	for _, f := range e.Failures {
		b.WriteString("\n")
		b.WriteString(f.Profile)
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	if e.Cause != nil {
		b.WriteString("\n")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes each profile's error and the cause to errors.Is and
// errors.As.
func (e *EnsureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Profiles returns the failed profile names in processing order.
func (e *EnsureError) Profiles() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Profile
	}
	return names
}
