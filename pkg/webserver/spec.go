// Package webserver runs a development server for the duration of an auth
// run. The server is started only when its readiness URL is not already
// answering, and its whole process tree is torn down afterwards.
package webserver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds the wait for the readiness URL.
const DefaultTimeout = 60 * time.Second

// Spec describes the server to supervise.
type Spec struct {
	// Command is an executable, or a shell command line when it contains
	// whitespace or quotes.
	Command string
	Args    []string
	// URL is polled until it answers with a status below 500.
	URL     string
	Timeout time.Duration
	// ReuseExisting skips spawning when URL already answers.
	ReuseExisting bool
	// Env is added on top of the current process environment.
	Env map[string]string
	Dir string
}

// Validate checks that the spec can be run.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("web server command is required")
	}
	if s.URL == "" {
		return errors.New("web server url is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid web server url %q: %w", s.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("web server url %q must use http or https", s.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("web server url %q has no host", s.URL)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("web server timeout must not be negative, got %s", s.Timeout)
	}
	return nil
}

func (s Spec) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// ExitError reports that the server process ended before it became ready.
type ExitError struct {
	Code int
	URL  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Web server exited with code %d before becoming reachable at %s", e.Code, e.URL)
}

// StartupError is returned when the server could not be brought up. It
// wraps *ExitError when the process died early.
type StartupError struct {
	msg string
	err error
}

func (e *StartupError) Error() string { return e.msg }

func (e *StartupError) Unwrap() error { return e.err }

// IsStartupError reports whether err came from bringing the server up
// rather than from the wrapped action.
func IsStartupError(err error) bool {
	var se *StartupError
	return errors.As(err, &se)
}
