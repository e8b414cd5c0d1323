// Package main provides the authstate command, which creates and refreshes
// cached browser auth state for the profiles in an authstate.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/authstate/internal/usererr"
	"github.com/entrhq/authstate/pkg/auth"
	"github.com/entrhq/authstate/pkg/logging"
	"github.com/entrhq/authstate/pkg/webserver"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	logging.Sync()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(stderr, err)
	if isUsageError(err) {
		fmt.Fprintln(stderr)
		fmt.Fprint(stderr, root.UsageString())
		return exitUsage
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "interrupted")
	}
	return exitFailure
}

// isUsageError reports whether err is something the operator fixes by
// changing flags, config or environment. An ensure run that collected
// profile failures is a runtime failure even when a profile failed on
// missing credentials.
func isUsageError(err error) bool {
	var ensureErr *auth.EnsureError
	if errors.As(err, &ensureErr) {
		return false
	}
	return usererr.Is(err) || webserver.IsStartupError(err)
}
