//go:build !windows

package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/entrhq/authstate/internal/usererr"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func helperSpec(t *testing.T, mode string) (*Spec, string) {
	t.Helper()
	addr := freeAddr(t)
	pidFile := filepath.Join(t.TempDir(), "pid")
	return &Spec{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		URL:     "http://" + addr + "/",
		Timeout: 10 * time.Second,
		Env: map[string]string{
			helperEnv:     mode,
			helperAddrEnv: addr,
			helperPIDEnv:  pidFile,
		},
	}, pidFile
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	return pid
}

func assertGone(t *testing.T, pid int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
	}, 2*time.Second, 20*time.Millisecond, "process %d still alive", pid)
}

func TestRunSpawnsServerAndTearsItDown(t *testing.T) {
	spec, pidFile := helperSpec(t, "serve")

	var reachableDuringAction bool
	err := newTestSupervisor().Run(context.Background(), spec, func(ctx context.Context) error {
		reachableDuringAction = IsReachable(ctx, NewProbeClient(), spec.URL)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, reachableDuringAction)
	assertGone(t, readPID(t, pidFile))
	assert.False(t, IsReachable(context.Background(), NewProbeClient(), spec.URL))
}

func TestRunTearsDownWhenActionFails(t *testing.T) {
	spec, pidFile := helperSpec(t, "serve")
	boom := errors.New("boom")

	err := newTestSupervisor().Run(context.Background(), spec, func(context.Context) error { return boom })

	require.ErrorIs(t, err, boom)
	assert.False(t, IsStartupError(err))
	assertGone(t, readPID(t, pidFile))
}

func TestRunTearsDownDescendants(t *testing.T) {
	spec, pidFile := helperSpec(t, "serve")
	childPIDFile := filepath.Join(t.TempDir(), "sleep.pid")
	spec.Command = fmt.Sprintf("sleep 300 & echo $! > %s; exec %s", shellQuote(childPIDFile), shellQuote(os.Args[0]))

	err := newTestSupervisor().Run(context.Background(), spec, func(ctx context.Context) error {
		assert.True(t, IsReachable(ctx, NewProbeClient(), spec.URL))
		return nil
	})

	require.NoError(t, err)
	assertGone(t, readPID(t, pidFile))
	assertGone(t, readPID(t, childPIDFile))
}

func TestRunChildExitsEarly(t *testing.T) {
	spec, _ := helperSpec(t, "exit")

	ran := false
	err := newTestSupervisor().Run(context.Background(), spec, func(context.Context) error {
		ran = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, ran)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, fmt.Sprintf("Web server exited with code 3 before becoming reachable at %s", spec.URL), err.Error())
	assert.True(t, usererr.Is(err))
}

func TestRunTimesOut(t *testing.T) {
	spec, pidFile := helperSpec(t, "hang")
	spec.Timeout = 300 * time.Millisecond

	start := time.Now()
	err := newTestSupervisor().Run(context.Background(), spec, func(context.Context) error { return nil })

	require.Error(t, err)
	assert.Equal(t, "Timed out waiting for web server URL: "+spec.URL, err.Error())
	assert.True(t, IsStartupError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	assertGone(t, readPID(t, pidFile))
}

func TestRunShellCommandLine(t *testing.T) {
	srvAddr := freeAddr(t)
	err := newTestSupervisor().Run(context.Background(), &Spec{
		Command: "sh -c 'exit 7'",
		URL:     "http://" + srvAddr,
		Timeout: 5 * time.Second,
	}, func(context.Context) error { return nil })

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 7, exitErr.Code)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'a b'", shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
