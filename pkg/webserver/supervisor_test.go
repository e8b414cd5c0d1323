package webserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/authstate/internal/usererr"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) != "" {
		runHelper()
		return
	}
	goleak.VerifyTestMain(m)
}

func newTestSupervisor() *Supervisor {
	s := NewSupervisor(nil)
	s.PollInterval = 20 * time.Millisecond
	s.GracePeriod = 100 * time.Millisecond
	return s
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr string
	}{
		{"ok", Spec{Command: "npm run dev", URL: "http://localhost:3000"}, ""},
		{"no command", Spec{URL: "http://localhost:3000"}, "command is required"},
		{"no url", Spec{Command: "x"}, "url is required"},
		{"bad scheme", Spec{Command: "x", URL: "ftp://localhost"}, "http or https"},
		{"negative timeout", Spec{Command: "x", URL: "http://localhost", Timeout: -time.Second}, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSpecDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Spec{}.timeout())
	assert.Equal(t, time.Second, Spec{Timeout: time.Second}.timeout())
}

func TestIsReachable(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if code == http.StatusFound {
			http.Redirect(w, r, "/login", code)
			return
		}
		w.WriteHeader(code)
	}))
	defer srv.Close()
	client := NewProbeClient()

	for code, want := range map[int]bool{
		http.StatusOK:                  true,
		http.StatusFound:               true,
		http.StatusNotFound:            true,
		http.StatusInternalServerError: false,
		http.StatusServiceUnavailable:  false,
	} {
		status.Store(int32(code))
		assert.Equal(t, want, IsReachable(context.Background(), client, srv.URL), "status %d", code)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	assert.False(t, IsReachable(context.Background(), client, closedURL))
}

func TestIsReachableSelfSignedLoopback(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	assert.True(t, IsReachable(context.Background(), NewProbeClient(), srv.URL))
}

func TestRunReusesExistingServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ran := false
	err := newTestSupervisor().Run(context.Background(), &Spec{
		Command:       "authstate-test-no-such-binary",
		URL:           srv.URL,
		ReuseExisting: true,
	}, func(context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ran := false
	err := newTestSupervisor().Run(context.Background(), &Spec{
		Command: "authstate-test-no-such-binary",
		URL:     srv.URL,
	}, func(context.Context) error {
		ran = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, ran)
	assert.Contains(t, err.Error(), "Failed to start web server")
	assert.True(t, IsStartupError(err))
	assert.True(t, usererr.Is(err))
}

func TestRunInvalidSpecIsUserError(t *testing.T) {
	err := newTestSupervisor().Run(context.Background(), &Spec{}, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, usererr.Is(err))
	assert.False(t, IsStartupError(err))
}

func TestRunWithoutSpecRunsAction(t *testing.T) {
	ran := false
	err := newTestSupervisor().Run(context.Background(), nil, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	boom := errors.New("boom")
	err = newTestSupervisor().Run(context.Background(), nil, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsStartupError(err))
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"PATH=/bin", "PORT=1"}, map[string]string{"PORT": "3000", "NODE_ENV": "test"})
	assert.Equal(t, []string{"PATH=/bin", "NODE_ENV=test", "PORT=3000"}, env)

	base := []string{"A=1"}
	assert.Equal(t, base, mergeEnv(base, nil))
}

func TestNeedsShell(t *testing.T) {
	assert.False(t, needsShell("node"))
	assert.False(t, needsShell("./bin/server"))
	assert.True(t, needsShell("npm run dev"))
	assert.True(t, needsShell(`"C:\Program Files\app.exe"`))
	assert.True(t, needsShell("echo 'hi'"))
	assert.False(t, needsShell("  node  "))
}

func TestExitErrorMessage(t *testing.T) {
	err := startupError((&ExitError{Code: 3, URL: "http://localhost:3000"}).Error(), &ExitError{Code: 3, URL: "http://localhost:3000"})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "Web server exited with code 3 before becoming reachable at http://localhost:3000", err.Error())
}
