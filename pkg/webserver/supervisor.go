package webserver

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/authstate/internal/usererr"
)

const (
	// DefaultPollInterval is the delay between readiness probes.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultGracePeriod is how long the tree gets to exit after an
	// interrupt before it is killed.
	DefaultGracePeriod = 300 * time.Millisecond

	reapTimeout = 5 * time.Second
)

// Supervisor starts a server, waits for it, runs an action and tears the
// server down again.
type Supervisor struct {
	Logger       *zap.Logger
	PollInterval time.Duration
	GracePeriod  time.Duration
	Client       *http.Client
}

// NewSupervisor returns a supervisor with default timings.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		Logger:       logger,
		PollInterval: DefaultPollInterval,
		GracePeriod:  DefaultGracePeriod,
		Client:       NewProbeClient(),
	}
}

// Run executes action while the server described by spec is reachable.
// A nil spec runs action directly.
//
// When spec.ReuseExisting is set and the URL already answers, no process is
// started. Otherwise the command is spawned and polled until the URL answers,
// the process exits, or the timeout elapses. A spawned server is torn down
// on every path out of Run, including a failing or panicking action.
func (s *Supervisor) Run(ctx context.Context, spec *Spec, action func(context.Context) error) error {
	if spec == nil {
		return action(ctx)
	}
	if err := spec.Validate(); err != nil {
		return usererr.Newf("%w", err)
	}
	logger := s.logger().With(zap.String("url", spec.URL))

	if spec.ReuseExisting && IsReachable(ctx, s.client(), spec.URL) {
		logger.Info("reusing running web server")
		return action(ctx)
	}

	cmd := buildCommand(*spec)
	if err := cmd.Start(); err != nil {
		return startupError(fmt.Sprintf("Failed to start web server: %v", err), err)
	}
	pid := cmd.Process.Pid
	logger.Info("web server started", zap.String("command", spec.Command), zap.Int("pid", pid))

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	defer s.terminate(logger, pid, exited)

	if err := s.waitReady(ctx, *spec, cmd, exited); err != nil {
		return err
	}
	logger.Info("web server ready")
	return action(ctx)
}

func (s *Supervisor) waitReady(ctx context.Context, spec Spec, cmd *exec.Cmd, exited <-chan struct{}) error {
	exitErr := func() error {
		ee := &ExitError{Code: cmd.ProcessState.ExitCode(), URL: spec.URL}
		return startupError(ee.Error(), ee)
	}

	deadline := time.Now().Add(spec.timeout())
	for time.Now().Before(deadline) {
		select {
		case <-exited:
			return exitErr()
		default:
		}

		if IsReachable(ctx, s.client(), spec.URL) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return exitErr()
		case <-time.After(s.pollInterval()):
		}
	}

	select {
	case <-exited:
		return exitErr()
	default:
	}
	return startupError(fmt.Sprintf("Timed out waiting for web server URL: %s", spec.URL), nil)
}

// terminate interrupts the process tree, waits up to the grace period, then
// kills whatever is left and reaps the child.
func (s *Supervisor) terminate(logger *zap.Logger, pid int, exited <-chan struct{}) {
	_ = interruptTree(pid)

	select {
	case <-exited:
	case <-time.After(s.gracePeriod()):
	}

	if err := killTree(pid); err != nil {
		logger.Debug("kill web server tree", zap.Error(err))
	}

	select {
	case <-exited:
		logger.Info("web server stopped")
	case <-time.After(reapTimeout):
		logger.Warn("web server did not exit after kill", zap.Int("pid", pid))
	}
}

func startupError(msg string, cause error) error {
	return usererr.Newf("%w", &StartupError{msg: msg, err: cause})
}

func (s *Supervisor) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Supervisor) client() *http.Client {
	if s.Client == nil {
		s.Client = NewProbeClient()
	}
	return s.Client
}

func (s *Supervisor) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

func (s *Supervisor) gracePeriod() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultGracePeriod
}
