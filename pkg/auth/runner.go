package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/authstate/internal/usererr"
	"github.com/entrhq/authstate/pkg/browser"
	"github.com/entrhq/authstate/pkg/state"
)

// Options tune a Runner.
type Options struct {
	// Headed shows the browser window.
	Headed bool
	// Env is consulted for credentials. nil means an empty environment.
	Env    EnvLookup
	Logger *zap.Logger
	// Locker overrides the default lock manager for the states directory.
	Locker *state.Locker
	// Now overrides the clock used for run IDs.
	Now func() time.Time
}

// EnsureOptions tune Ensure.
type EnsureOptions struct {
	// FailFast stops after the first failing profile.
	FailFast bool
}

// Runner executes the validate and refresh flows for a set of profiles.
type Runner struct {
	cfg      *Config
	launcher browser.Launcher
	locker   *state.Locker
	env      EnvLookup
	headed   bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner validates cfg and returns a Runner that launches browsers with
// launcher.
func NewRunner(cfg *Config, launcher browser.Launcher, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, usererr.Newf("%w", err)
	}
	if launcher == nil {
		return nil, errors.New("browser launcher is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := opts.Locker
	if locker == nil {
		locker = state.NewLocker(cfg.StatesDir, logger.Named("lock"))
	}
	env := opts.Env
	if env == nil {
		env = MapEnv(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Browser == "" {
		cfg.Browser = browser.Chromium
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = state.DefaultLockTimeout
	}

	return &Runner{
		cfg:      cfg,
		launcher: launcher,
		locker:   locker,
		env:      env,
		headed:   opts.Headed,
		logger:   logger,
		now:      now,
	}, nil
}

// Setup logs in as profile and persists fresh state, regardless of whether
// the cached state is still valid. It returns the state file path.
func (r *Runner) Setup(ctx context.Context, profile string) (string, error) {
	p, ok := r.cfg.Profiles[profile]
	if !ok {
		return "", usererr.Newf("Unknown profile %q. Available profiles: %s.",
			profile, strings.Join(r.cfg.ProfileNames(), ", "))
	}

	var statePath string
	err := r.locker.WithProfileLock(ctx, profile, r.cfg.LockTimeout, func(ctx context.Context) error {
		var err error
		statePath, err = r.refresh(ctx, profile, p)
		return err
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("state written", zap.String("profile", profile), zap.String("path", statePath))
	return statePath, nil
}

// Validate reports whether the cached state for profile still opens an
// authenticated session. It takes the profile lock.
func (r *Runner) Validate(ctx context.Context, profile string) (ValidateResult, error) {
	p, ok := r.cfg.Profiles[profile]
	if !ok {
		return ValidateResult{}, usererr.Newf("Unknown profile %q. Available profiles: %s.",
			profile, strings.Join(r.cfg.ProfileNames(), ", "))
	}

	var result ValidateResult
	err := r.locker.WithProfileLock(ctx, profile, r.cfg.LockTimeout, func(ctx context.Context) error {
		var err error
		result, err = r.validate(ctx, profile, p)
		return err
	})
	return result, err
}

// Ensure validates each profile and refreshes the invalid ones. With no
// names it covers every profile. Unknown names are rejected before any
// work starts. Profile failures are collected into an *EnsureError. A lock
// failure or cancellation aborts the run; failures collected before that
// are still returned, with the abort as the EnsureError's Cause.
func (r *Runner) Ensure(ctx context.Context, profiles []string, opts EnsureOptions) error {
	names, err := r.selectProfiles(profiles)
	if err != nil {
		return err
	}

	var failures []ProfileFailure
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return ensureAborted(failures, err)
		}

		var profileErr error
		lockErr := r.locker.WithProfileLock(ctx, name, r.cfg.LockTimeout, func(ctx context.Context) error {
			profileErr = r.ensureOne(ctx, name, r.cfg.Profiles[name])
			return nil
		})
		if lockErr != nil {
			return ensureAborted(failures, lockErr)
		}
		if profileErr == nil {
			continue
		}

		r.logger.Error("failed", zap.String("profile", name), zap.Error(profileErr))
		failures = append(failures, ProfileFailure{Profile: name, Err: profileErr})
		if opts.FailFast {
			break
		}
	}

	if len(failures) > 0 {
		return &EnsureError{Failures: failures}
	}
	return nil
}

func ensureAborted(failures []ProfileFailure, cause error) error {
	if len(failures) == 0 {
		return cause
	}
	return &EnsureError{Failures: failures, Cause: cause}
}

func (r *Runner) selectProfiles(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return r.cfg.ProfileNames(), nil
	}

	var names, unknown []string
	seen := map[string]bool{}
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := r.cfg.Profiles[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		names = append(names, name)
	}
	if len(unknown) > 0 {
		return nil, usererr.Newf("Unknown profiles: %s. Available: %s.",
			strings.Join(unknown, ", "), strings.Join(r.cfg.ProfileNames(), ", "))
	}
	return names, nil
}

func (r *Runner) ensureOne(ctx context.Context, name string, p Profile) error {
	logger := r.logger.With(zap.String("profile", name))
	logger.Info("validating")

	result, err := r.validate(ctx, name, p)
	if err != nil {
		return err
	}
	if result.OK {
		logger.Info("valid; skipped")
		return nil
	}

	logger.Info("invalid; refreshing", zap.String("reason", result.Reason))
	statePath, err := r.refresh(ctx, name, p)
	if err != nil {
		return err
	}
	logger.Info("refreshed", zap.String("path", statePath))
	return nil
}

// validate runs the VALIDATE flow. The returned error is reserved for
// failures to run the check at all, such as a browser that will not launch.
func (r *Runner) validate(ctx context.Context, name string, p Profile) (ValidateResult, error) {
	statePath, err := state.StatePath(r.cfg.StatesDir, name)
	if err != nil {
		return ValidateResult{}, usererr.Newf("%w", err)
	}

	if _, err := os.Stat(statePath); err != nil {
		return Invalid(fmt.Sprintf("Missing state file at %q.", statePath)), nil
	}
	if _, err := state.ReadJSON(statePath); err != nil {
		return Invalid(err.Error()), nil
	}

	b, err := r.launcher.Launch(ctx, r.cfg.Browser, r.cfg.launchOptions(p, r.headed))
	if err != nil {
		return ValidateResult{}, err
	}
	defer func() { _ = b.Close() }()

	bc, err := b.NewContext(ctx, browser.ContextOptions{
		BaseURL:          r.cfg.baseURL(p),
		StorageStatePath: statePath,
	})
	if err != nil {
		return ValidateResult{}, err
	}
	defer func() { _ = bc.Close() }()

	tracing := bc.StartTracing() == nil
	defer func() {
		if tracing {
			_ = bc.StopTracing("")
		}
	}()

	page, err := bc.NewPage(ctx)
	if err != nil {
		return ValidateResult{}, err
	}

	result, err := r.openAndValidate(ctx, name, p, page)
	if err != nil {
		artifacts := r.captureFailure(name, err, page, bc, tracing)
		tracing = false
		return Invalid(fmt.Sprintf("%s\nArtifacts: %s", err.Error(), artifacts.Summary())), nil
	}
	return result, nil
}

// refresh runs the REFRESH flow and returns the written state path.
func (r *Runner) refresh(ctx context.Context, name string, p Profile) (string, error) {
	statePath, err := state.StatePath(r.cfg.StatesDir, name)
	if err != nil {
		return "", usererr.Newf("%w", err)
	}

	creds, err := ResolveCredentials(r.cfg, name, p, r.env)
	if err != nil {
		return "", err
	}

	b, err := r.launcher.Launch(ctx, r.cfg.Browser, r.cfg.launchOptions(p, r.headed))
	if err != nil {
		return "", err
	}
	defer func() { _ = b.Close() }()

	bc, err := b.NewContext(ctx, browser.ContextOptions{BaseURL: r.cfg.baseURL(p)})
	if err != nil {
		return "", err
	}
	defer func() { _ = bc.Close() }()

	tracing := bc.StartTracing() == nil
	defer func() {
		if tracing {
			_ = bc.StopTracing("")
		}
	}()

	page, err := bc.NewPage(ctx)
	if err != nil {
		return "", err
	}

	if err := r.loginAndPersist(ctx, name, p, creds, page, bc, statePath); err != nil {
		artifacts := r.captureFailure(name, err, page, bc, tracing)
		tracing = false
		return "", fmt.Errorf("%w\nArtifacts: %s", err, artifacts.Summary())
	}
	return statePath, nil
}

func (r *Runner) loginAndPersist(ctx context.Context, name string, p Profile, creds Credentials, page browser.Page, bc browser.Context, statePath string) error {
	if err := p.Login(ctx, page, LoginContext{Profile: name, Credentials: creds}); err != nil {
		return err
	}

	result, err := r.openAndValidate(ctx, name, p, page)
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("Validation failed for profile %q: %s", name, result.Reason)
	}

	data, err := bc.ExportState(ctx)
	if err != nil {
		return err
	}
	if err := state.WriteFileAtomic(statePath, data); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}

func (r *Runner) openAndValidate(ctx context.Context, name string, p Profile, page browser.Page) (ValidateResult, error) {
	if err := page.Goto(ctx, r.cfg.validateURL(p), browser.WaitDOMContentLoaded); err != nil {
		return ValidateResult{}, err
	}
	return p.Validate(ctx, page, ValidateContext{Profile: name})
}

// captureFailure writes the failure bundle. A bundle that cannot be written
// is logged and does not replace the original error.
func (r *Runner) captureFailure(name string, cause error, page browser.Page, bc browser.Context, tracing bool) FailureArtifacts {
	dir, err := r.newFailureDir(name)
	if err != nil {
		r.logger.Warn("failure artifacts skipped", zap.String("profile", name), zap.Error(err))
		return FailureArtifacts{}
	}

	artifacts, err := WriteFailureArtifacts(dir, cause, page, bc, tracing)
	if err != nil {
		r.logger.Warn("failure artifacts incomplete", zap.String("profile", name), zap.Error(err))
	}
	r.logger.Debug("failure artifacts written", zap.String("profile", name), zap.String("path", dir))
	return artifacts
}

// newFailureDir creates a fresh run directory under the profile's failures
// directory. Run IDs have one-second resolution, so a second bundle in the
// same second gets a -2, -3, ... suffix.
func (r *Runner) newFailureDir(name string) (string, error) {
	runID := RunID(r.now())
	for n := 1; ; n++ {
		id := runID
		if n > 1 {
			id = fmt.Sprintf("%s-%d", runID, n)
		}
		dir, err := state.FailuresDir(r.cfg.StatesDir, name, id)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0750); err != nil {
			return "", fmt.Errorf("failed to create failures directory: %w", err)
		}
		err = os.Mkdir(dir, 0750)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create failures directory: %w", err)
		}
	}
}
