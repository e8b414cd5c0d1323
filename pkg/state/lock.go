package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/authstate/internal/usererr"
)

const (
	// DefaultLockTimeout bounds how long Acquire waits for a busy profile.
	DefaultLockTimeout = 2 * time.Minute
	// LockPollInterval is the delay between exclusive-create attempts.
	LockPollInterval = 250 * time.Millisecond
)

// ErrLockTimeout is wrapped by the error Acquire returns when the lock could
// not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for profile lock")

// lockInfo is written into the lock file for operators; it is never read
// back to decide ownership.
type lockInfo struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"createdAt"`
}

// Locker hands out per-profile locks inside one states directory. Locks are
// plain files created with O_EXCL, so they exclude holders in other
// processes as well as in this one. Different profiles never contend.
type Locker struct {
	statesDir    string
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewLocker creates a Locker for statesDir.
func NewLocker(statesDir string, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		statesDir:    statesDir,
		pollInterval: LockPollInterval,
		logger:       logger,
	}
}

// Lock is a held profile lock.
type Lock struct {
	profile string
	path    string
	file    *os.File
	logger  *zap.Logger
	once    sync.Once
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Profile returns the locked profile name.
func (l *Lock) Profile() string { return l.profile }

// Release closes and deletes the lock file. It is safe to call more than
// once, and a lock file that is already gone is not an error.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		_ = l.file.Close()
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("failed to remove lock %s: %w", l.path, rmErr)
			return
		}
		l.logger.Debug("lock released", zap.String("profile", l.profile), zap.String("lock", l.path))
	})
	return err
}

// Acquire takes the lock for profile, polling until it is free or timeout
// elapses. A timeout of zero means DefaultLockTimeout. There is no stale
// lock detection: a lock left behind by a crashed holder must be deleted by
// hand, and the timeout error says where it is.
func (k *Locker) Acquire(ctx context.Context, profile string, timeout time.Duration) (*Lock, error) {
	lockPath, err := LockPath(k.statesDir, profile)
	if err != nil {
		return nil, usererr.Newf("%w", err)
	}
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	waited := false
	for {
		file, err := tryCreate(lockPath)
		if err != nil {
			return nil, err
		}
		if file != nil {
			k.logger.Debug("lock acquired", zap.String("profile", profile), zap.String("lock", lockPath))
			return &Lock{profile: profile, path: lockPath, file: file, logger: k.logger}, nil
		}

		if !waited {
			k.logger.Info("waiting for profile lock", zap.String("profile", profile), zap.String("lock", lockPath))
			waited = true
		}
		if !time.Now().Before(deadline) {
			return nil, usererr.Newf(
				"%w for profile %q at %q. Another authstate process might be running; if this is stale, delete the lock file.",
				ErrLockTimeout, profile, lockPath)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(k.pollInterval):
		}
	}
}

// WithProfileLock runs fn while holding the lock for profile. The lock is
// released on every exit path.
func (k *Locker) WithProfileLock(ctx context.Context, profile string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lock, err := k.Acquire(ctx, profile, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			k.logger.Warn("failed to release lock", zap.String("lock", lock.Path()), zap.Error(relErr))
		}
	}()
	return fn(ctx)
}

// tryCreate returns (nil, nil) when the lock is already held.
func tryCreate(lockPath string) (*os.File, error) {
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create lock %s: %w", lockPath, err)
	}

	info, _ := json.MarshalIndent(lockInfo{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}, "", "  ")
	// The body is diagnostic only; holding the file is what matters.
	_, _ = file.Write(info)
	return file, nil
}
