package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authstate/internal/usererr"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	locker := NewLocker(t.TempDir(), nil)
	locker.pollInterval = 10 * time.Millisecond
	return locker
}

func TestLocker_AcquireWritesDiagnostics(t *testing.T) {
	locker := newTestLocker(t)

	lock, err := locker.Acquire(context.Background(), "admin", time.Second)
	require.NoError(t, err)
	defer lock.Release()

	raw, err := os.ReadFile(lock.Path())
	require.NoError(t, err)

	var info lockInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.CreatedAt)
}

func TestLocker_ReleaseIsIdempotent(t *testing.T) {
	locker := newTestLocker(t)

	lock, err := locker.Acquire(context.Background(), "admin", time.Second)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	_, statErr := os.Stat(lock.Path())
	assert.True(t, os.IsNotExist(statErr))

	// A lock file deleted out from under the holder is not an error either.
	lock2, err := locker.Acquire(context.Background(), "admin", time.Second)
	require.NoError(t, err)
	require.NoError(t, os.Remove(lock2.Path()))
	assert.NoError(t, lock2.Release())
}

func TestLocker_SecondAcquireWaitsForRelease(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "x", 2*time.Second)
	require.NoError(t, err)

	released := make(chan time.Time, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		released <- time.Now()
		first.Release()
	}()

	second, err := locker.Acquire(ctx, "x", 2*time.Second)
	require.NoError(t, err)
	acquiredAt := time.Now()
	defer second.Release()

	assert.False(t, acquiredAt.Before(<-released), "second holder acquired before the first released")
}

func TestLocker_TimeoutNamesLockPath(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "x", time.Second)
	require.NoError(t, err)
	defer first.Release()

	start := time.Now()
	_, err = locker.Acquire(ctx, "x", 300*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.True(t, usererr.Is(err))
	assert.Contains(t, err.Error(), first.Path())
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestLocker_DifferentProfilesAreIndependent(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	a, err := locker.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)
	defer a.Release()

	b, err := locker.Acquire(ctx, "b", 50*time.Millisecond)
	require.NoError(t, err)
	defer b.Release()
}

func TestLocker_RejectsUnsafeProfile(t *testing.T) {
	locker := newTestLocker(t)
	_, err := locker.Acquire(context.Background(), "../escape", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProfileName))
	assert.True(t, usererr.Is(err))
}

func TestLocker_WithProfileLockIsExclusive(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithProfileLock(ctx, "shared", 5*time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocker_WithProfileLockReleasesOnError(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := locker.WithProfileLock(ctx, "admin", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	lock, err := locker.Acquire(ctx, "admin", 50*time.Millisecond)
	require.NoError(t, err)
	lock.Release()
}

func TestLocker_ContextCancelStopsWaiting(t *testing.T) {
	locker := newTestLocker(t)

	held, err := locker.Acquire(context.Background(), "admin", time.Second)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "admin", 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
