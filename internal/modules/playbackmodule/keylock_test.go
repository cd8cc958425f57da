package playbackmodule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathLockerMutualExclusion(t *testing.T) {
	locker := NewPathLocker(64)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "/cache/dash/a/0")
	require.NoError(t, err)

	// same key (different case) must be held
	_, ok := locker.TryAcquire("/CACHE/DASH/A/0")
	assert.False(t, ok)

	release()

	release2, ok := locker.TryAcquire("/cache/dash/a/0")
	require.True(t, ok)
	release2()
}

func TestPathLockerDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewPathLocker(1024)
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, "/cache/dash/a/0")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locker.Acquire(ctx, "/cache/dash/b/0")
	require.NoError(t, err)
	releaseB()
}

func TestPathLockerSerializesWriters(t *testing.T) {
	locker := NewPathLocker(64)
	ctx := context.Background()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "/cache/hls/x/0")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical)
	assert.Zero(t, locker.ActiveLocks())
}

func TestPathLockerAcquireRespectsContext(t *testing.T) {
	locker := NewPathLocker(64)

	release, err := locker.Acquire(context.Background(), "/cache/dash/a/0")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "/cache/dash/a/0")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPathLockerReleaseIsIdempotent(t *testing.T) {
	locker := NewPathLocker(64)

	release, err := locker.Acquire(context.Background(), "/cache/dash/a/0")
	require.NoError(t, err)
	release()
	release() // second call must be a no-op, not a double unlock

	release2, ok := locker.TryAcquire("/cache/dash/a/0")
	require.True(t, ok)
	release2()
	assert.Zero(t, locker.ActiveLocks())
}

func TestPathLockerSlotsAreFreed(t *testing.T) {
	locker := NewPathLocker(64)
	for i := 0; i < 10; i++ {
		release, err := locker.Acquire(context.Background(), "/some/path")
		require.NoError(t, err)
		release()
	}
	assert.Zero(t, locker.ActiveLocks())
}
