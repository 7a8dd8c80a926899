package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLock_AcquireRelease(t *testing.T) {
	locker := NewInMemoryLock(time.Second)
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "transaction:1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "transaction:1", handle.Resource())
	assert.NotEmpty(t, handle.Token())
	assert.True(t, handle.IsValid())

	locked, err := locker.IsLocked(ctx, "transaction:1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, handle.Release(ctx))

	locked, err = locker.IsLocked(ctx, "transaction:1")
	require.NoError(t, err)
	assert.False(t, locked)

	assert.ErrorIs(t, handle.Release(ctx), ErrNotHeld)
}

func TestInMemoryLock_TryAcquireHeld(t *testing.T) {
	locker := NewInMemoryLock(time.Second)
	ctx := context.Background()

	_, err := locker.TryAcquire(ctx, "r", time.Minute)
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, "r", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestInMemoryLock_Expiry(t *testing.T) {
	locker := NewInMemoryLock(time.Second)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.TryAcquire(ctx, "r", 10*time.Second)
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	fresh, err := locker.TryAcquire(ctx, "r", 10*time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	assert.NoError(t, fresh.Release(ctx))
}

func TestInMemoryLock_AcquireGivesUp(t *testing.T) {
	locker := NewInMemoryLock(50 * time.Millisecond)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "r", time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = locker.Acquire(ctx, "r", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInMemoryLock_ContextCancelled(t *testing.T) {
	locker := NewInMemoryLock(5 * time.Second)
	_, err := locker.Acquire(context.Background(), "r", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "r", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLock_MutualExclusion(t *testing.T) {
	locker := NewInMemoryLock(5 * time.Second)
	ctx := context.Background()

	var inside, maxInside, total int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, locker, "shared", time.Second, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&total, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(10), total)
}
