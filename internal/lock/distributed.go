package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrNotHeld     = errors.New("lock not held")
)

// DistributedLock guards a named resource across requests, and across
// instances when backed by Redis.
type DistributedLock interface {
	// Acquire waits for the resource until ctx is done or the locker's wait budget runs out.
	Acquire(ctx context.Context, resource string, ttl time.Duration) (LockHandle, error)

	// TryAcquire returns ErrNotAcquired immediately if the resource is held.
	TryAcquire(ctx context.Context, resource string, ttl time.Duration) (LockHandle, error)

	IsLocked(ctx context.Context, resource string) (bool, error)

	Close() error
}

type LockHandle interface {
	Resource() string
	Token() string
	ExpiresAt() time.Time
	IsValid() bool
	Release(ctx context.Context) error
}

type lockHandle struct {
	resource  string
	token     string
	expiresAt time.Time
	release   func(ctx context.Context, resource, token string) error
}

func (h *lockHandle) Resource() string     { return h.resource }
func (h *lockHandle) Token() string        { return h.token }
func (h *lockHandle) ExpiresAt() time.Time { return h.expiresAt }

func (h *lockHandle) IsValid() bool {
	return time.Now().Before(h.expiresAt)
}

func (h *lockHandle) Release(ctx context.Context) error {
	return h.release(ctx, h.resource, h.token)
}

// acquireWithBackoff retries try with capped exponential backoff.
func acquireWithBackoff(ctx context.Context, maxWait time.Duration, try func() (LockHandle, error)) (LockHandle, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 10 * time.Millisecond

	for {
		handle, err := try()
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 250*time.Millisecond {
				backoff = 250 * time.Millisecond
			}
		}
	}
}

// WithLock runs fn while holding resource.
func WithLock(ctx context.Context, locker DistributedLock, resource string, ttl time.Duration, fn func() error) error {
	handle, err := locker.Acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	defer handle.Release(context.WithoutCancel(ctx))

	return fn()
}
