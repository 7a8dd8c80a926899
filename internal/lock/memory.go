package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// InMemoryLock is a DistributedLock for single-instance deployments.
type InMemoryLock struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	maxWait time.Duration
	now     func() time.Time
}

func NewInMemoryLock(maxWait time.Duration) *InMemoryLock {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &InMemoryLock{
		entries: make(map[string]memoryEntry),
		maxWait: maxWait,
		now:     time.Now,
	}
}

func (l *InMemoryLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (LockHandle, error) {
	return acquireWithBackoff(ctx, l.maxWait, func() (LockHandle, error) {
		return l.TryAcquire(ctx, resource, ttl)
	})
}

func (l *InMemoryLock) TryAcquire(_ context.Context, resource string, ttl time.Duration) (LockHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.entries[resource]; ok && now.Before(entry.expiresAt) {
		return nil, ErrNotAcquired
	}

	entry := memoryEntry{token: uuid.NewString(), expiresAt: now.Add(ttl)}
	l.entries[resource] = entry

	return &lockHandle{
		resource:  resource,
		token:     entry.token,
		expiresAt: entry.expiresAt,
		release:   l.release,
	}, nil
}

func (l *InMemoryLock) release(_ context.Context, resource, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[resource]
	if !ok || entry.token != token {
		return ErrNotHeld
	}
	delete(l.entries, resource)
	return nil
}

func (l *InMemoryLock) IsLocked(_ context.Context, resource string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[resource]
	return ok && l.now().Before(entry.expiresAt), nil
}

func (l *InMemoryLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]memoryEntry)
	return nil
}
