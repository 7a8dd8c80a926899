package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisLockConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	MaxWait   time.Duration
}

// RedisDistributedLock implements DistributedLock with SET NX and a
// compare-and-delete release script.
type RedisDistributedLock struct {
	rdb       *redis.Client
	keyPrefix string
	maxWait   time.Duration
}

func NewRedisDistributedLock(ctx context.Context, cfg RedisLockConfig) (*RedisDistributedLock, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisDistributedLockFromClient(rdb, cfg.KeyPrefix, cfg.MaxWait), nil
}

func NewRedisDistributedLockFromClient(rdb *redis.Client, keyPrefix string, maxWait time.Duration) *RedisDistributedLock {
	if keyPrefix == "" {
		keyPrefix = "procuredata:lock:"
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &RedisDistributedLock{rdb: rdb, keyPrefix: keyPrefix, maxWait: maxWait}
}

func (l *RedisDistributedLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (LockHandle, error) {
	return acquireWithBackoff(ctx, l.maxWait, func() (LockHandle, error) {
		return l.TryAcquire(ctx, resource, ttl)
	})
}

func (l *RedisDistributedLock) TryAcquire(ctx context.Context, resource string, ttl time.Duration) (LockHandle, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.keyPrefix+resource, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", resource, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &lockHandle{
		resource:  resource,
		token:     token,
		expiresAt: time.Now().Add(ttl),
		release:   l.release,
	}, nil
}

func (l *RedisDistributedLock) release(ctx context.Context, resource, token string) error {
	result, err := releaseScript.Run(ctx, l.rdb, []string{l.keyPrefix + resource}, token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", resource, err)
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisDistributedLock) IsLocked(ctx context.Context, resource string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.keyPrefix+resource).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisDistributedLock) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *RedisDistributedLock) Close() error {
	return l.rdb.Close()
}
