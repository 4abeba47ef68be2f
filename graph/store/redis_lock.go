package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// ErrLockAcquire is returned when Redis fails while acquiring a lock.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

// lockPollInterval is how often a blocked Lock retries SET NX.
const lockPollInterval = 100 * time.Millisecond

// unlockScript deletes the lock only if it still carries the holder's token.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker serializes turns on one thread across coachd replicas. It
// satisfies graph.Locker.
type RedisLocker struct {
	client *backend.Client
	prefix string
}

// NewRedisLocker creates a locker whose keys are prefix + "lock:" + key.
func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Lock acquires the lock for key using SET NX PX, polling until it is free
// or ctx is done. The ttl bounds how long a crashed holder blocks others.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	acquire := func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockAcquire, err)
		}
		return ok, nil
	}

	ok, err := acquire()
	if err != nil {
		return nil, err
	}

	if !ok {
		ticker := time.NewTicker(lockPollInterval)
		defer ticker.Stop()

		for !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				if ok, err = acquire(); err != nil {
					return nil, err
				}
			}
		}
	}

	return func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
	}, nil
}
