package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld reports that another replica holds the sweep lock.
var ErrLockHeld = errors.New("sweep lock held by another replica")

// Locker grants exclusive leases across replicas.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Release is safe to call after the lease expired.
type Lease interface {
	Release(ctx context.Context) error
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lease never removes a lock another replica acquired since.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a single-key SET NX PX lock.
type RedisLock struct {
	client redis.Cmdable
	key    string
}

// NewRedisLock builds a lock stored under key.
func NewRedisLock(client redis.Cmdable, key string) *RedisLock {
	return &RedisLock{client: client, key: key}
}

// Acquire returns ErrLockHeld when the key is already set.
func (lock *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	acquired, err := lock.client.SetNX(ctx, lock.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}
	return &redisLease{client: lock.client, key: lock.key, token: token}, nil
}

type redisLease struct {
	client redis.Cmdable
	key    string
	token  string
}

func (lease *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lease.client, []string{lease.key}, lease.token).Err(); err != nil {
		return fmt.Errorf("release sweep lock: %w", err)
	}
	return nil
}
