package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// KeyLocker serializes critical sections per key. Booking uses one key per
// (doctor, date, time) slot and one per doctor for the emergency-busy check,
// so requests for unrelated doctors or slots never contend.
type KeyLocker interface {
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// lockStore is the slice of the Redis client the locker needs: SetNX for
// acquisition and script eval for the compare-and-delete release.
type lockStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

type redisKeyLocker struct {
	client lockStore
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisKeyLocker creates a locker backed by a per-key Redis entry.
// ttl bounds how long a crashed holder can keep a key locked; wait bounds
// how long an acquirer blocks before giving up with ErrLockNotAcquired.
func NewRedisKeyLocker(client *redis.Client, ttl, wait time.Duration) KeyLocker {
	return &redisKeyLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

const acquireRetryInterval = 25 * time.Millisecond

func (l *redisKeyLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := fmt.Sprintf("lock:%s", key)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire key lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}

	defer func() {
		_ = l.release(ctx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisKeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release key lock: %w", err)
	}
	return nil
}
