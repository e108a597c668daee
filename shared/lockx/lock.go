// Package lockx provides a Redis lease used to elect one worker for periodic housekeeping.
package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it is still ours; an expired lease may belong to another holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var ErrNotInitialized = errors.New("redis client not initialized")

type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Acquire takes the lease at key for ttl. It reports false, with no error, when someone else holds it.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, ErrNotInitialized
	}
	if ttl <= 0 {
		return nil, false, errors.New("ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{Key: key, Token: token, TTL: ttl}, true, nil
}

func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return ErrNotInitialized
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	return releaseScript.Run(ctx, client, []string{lock.Key}, lock.Token).Err()
}

// Locker adapts Acquire and Release to a try-lock returning its own unlock func.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, ok, err := Acquire(ctx, l.client, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) error { return Release(ctx, l.client, lock) }, true, nil
}
