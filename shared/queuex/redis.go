package queuex

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-pipeline/shared/config"
)

// moveScript keeps remove+push a single step so a crash cannot drop the item in between.
const moveScript = `
if redis.call("lrem", KEYS[1], 1, ARGV[1]) == 1 then
	redis.call("rpush", KEYS[2], ARGV[1])
	return 1
end
return 0
`

var move = redis.NewScript(moveScript)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.Config) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RedisStore{client: rdb}, nil
}

// NewRedisStoreFromClient shares an existing connection pool, e.g. with the cache client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis client not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Push(ctx context.Context, queue string, item string) error {
	return s.client.RPush(ctx, queue, item).Err()
}

func (s *RedisStore) PushFront(ctx context.Context, queue string, item string) error {
	return s.client.LPush(ctx, queue, item).Err()
}

func (s *RedisStore) Pop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	if timeout <= 0 {
		// BLPOP with 0 blocks forever; a non-positive timeout means "don't wait".
		item, err := s.client.LPop(ctx, queue).Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return item, true, nil
	}
	vals, err := s.client.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(vals) < 2 {
		return "", false, errors.New("unexpected BLPOP response")
	}
	return vals[1], true, nil
}

func (s *RedisStore) Scan(ctx context.Context, queue string) ([]string, error) {
	return s.client.LRange(ctx, queue, 0, -1).Result()
}

func (s *RedisStore) Remove(ctx context.Context, queue string, item string) (bool, error) {
	n, err := s.client.LRem(ctx, queue, 1, item).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Move(ctx context.Context, src string, dst string, item string) (bool, error) {
	n, err := move.Run(ctx, s.client, []string{src, dst}, item).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Len(ctx context.Context, queue string) (int64, error) {
	return s.client.LLen(ctx, queue).Result()
}

func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}
