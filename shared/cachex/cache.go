package cachex

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"storefront-pipeline/shared/config"
)

// Key prefixes shared with the storefront that reads these entries.
const (
	recommendationPrefix = "recs:user:"
	profilePrefix        = "profile:user:"
	appliedPrefix        = "job:applied:"
)

func RecommendationKey(userID string) string { return recommendationPrefix + userID }
func ProfileKey(userID string) string        { return profilePrefix + userID }
func AppliedKey(id string) string            { return appliedPrefix + id }

var ErrNotInitialized = errors.New("redis client not initialized")

// hsetIfNewer writes the hash only when ARGV[1] is newer than the stored updatedAt.
var hsetIfNewer = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], "updatedAt") or "0")
local incoming = tonumber(ARGV[1])
if current >= incoming then
  return 0
end
redis.call("HSET", KEYS[1], "updatedAt", ARGV[1])
for i = 2, #ARGV, 2 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb}, nil
}

// NewFromClient shares an existing connection pool, e.g. the queue store's.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{redis: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, b, ttl).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.redis == nil {
		return false, ErrNotInitialized
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes keys. Missing keys are not an error, so repeated calls are safe.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if c == nil || c.redis == nil {
		return false, ErrNotInitialized
	}
	n, err := c.redis.Exists(ctx, key).Result()
	return n > 0, err
}

// Mark records that key has been applied. ttl bounds how long replays are recognised.
func (c *Client) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	return c.redis.Set(ctx, key, "1", ttl).Err()
}

// HSetIfNewer applies fields to the hash at key unless it already holds an updatedAt >= updatedAt.
// It reports whether the write happened.
func (c *Client) HSetIfNewer(ctx context.Context, key string, updatedAt int64, fields map[string]string) (bool, error) {
	if c == nil || c.redis == nil {
		return false, ErrNotInitialized
	}
	args := make([]any, 0, 1+2*len(fields))
	args = append(args, updatedAt)
	for k, v := range fields {
		args = append(args, k, v)
	}
	n, err := hsetIfNewer.Run(ctx, c.redis, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if c == nil || c.redis == nil {
		return nil, ErrNotInitialized
	}
	return c.redis.HGetAll(ctx, key).Result()
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}
