package lib

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	hash "github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "relay:cache:"

// NewRedisClient parses a redis:// or rediss:// URI and returns a client.
// It does not contact the server.
func NewRedisClient(uri string) (*redis.Client, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Cache stores small values in redis under hashed keys. A nil *Cache, or one
// built without a client or with caching disabled, behaves as a permanent miss.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool
}

func NewCache(client *redis.Client, cfg CacheConfig) *Cache {
	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		client:  client,
		ttl:     ttl,
		enabled: cfg.Enabled && client != nil,
	}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

func cacheKey(key string) string {
	return cachePrefix + strconv.FormatUint(hash.Sum64String(key), 10)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	value, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Set(ctx, cacheKey(key), value, c.ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, cacheKey(key)).Err()
}
