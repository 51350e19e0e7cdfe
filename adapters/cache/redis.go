// Package cache stores resolved catalog price ids with a TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorlink/tutorbilling/ports"
)

var (
	// ErrRedisNotReady is returned when Connect exhausts its attempts.
	ErrRedisNotReady = errors.New("redis is not ready")
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Connect parses cfg.URL and pings until the server answers.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}

// RedisCatalog implements ports.CatalogCache on Redis string keys.
type RedisCatalog struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCatalog creates a catalog cache whose keys start with prefix.
func NewRedisCatalog(client redis.UniversalClient, prefix string) *RedisCatalog {
	if prefix == "" {
		prefix = "tutorbilling:catalog:"
	}
	return &RedisCatalog{client: client, prefix: prefix}
}

func (c *RedisCatalog) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("catalog get %s: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisCatalog) Set(ctx context.Context, key, priceID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, priceID, ttl).Err(); err != nil {
		return fmt.Errorf("catalog set %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes every key under the prefix.
func (c *RedisCatalog) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("catalog scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("catalog invalidate: %w", err)
	}
	return nil
}

var _ ports.CatalogCache = (*RedisCatalog)(nil)
