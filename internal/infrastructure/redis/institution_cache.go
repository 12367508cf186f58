// Package redis holds the shared institution name tier.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"finlink/internal/domain/institution"
)

const defaultPrefix = "finlink"

// Config describes the Redis connection.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	Prefix       string
}

// InstitutionCache stores institution names in a single Redis hash. Hash
// fields never expire.
type InstitutionCache struct {
	client *goredis.Client
	key    string
}

var _ institution.Cache = (*InstitutionCache)(nil)

// NewInstitutionCache connects to Redis and verifies the connection.
func NewInstitutionCache(ctx context.Context, cfg Config) (*InstitutionCache, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewInstitutionCacheFromClient(client, cfg.Prefix), nil
}

// NewInstitutionCacheFromClient wraps an existing client.
func NewInstitutionCacheFromClient(client *goredis.Client, prefix string) *InstitutionCache {
	return &InstitutionCache{client: client, key: hashKey(prefix)}
}

func hashKey(prefix string) string {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return prefix + ":institutions"
}

func (c *InstitutionCache) Get(ctx context.Context, id string) (string, bool, error) {
	name, err := c.client.HGet(ctx, c.key, id).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s: %w", id, err)
	}
	return name, true, nil
}

func (c *InstitutionCache) Put(ctx context.Context, id, name string) error {
	if err := c.client.HSet(ctx, c.key, id, name).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", id, err)
	}
	return nil
}

// All returns every cached name.
func (c *InstitutionCache) All(ctx context.Context) (map[string]string, error) {
	names, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return names, nil
}

// Ping checks the connection.
func (c *InstitutionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *InstitutionCache) Close() error {
	return c.client.Close()
}
