package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "intent:tab:"

// RedisTabStorage is tab-scoped key-value storage in Redis. Keys expire
// after the TTL; every read or write extends it.
type RedisTabStorage struct {
	client *redis.Client
	prefix string
	tabID  string
	ttl    time.Duration
}

// NewRedisTabStorage connects to addr and returns the storage of tabID.
func NewRedisTabStorage(ctx context.Context, addr, tabID string, ttl time.Duration) (*RedisTabStorage, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisTabStorageFromClient(client, "", tabID, ttl), nil
}

// NewRedisTabStorageFromClient wraps an existing client.
func NewRedisTabStorageFromClient(client *redis.Client, prefix, tabID string, ttl time.Duration) *RedisTabStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisTabStorage{client: client, prefix: prefix, tabID: tabID, ttl: ttl}
}

func (r *RedisTabStorage) key(key string) string {
	return r.prefix + r.tabID + ":" + key
}

// Get reads a key.
func (r *RedisTabStorage) Get(ctx context.Context, key string) (string, bool, error) {
	k := r.key(key)
	value, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, k, r.ttl).Err(); err != nil {
			return "", false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return value, true, nil
}

// Set writes a key.
func (r *RedisTabStorage) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisTabStorage) Close() error {
	return r.client.Close()
}
