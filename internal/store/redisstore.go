package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis is a KV backed by go-redis, grounded on
// internal/fabric/redis_store.go's RedisHubStore: a thin wrapper around a
// concrete client, namespacing every key under a fixed prefix so the AEC
// can share a Redis instance with other tenants of the same cluster.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis dials addr and returns a Redis-backed KV store namespaced under
// keyPrefix (default "aec:" if empty).
func NewRedis(addr, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "aec:"
	}
	return &Redis{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: keyPrefix,
	}
}

func (r *Redis) ns(key string) string {
	return r.keyPrefix + key
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.ns(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: put %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.ns(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis store: get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Scan(ctx context.Context, prefix string) ([][]byte, error) {
	var out [][]byte
	var all []string
	var cursor uint64
	fullPrefix := r.ns(prefix)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, fullPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis store: scan %s: %w", prefix, err)
		}
		all = append(all, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(all)

	for _, k := range all {
		v, err := r.client.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis store: scan-get %s: %w", k, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.ns(key)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
