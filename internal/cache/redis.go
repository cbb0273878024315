package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"
)

// Error is a redis cache error.
var Error = errs.Class("redis cache")

// DefaultKeyPrefix namespaces every key written by RedisBackend.
const DefaultKeyPrefix = "imagemeta:search:"

// RedisBackend keeps entries in Redis with native expiry.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps client. All keys are stored below prefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.New("get error: %v", err)
	}
	return value, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return Error.New("set error: %v", err)
	}
	return nil
}

// InvalidateAll deletes every key below the prefix, scanning in batches.
func (r *RedisBackend) InvalidateAll(ctx context.Context) error {
	it := r.client.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return Error.New("delete error: %v", err)
			}
			batch = batch[:0]
		}
	}
	if err := it.Err(); err != nil {
		return Error.New("scan error: %v", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return Error.New("delete error: %v", err)
		}
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
