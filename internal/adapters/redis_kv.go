package adapters

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KeyValue directly against a flat Redis keyspace, the same
// Get/Bytes shape as internal/cache/redis.go's RedisCache.Get without that type's
// tenant-prefix wrapping (this engine's lookup keys are fully qualified by the feature's
// source_ref template already).
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := k.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}
