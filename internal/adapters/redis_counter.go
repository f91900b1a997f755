package adapters

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter implements WindowCounter with the same atomic INCR+PEXPIRE Lua script as
// internal/cache/redis.go's IncrementCounter, generalized from a tenant-scoped
// transaction counter to an arbitrary aggregation-feature key.
type RedisCounter struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{
		client: client,
		script: redis.NewScript(`
			local current = redis.call('INCR', KEYS[1])
			if current == 1 then
				redis.call('PEXPIRE', KEYS[1], ARGV[1])
			end
			return current
		`),
	}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.script.Run(ctx, c.client, []string{key}, window.Milliseconds()).Int64()
}
