package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces counter keys.
const DefaultRedisKeyPrefix = "farmcore:seq:"

// RedisAllocator keeps counters as Redis integers advanced with INCR.
type RedisAllocator struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisAllocator constructs a Redis-backed allocator. An empty keyPrefix
// selects DefaultRedisKeyPrefix.
func NewRedisAllocator(client redis.UniversalClient, keyPrefix string) (*RedisAllocator, error) {
	if client == nil {
		return nil, errors.New("sequence: redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisAllocator{client: client, keyPrefix: keyPrefix}, nil
}

func (a *RedisAllocator) key(prefix string) string { return a.keyPrefix + prefix }

// Next increments and returns the counter for prefix.
func (a *RedisAllocator) Next(ctx context.Context, prefix string) (int64, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, err
	}
	n, err := a.client.Incr(ctx, a.key(prefix)).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence: incr %s: %w", prefix, err)
	}
	return n, nil
}

// Current returns the last issued number, or 0 if the prefix is unused.
func (a *RedisAllocator) Current(ctx context.Context, prefix string) (int64, error) {
	n, err := a.client.Get(ctx, a.key(prefix)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence: get %s: %w", prefix, err)
	}
	return n, nil
}
