package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "apibridge:correlation:"

// RedisStore keeps correlation values in Redis with SETNX, so several
// gateway replicas can share one store.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: redisKeyPrefix}
}

// DialRedisStore parses a redis:// URL and pings the server.
func DialRedisStore(ctx context.Context, rawURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("correlation: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("correlation: ping redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Put(ctx context.Context, id string, value []byte) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), value, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("correlation: setnx %s: %w", id, err)
	}
	return ok, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("correlation: get %s: %w", id, err)
	}
	return value, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("correlation: del %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
