package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store is the edge cache for composed gateway responses. Implementations
// must be safe for concurrent use; entry lifecycle is TTL-only and
// last-writer-wins (a racing overwrite for the same key is tolerable).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// MemoryStore keeps entries in-process. This is the default for
// single-instance deployments.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates an in-memory store. defaultTTL only applies when
// Set is called with a non-positive TTL, which the gateway never does.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(defaultTTL, 10*time.Minute),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	value, found := s.cache.Get(key)
	if !found {
		return nil, false
	}
	payload, ok := value.([]byte)
	if !ok {
		return nil, false
	}
	return payload, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	s.cache.Set(key, value, ttl)
}

// RedisStore backs the cache with Redis so multiple gateway instances
// share one set of entries.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("redis get failed", "key", key, "error", err)
		return nil, false
	}
	return payload, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("redis set failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
