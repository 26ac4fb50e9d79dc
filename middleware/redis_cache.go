package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shrek82/dbutil/core"
)

// RedisCache caches query results in Redis. Queries are cached only when
// their context carries WithCacheTTL.
type RedisCache struct {
	resultCache
	Client redis.UniversalClient
}

// NewRedisCache creates a cache on a new client for opt.
func NewRedisCache(opt *redis.Options, defaultTTL ...time.Duration) *RedisCache {
	return NewRedisCacheClient(redis.NewClient(opt), defaultTTL...)
}

// NewRedisCacheClient creates a cache on an existing client. Shutdown closes it.
func NewRedisCacheClient(client redis.UniversalClient, defaultTTL ...time.Duration) *RedisCache {
	ttl := 5 * time.Minute
	if len(defaultTTL) > 0 {
		ttl = defaultTTL[0]
	}
	m := &RedisCache{Client: client}
	m.resultCache = resultCache{name: "RedisCache", defaultTTL: ttl, store: redisStore{client}}
	return m
}

func (m *RedisCache) Name() string {
	return m.name
}

// Init verifies the server is reachable.
func (m *RedisCache) Init(r *core.Registry) error {
	m.init(r)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Client.Ping(ctx).Err()
}

func (m *RedisCache) Shutdown() error {
	return m.Client.Close()
}

func (m *RedisCache) Process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	return m.process(ctx, stmt, next)
}

type redisStore struct {
	client redis.UniversalClient
}

func (s redisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// set stores data; a zero ttl means no expiration, as in Redis.
func (s redisStore) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, data, ttl).Err()
}
