package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shrek82/dbutil/core"
	"github.com/shrek82/dbutil/logger"
	"github.com/shrek82/dbutil/record"
)

// Special TTL values for WithCacheTTL.
const (
	// Forever caches without expiry.
	Forever time.Duration = -1
	// UseDefault caches for the middleware's default TTL.
	UseDefault time.Duration = -2
)

// KeyPrefix starts every cache key.
const KeyPrefix = "dbutil:cache:"

type cacheTTLKey struct{}

// WithCacheTTL marks queries run with ctx as cacheable for ttl. A ttl of 0
// disables caching; Forever and UseDefault are also accepted.
func WithCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheTTLKey{}, ttl)
}

// cacheTTL resolves the TTL requested by ctx. ok is false when the query
// should not be cached; a zero ttl with ok means no expiry.
func cacheTTL(ctx context.Context, def time.Duration) (ttl time.Duration, ok bool) {
	v, found := ctx.Value(cacheTTLKey{}).(time.Duration)
	if !found {
		return 0, false
	}
	switch {
	case v == Forever:
		return 0, true
	case v == UseDefault:
		if def <= 0 {
			return 0, true
		}
		return def, true
	case v > 0:
		return v, true
	}
	return 0, false
}

// CacheKey identifies a query by datasource, SQL and arguments. ok is false
// when the arguments cannot be encoded.
func CacheKey(stmt *core.Statement) (key string, ok bool) {
	args, err := json.Marshal(stmt.Args)
	if err != nil {
		return "", false
	}
	h := sha256.New()
	h.Write([]byte(stmt.Datasource))
	h.Write([]byte{0})
	h.Write([]byte(stmt.SQL))
	h.Write([]byte{0})
	h.Write(args)
	return KeyPrefix + hex.EncodeToString(h.Sum(nil)), true
}

// store is a cache backend. A missing or expired key is (nil, false, nil).
type store interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// resultCache holds what the cache middlewares share.
type resultCache struct {
	name       string
	defaultTTL time.Duration
	store      store
	log        *zap.Logger
}

func (c *resultCache) init(r *core.Registry) {
	if c.log == nil {
		c.log = r.Logger().With(zap.String("middleware", c.name))
	}
}

// process serves a cacheable query from the store or runs it and stores
// the rows. Queries inside a transaction are never cached. Store failures
// are logged and the statement runs as if uncached.
func (c *resultCache) process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	if stmt.Kind != core.KindQuery {
		return next(ctx, stmt)
	}
	if _, inTx := stmt.Fields["tx"]; inTx {
		return next(ctx, stmt)
	}
	ttl, ok := cacheTTL(ctx, c.defaultTTL)
	if !ok {
		return next(ctx, stmt)
	}
	key, ok := CacheKey(stmt)
	if !ok {
		return next(ctx, stmt)
	}
	log := logger.OrNop(c.log)

	data, found, err := c.store.get(ctx, key)
	if err != nil {
		log.Warn("cache read failed", zap.String("error", err.Error()))
	} else if found {
		var rows record.Rows
		if err := json.Unmarshal(data, &rows); err == nil {
			log.Debug("cache hit", zap.String("datasource", stmt.Datasource), zap.String("key", key))
			return &core.Outcome{Rows: rows, Cached: true}, nil
		}
		log.Warn("discarding undecodable cache entry", zap.String("key", key))
	}

	out, err := next(ctx, stmt)
	if err != nil {
		return out, err
	}
	data, err = json.Marshal(out.Rows)
	if err != nil {
		log.Warn("cache encode failed", zap.Error(err))
		return out, nil
	}
	if err := c.store.set(ctx, key, data, ttl); err != nil {
		log.Warn("cache write failed", zap.String("error", err.Error()))
	}
	return out, nil
}
