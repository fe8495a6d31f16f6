package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/facility"
)

// DefaultKeyPrefix namespaces cached responses.
const DefaultKeyPrefix = "atlas:search:"

// CachedSearcher caches Search responses in Redis. Cache errors are logged
// and the request falls through to the wrapped Searcher; errors from the
// wrapped Searcher are never cached.
type CachedSearcher struct {
	next   Searcher
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewCachedSearcher wraps next with a Redis response cache.
func NewCachedSearcher(next Searcher, client redis.UniversalClient, ttl time.Duration) *CachedSearcher {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedSearcher{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
		log:    zap.L().With(zap.String("component", "search_cache")),
	}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "search: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "search: ping redis")
	}
	return client, nil
}

// Key returns the cache key for req. Requests json cannot encode (NaN or
// infinite coordinates) have no key.
func (c *CachedSearcher) Key(req Request) (string, error) {
	b, err := json.Marshal(Canonical(req))
	if err != nil {
		return "", eris.Wrap(err, "search: cache key")
	}
	sum := sha256.Sum256(b)
	return c.prefix + hex.EncodeToString(sum[:]), nil
}

// Search implements Searcher.
func (c *CachedSearcher) Search(ctx context.Context, req Request) (*Response, error) {
	key, err := c.Key(req)
	if err != nil {
		return c.next.Search(ctx, req)
	}

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var resp Response
		if jerr := json.Unmarshal(cached, &resp); jerr == nil {
			return &resp, nil
		}
		c.log.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("cache read failed", zap.Error(err))
	}

	resp, err := c.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(resp); err == nil {
		if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Warn("cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}

// Types implements Searcher.
func (c *CachedSearcher) Types(ctx context.Context) ([]facility.TypeInfo, error) {
	return c.next.Types(ctx)
}

// Get implements Searcher.
func (c *CachedSearcher) Get(ctx context.Context, id string) (*facility.Facility, error) {
	return c.next.Get(ctx, id)
}

// Purge drops every cached response. Imports and deletes call it so stale
// pages do not outlive a write.
func (c *CachedSearcher) Purge(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return removed, eris.Wrap(err, "search: scan cache keys")
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, eris.Wrap(err, "search: delete cache keys")
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
