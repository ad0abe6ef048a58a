package server

import (
	"context"
	"fmt"
	"maps"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/idea4rc/termserve/internal/metrics"
	"github.com/idea4rc/termserve/pkg/match"
)

type cacheKey struct {
	text      string
	threshold int
}

// CachedMatcher remembers recent match results. Live input re-sends the same
// text many times while the user types, each repeat is answered from memory.
// Every other operation goes straight to the wrapped matcher.
type CachedMatcher struct {
	match.Matcher
	cache *lru.Cache[cacheKey, match.Result]
}

// Ensure CachedMatcher implements match.Matcher.
var _ match.Matcher = (*CachedMatcher)(nil)

// NewCachedMatcher wraps m with an LRU of size entries. size 0 disables caching.
func NewCachedMatcher(m match.Matcher, size int) (*CachedMatcher, error) {
	if size < 0 {
		return nil, fmt.Errorf("cache size must not be negative, got %d", size)
	}
	cm := &CachedMatcher{Matcher: m}
	if size == 0 {
		return cm, nil
	}
	cache, err := lru.New[cacheKey, match.Result](size)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	cm.cache = cache
	return cm, nil
}

// Match answers from the cache when possible. Results are copied both ways
// so callers may modify what they get.
func (c *CachedMatcher) Match(ctx context.Context, text string, threshold int) (match.Result, error) {
	if c.cache == nil {
		return c.Matcher.Match(ctx, text, threshold)
	}

	key := cacheKey{text: text, threshold: threshold}
	if result, ok := c.cache.Get(key); ok {
		metrics.CacheTotal.WithLabelValues("hit").Inc()
		return maps.Clone(result), nil
	}
	metrics.CacheTotal.WithLabelValues("miss").Inc()

	result, err := c.Matcher.Match(ctx, text, threshold)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, maps.Clone(result))
	return result, nil
}

// Len returns the number of cached results.
func (c *CachedMatcher) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
