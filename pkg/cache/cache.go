// Package cache is a bounded in-process cache that loads missing entries through a
// callback. Concurrent misses for one key share a single load.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidSize is returned by New for a non-positive size.
var ErrInvalidSize = errors.New("cache: size must be positive")

// Loader produces the value for a key on a miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl time.Duration
}

// WithTTL expires entries ttl after they were stored. Zero keeps entries until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// Cache is safe for concurrent use. Failed loads are not cached.
type Cache[V any] struct {
	entries  *expirable.LRU[string, V]
	inflight singleflight.Group
}

// New returns a cache holding at most size entries.
func New[V any](size int, opts ...Option) (*Cache[V], error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[V]{entries: expirable.NewLRU[string, V](size, nil, o.ttl)}, nil
}

// Fetch returns the value for key and whether it was already cached. On a miss, load runs
// once per key no matter how many callers are waiting; they all receive its result.
func (c *Cache[V]) Fetch(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	if v, ok := c.entries.Get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		loaded, err := load(ctx, key)
		if err != nil {
			return nil, err
		}

		c.entries.Add(key, loaded)

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, false, err
	}

	return v.(V), false, nil
}

// Remove drops key.
func (c *Cache[V]) Remove(key string) {
	c.entries.Remove(key)
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
