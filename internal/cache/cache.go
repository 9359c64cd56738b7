// Package cache provides a process-local TTL cache with an optional
// stale-while-revalidate mode for wrapping slow or rate-limited upstream
// calls. State never crosses process boundaries; horizontally scaled
// instances hold independent cache populations.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/daostar/grants-aggregator/internal/metrics"
)

type entry struct {
	value      any
	createdAt  time.Time
	expiresAt  time.Time
	refreshing bool
}

// Cache is a mutex-guarded key/value store with per-entry expiry.
type Cache struct {
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New(logger *slog.Logger) *Cache {
	return &Cache{
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = &entry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
}

// Get returns the value while it is still fresh. An expired entry is evicted
// and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(keyspace(key)).Inc()
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		metrics.CacheMisses.WithLabelValues(keyspace(key)).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(keyspace(key), "fresh").Inc()
	return e.value, true
}

// keyspace is the metric label for a key, its segment before the first ":".
func keyspace(key string) string {
	ns, _, ok := strings.Cut(key, ":")
	if !ok {
		return key
	}
	return ns
}

// Delete evicts key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetWithRefresh returns the cached value for key, fetching synchronously on
// a miss. Once the entry's ttl has expired but the entry is still within
// staleWindow, the stale value is returned immediately and a single
// background refresh is started; concurrent callers observing the same stale
// entry get the stale value without spawning duplicate refreshes. A failed
// refresh is logged and leaves the stale entry in place, re-eligible on the
// next call. Past staleWindow the entry is evicted and the fetch is
// synchronous again.
//
// Synchronous fetches run under the caller's ctx. The background refresh
// runs under a context detached from the caller's cancelation, so it
// outlives the request that triggered it; each outbound call is still
// bounded by its own client timeout.
func (c *Cache) GetWithRefresh(ctx context.Context, key string, ttl, staleWindow time.Duration, fetch func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	now := c.now()

	if ok && now.Before(e.expiresAt) {
		v := e.value
		c.mu.Unlock()
		metrics.CacheHits.WithLabelValues(keyspace(key), "fresh").Inc()
		return v, nil
	}

	if ok && now.Before(e.expiresAt.Add(staleWindow)) {
		v := e.value
		start := !e.refreshing
		if start {
			e.refreshing = true
		}
		c.mu.Unlock()
		if start {
			go c.refresh(context.WithoutCancel(ctx), key, ttl, fetch)
		}
		metrics.CacheHits.WithLabelValues(keyspace(key), "stale").Inc()
		return v, nil
	}

	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	metrics.CacheMisses.WithLabelValues(keyspace(key)).Inc()

	value, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	c.Set(key, value, ttl)
	return value, nil
}

// refresh runs detached from the triggering request. Errors never surface to
// a caller.
func (c *Cache) refresh(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (any, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cache refresh panicked", "key", key, "panic", r)
			c.clearRefreshing(key)
		}
	}()

	value, err := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if err != nil {
		c.logger.Warn("cache refresh failed, keeping stale entry", "key", key, "error", err)
		if ok {
			e.refreshing = false
		}
		return
	}
	now := c.now()
	c.entries[key] = &entry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
}

func (c *Cache) clearRefreshing(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.refreshing = false
	}
}
