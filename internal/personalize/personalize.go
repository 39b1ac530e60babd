// Package personalize memoizes pipeline output per profile with a TTL and
// at most one concurrent compute per profile key.
package personalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
)

// DefaultTTL is how long a computed digest is served as fresh.
const DefaultTTL = 30 * time.Minute

type CacheEntry struct {
	ProfileKey        string         `json:"profile_key"`
	Articles          []news.Article `json:"articles"`
	CreatedAt         time.Time      `json:"created_at"`
	SourceProfileText string         `json:"source_profile_text"`
}

// EntryStore holds entries past their TTL so a stale digest can still be
// served when a recompute fails. Freshness is decided by Cache.
type EntryStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, e CacheEntry) error
	Delete(ctx context.Context, key string) error
	Purge(ctx context.Context) error
}

// ComputeFunc runs the full pipeline for a profile.
type ComputeFunc func(ctx context.Context, profile news.Profile) ([]news.Article, error)

type Cache struct {
	store EntryStore
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
	log   *slog.Logger
}

func New(store EntryStore, ttl time.Duration, log *slog.Logger) *Cache {
	if store == nil {
		store = NewMemoryStore(24 * time.Hour)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, now: time.Now, log: log}
}

// WithClock replaces the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// GetOrCompute returns the cached digest for profile or runs compute. Callers
// that arrive while a compute for the same key is running share its result.
// A failed compute is returned and nothing is stored.
func (c *Cache) GetOrCompute(ctx context.Context, profile news.Profile, compute ComputeFunc) ([]news.Article, error) {
	key := profile.Key()

	if e := c.fresh(ctx, key); e != nil {
		metrics.Global.IncrementCacheHit()
		c.log.Debug("Digest cache hit", "profile_key", key, "age", c.now().Sub(e.CreatedAt).Round(time.Second))
		return cloneArticles(e.Articles), nil
	}
	metrics.Global.IncrementCacheMiss()

	// The compute outlives any single waiter's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// another flight may have finished between our check and now
		if e := c.fresh(flightCtx, key); e != nil {
			return e.Articles, nil
		}

		start := c.now()
		articles, err := compute(flightCtx, profile)
		if err != nil {
			return nil, err
		}

		entry := CacheEntry{
			ProfileKey:        key,
			Articles:          articles,
			CreatedAt:         c.now(),
			SourceProfileText: key,
		}
		if err := c.store.Set(flightCtx, entry); err != nil {
			c.log.Warn("Can't store digest", "profile_key", key, "error", err)
		}
		c.log.Info("Digest computed", "profile_key", key, "articles", len(articles), "took", c.now().Sub(start).Round(time.Millisecond))
		return articles, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("compute digest: %w", res.Err)
		}
		if res.Shared {
			c.log.Debug("Shared in-flight digest", "profile_key", key)
		}
		return cloneArticles(res.Val.([]news.Article)), nil
	}
}

// fresh returns the stored entry for key if it is within TTL and was built
// from the same profile text.
func (c *Cache) fresh(ctx context.Context, key string) *CacheEntry {
	e, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("Cache store read failed", "profile_key", key, "error", err)
		return nil
	}
	if e == nil {
		return nil
	}
	if e.SourceProfileText != key {
		return nil
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		return nil
	}
	return e
}

// Stale returns whatever entry is stored for key regardless of age, for
// last-resort delivery when a compute fails.
func (c *Cache) Stale(ctx context.Context, key string) ([]news.Article, bool) {
	e, err := c.store.Get(ctx, key)
	if err != nil || e == nil || len(e.Articles) == 0 {
		return nil, false
	}
	return cloneArticles(e.Articles), true
}

// ForceInvalidate drops the entry for key so the next call recomputes.
func (c *Cache) ForceInvalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Cache) Purge(ctx context.Context) error {
	return c.store.Purge(ctx)
}

func cloneArticles(in []news.Article) []news.Article {
	if in == nil {
		return nil
	}
	out := make([]news.Article, len(in))
	copy(out, in)
	return out
}
