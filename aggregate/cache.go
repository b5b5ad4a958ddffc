package aggregate

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/letmevibethatforyou/imagesearch"
	"golang.org/x/sync/singleflight"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// TTL is how long an entry is served. Zero keeps entries until evicted.
	TTL time.Duration

	// MaxEntries bounds the cache size. Zero means unbounded. The oldest
	// entry is evicted first.
	MaxEntries int

	// OnHit and OnMiss are called with the cache key on every lookup.
	OnHit  func(key string)
	OnMiss func(key string)
}

type cacheEntry struct {
	results   *imagesearch.Results
	expiresAt time.Time
}

// Cache holds aggregated results by key, see CacheKey. Concurrent misses for
// the same key share a single load.
type Cache struct {
	opts CacheOptions
	now  func() time.Time
	sf   singleflight.Group

	mu    sync.Mutex
	items map[string]cacheEntry
	order []string
}

// NewCache creates an empty cache.
func NewCache(opts CacheOptions) *Cache {
	return &Cache{
		opts:  opts,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// NormalizeQuery folds case and surrounding space out of query.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// CacheKey returns the key of a search for query under cfg. Searches that
// differ only in case or surrounding space share a key; searches with
// different limits do not.
func CacheKey(query string, cfg *imagesearch.SearchConfig) string {
	return NormalizeQuery(query) + "\x00limit=" + strconv.Itoa(cfg.Limit)
}

// Loader produces results on a cache miss.
type Loader func(ctx context.Context) (*imagesearch.Results, error)

// Get returns the cached results for key, calling load on a miss. Errors
// are never cached. The load runs detached from ctx cancellation so that one
// impatient caller does not fail the others waiting on it.
func (c *Cache) Get(ctx context.Context, key string, load Loader) (*imagesearch.Results, bool, error) {
	if res, ok := c.lookup(key); ok {
		if c.opts.OnHit != nil {
			c.opts.OnHit(key)
		}
		return res, true, nil
	}
	if c.opts.OnMiss != nil {
		c.opts.OnMiss(key)
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (interface{}, error) {
		res, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.store(key, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, imagesearch.ContextError(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return copyResults(r.Val.(*imagesearch.Results)), false, nil
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheEntry)
	c.order = nil
}

func (c *Cache) lookup(key string) (*imagesearch.Results, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	return copyResults(e.results), true
}

func (c *Cache) store(key string, res *imagesearch.Results) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{results: copyResults(res)}
	if c.opts.TTL > 0 {
		e.expiresAt = c.now().Add(c.opts.TTL)
	}

	if _, exists := c.items[key]; exists {
		c.removeLocked(key)
	}
	c.items[key] = e
	c.order = append(c.order, key)

	for c.opts.MaxEntries > 0 && len(c.order) > c.opts.MaxEntries {
		c.removeLocked(c.order[0])
	}
}

func (c *Cache) removeLocked(key string) {
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func copyResults(res *imagesearch.Results) *imagesearch.Results {
	if res == nil {
		return nil
	}
	out := *res
	out.Items = append([]imagesearch.Image(nil), res.Items...)
	if out.Items == nil {
		out.Items = []imagesearch.Image{}
	}
	return &out
}
