package aggregate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticSource returns items after delay and counts its calls.
type staticSource struct {
	items []imagesearch.Image
	err   error
	delay time.Duration
	calls int32
}

func (s *staticSource) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &imagesearch.Results{Items: append([]imagesearch.Image(nil), s.items...), Query: query}, nil
}

func (s *staticSource) count() int {
	return int(atomic.LoadInt32(&s.calls))
}

func titles(items []imagesearch.Image) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.Title)
	}
	return strings.Join(parts, ",")
}

func TestSearch_PreservesSourceOrder(t *testing.T) {
	slow := &staticSource{
		delay: 20 * time.Millisecond,
		items: []imagesearch.Image{{Title: "loc-1", License: "Public Domain"}, {Title: "loc-2", License: "Public Domain"}},
	}
	fast := &staticSource{
		items: []imagesearch.Image{{Title: "wm-1", License: "CC BY 4.0"}},
	}

	a := New([]Source{{Name: "loc", Searcher: slow}, {Name: "wikimedia", Searcher: fast}}, WithLogger(quietLogger()))

	res, err := a.Search(context.Background(), "ship")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := titles(res.Items); got != "loc-1,loc-2,wm-1" {
		t.Errorf("Expected source order, got %s", got)
	}
	if res.Timestamp.IsZero() {
		t.Error("Expected timestamp")
	}
}

func TestSearch_SkipsFailingSource(t *testing.T) {
	var logs bytes.Buffer
	bad := &staticSource{err: imagesearch.Unavailable(fmt.Errorf("boom"), "loc request failed")}
	good := &staticSource{items: []imagesearch.Image{{Title: "wm-1"}}}

	a := New([]Source{{Name: "loc", Searcher: bad}, {Name: "wikimedia", Searcher: good}},
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	res, err := a.Search(context.Background(), "ship")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := titles(res.Items); got != "wm-1" {
		t.Errorf("Expected only wikimedia results, got %s", got)
	}
	if !strings.Contains(logs.String(), "source=loc") {
		t.Errorf("Expected failing source to be logged, got %q", logs.String())
	}
}

func TestSearch_AllSourcesFail(t *testing.T) {
	a := New([]Source{
		{Name: "loc", Searcher: &staticSource{err: fmt.Errorf("down")}},
		{Name: "wikimedia", Searcher: &staticSource{err: fmt.Errorf("down")}},
	}, WithLogger(quietLogger()))

	_, err := a.Search(context.Background(), "ship")
	if !errors.Is(err, imagesearch.ErrBackendUnavailable) {
		t.Fatalf("Expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSearch_PublicOnly(t *testing.T) {
	src := &staticSource{items: []imagesearch.Image{
		{Title: "a", License: "Public Domain"},
		{Title: "b", License: "CC BY-SA 4.0"},
		{Title: "c", License: "No known copyright restrictions"},
		{Title: "d", License: "Unknown"},
	}}
	cache := NewCache(CacheOptions{})
	a := New([]Source{{Name: "s", Searcher: src}}, WithCache(cache), WithLogger(quietLogger()))

	res, err := a.Search(context.Background(), "x", imagesearch.WithPublicOnly(true))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := titles(res.Items); got != "a,c" {
		t.Errorf("Expected public domain items only, got %s", got)
	}
	if cache.Len() != 0 {
		t.Error("Expected public-only results not to be cached")
	}

	if _, err := a.Search(context.Background(), "x", imagesearch.WithPublicOnly(true)); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if src.count() != 2 {
		t.Errorf("Expected public-only searches to bypass the cache, got %d calls", src.count())
	}
}

func TestSearch_CachesByNormalizedQuery(t *testing.T) {
	src := &staticSource{items: []imagesearch.Image{{Title: "a"}}}
	var hits, misses int32
	cache := NewCache(CacheOptions{
		OnHit:  func(string) { atomic.AddInt32(&hits, 1) },
		OnMiss: func(string) { atomic.AddInt32(&misses, 1) },
	})
	a := New([]Source{{Name: "s", Searcher: src}}, WithCache(cache), WithLogger(quietLogger()))

	for _, q := range []string{"Cat", "cat", "  CAT "} {
		res, err := a.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(res.Items) != 1 {
			t.Fatalf("Search(%q): expected 1 item, got %d", q, len(res.Items))
		}
		// Mutating a returned result must not leak into the cache.
		res.Items[0].Title = "mutated"
	}

	if src.count() != 1 {
		t.Errorf("Expected 1 upstream call, got %d", src.count())
	}
	if hits != 2 || misses != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %d and %d", hits, misses)
	}

	res, _ := a.Search(context.Background(), "cat")
	if res.Items[0].Title != "a" {
		t.Errorf("Expected cached item to be untouched, got %q", res.Items[0].Title)
	}
}

func TestSearch_CacheKeyIncludesLimit(t *testing.T) {
	var calls int32
	src := imagesearch.SearcherFunc(func(_ context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
		atomic.AddInt32(&calls, 1)
		cfg := imagesearch.NewSearchConfig(opts...)
		items := make([]imagesearch.Image, cfg.Limit)
		for i := range items {
			items[i].Title = fmt.Sprintf("img%d", i)
		}
		return &imagesearch.Results{Items: items, Query: query}, nil
	})

	var mu sync.Mutex
	var missKeys []string
	cache := NewCache(CacheOptions{
		OnMiss: func(key string) {
			mu.Lock()
			missKeys = append(missKeys, key)
			mu.Unlock()
		},
	})
	a := New([]Source{{Name: "s", Searcher: src}}, WithCache(cache), WithLogger(quietLogger()))

	for _, tt := range []struct {
		query string
		limit int
		want  int
	}{
		{"cat", 1, 1},
		{"cat", 3, 3},
		{"CAT", 1, 1},
	} {
		res, err := a.Search(context.Background(), tt.query, imagesearch.WithLimit(tt.limit))
		if err != nil {
			t.Fatalf("Search(%q, limit %d): %v", tt.query, tt.limit, err)
		}
		if len(res.Items) != tt.want {
			t.Errorf("Search(%q, limit %d): expected %d items, got %d", tt.query, tt.limit, tt.want, len(res.Items))
		}
	}

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", n)
	}
	if len(missKeys) != 2 || missKeys[0] == missKeys[1] {
		t.Errorf("Expected two distinct miss keys, got %q", missKeys)
	}
	if cache.Len() != 2 {
		t.Errorf("Expected 2 cache entries, got %d", cache.Len())
	}
}

func TestSearch_FilteredBypassesCache(t *testing.T) {
	src := &staticSource{items: []imagesearch.Image{{Title: "a", Source: "flickr"}}}
	cache := NewCache(CacheOptions{})
	a := New([]Source{{Name: "s", Searcher: src}}, WithCache(cache), WithLogger(quietLogger()))

	filter := imagesearch.Eq(imagesearch.FieldSource, "flickr")
	for range 2 {
		if _, err := a.Search(context.Background(), "cat", filter); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}

	if src.count() != 2 {
		t.Errorf("Expected filtered searches to bypass the cache, got %d calls", src.count())
	}
	if cache.Len() != 0 {
		t.Errorf("Expected an empty cache, got %d entries", cache.Len())
	}
}

func TestCacheKey(t *testing.T) {
	base := CacheKey(" Cat ", imagesearch.NewSearchConfig())
	if got := CacheKey("cat", imagesearch.NewSearchConfig()); got != base {
		t.Errorf("Expected case and space to be folded, got %q and %q", got, base)
	}
	if got := CacheKey("cat", imagesearch.NewSearchConfig(imagesearch.WithLimit(5))); got == base {
		t.Errorf("Expected a different key for a different limit, got %q", got)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	a := New(nil, WithLogger(quietLogger()))
	if _, err := a.Search(context.Background(), "  "); !errors.Is(err, imagesearch.ErrEmptyQuery) {
		t.Errorf("Expected ErrEmptyQuery, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := New(nil).Validate(); !errors.Is(err, ErrNoSources) {
		t.Errorf("Expected ErrNoSources, got %v", err)
	}
	if err := New([]Source{{Name: "nil"}}).Validate(); err == nil {
		t.Error("Expected error for nil searcher")
	}
	a := New([]Source{{Name: "a", Searcher: &staticSource{}}, {Name: "b", Searcher: &staticSource{}}})
	if err := a.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if got := strings.Join(a.Sources(), ","); got != "a,b" {
		t.Errorf("Expected sources a,b, got %s", got)
	}
}

func TestCache_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCache(CacheOptions{TTL: time.Minute})
	cache.now = func() time.Time { return now }

	var loads int
	load := func(context.Context) (*imagesearch.Results, error) {
		loads++
		return &imagesearch.Results{Items: []imagesearch.Image{{Title: "a"}}}, nil
	}

	if _, hit, _ := cache.Get(context.Background(), "q", load); hit {
		t.Error("Expected first lookup to miss")
	}
	now = now.Add(30 * time.Second)
	if _, hit, _ := cache.Get(context.Background(), "q", load); !hit {
		t.Error("Expected lookup within TTL to hit")
	}
	now = now.Add(time.Minute)
	if _, hit, _ := cache.Get(context.Background(), "q", load); hit {
		t.Error("Expected lookup after TTL to miss")
	}
	if loads != 2 {
		t.Errorf("Expected 2 loads, got %d", loads)
	}
}

func TestCache_MaxEntries(t *testing.T) {
	cache := NewCache(CacheOptions{MaxEntries: 2})
	load := func(context.Context) (*imagesearch.Results, error) {
		return &imagesearch.Results{}, nil
	}

	for _, q := range []string{"a", "b", "c"} {
		if _, _, err := cache.Get(context.Background(), q, load); err != nil {
			t.Fatalf("Get(%q): %v", q, err)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("Expected 2 entries, got %d", cache.Len())
	}
	if _, ok := cache.lookup("a"); ok {
		t.Error("Expected oldest entry to be evicted")
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", cache.Len())
	}
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	cache := NewCache(CacheOptions{})
	fail := func(context.Context) (*imagesearch.Results, error) {
		return nil, fmt.Errorf("down")
	}
	if _, _, err := cache.Get(context.Background(), "q", fail); err == nil {
		t.Fatal("Expected error")
	}
	if cache.Len() != 0 {
		t.Errorf("Expected no entries, got %d", cache.Len())
	}
}

func TestCache_SharesConcurrentLoads(t *testing.T) {
	cache := NewCache(CacheOptions{})
	release := make(chan struct{})
	var loads int32
	load := func(context.Context) (*imagesearch.Results, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return &imagesearch.Results{Items: []imagesearch.Image{{Title: "a"}}}, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			if _, _, err := cache.Get(context.Background(), "q", load); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("Expected callers to share 1 load, got %d", n)
	}
	if cache.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", cache.Len())
	}
}

func TestCache_CallerCanceled(t *testing.T) {
	cache := NewCache(CacheOptions{})
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := cache.Get(ctx, "q", func(context.Context) (*imagesearch.Results, error) {
		<-release
		return &imagesearch.Results{}, nil
	})
	if !errors.Is(err, imagesearch.ErrCanceled) {
		t.Errorf("Expected ErrCanceled, got %v", err)
	}
}
