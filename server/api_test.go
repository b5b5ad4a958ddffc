package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/segmentio/ksuid"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.FixedZone("X", 3600))

// recordingSearcher answers with items and records every call.
type recordingSearcher struct {
	mu    sync.Mutex
	calls []searchCall
	items []imagesearch.Image
	err   error
}

type searchCall struct {
	query      string
	publicOnly bool
}

func (s *recordingSearcher) Search(_ context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	cfg := imagesearch.NewSearchConfig(opts...)
	s.mu.Lock()
	s.calls = append(s.calls, searchCall{query: query, publicOnly: cfg.PublicOnly})
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &imagesearch.Results{Items: s.items, Query: query}, nil
}

func newTestAPI(searcher imagesearch.Searcher) *httptest.Server {
	api := NewAPI(searcher, WithLogger(quietLogger()), WithClock(func() time.Time { return fixedNow }))
	return httptest.NewServer(api.Handler())
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestSearchEndpoint(t *testing.T) {
	owl := imagesearch.Image{Title: "Owl", Link: "https://x/o", Thumbnail: "https://x/o_t.jpg", Source: "Library of Congress", License: "Public Domain"}

	tests := []struct {
		name       string
		rawQuery   string
		wantCall   *searchCall
		wantStatus int
		wantBody   string
	}{
		{
			name:       "normalizes query",
			rawQuery:   "q=%20%20Barn%20OWL%20&public_only=false",
			wantCall:   &searchCall{query: "barn owl"},
			wantStatus: http.StatusOK,
			wantBody:   `{"results":[{"title":"Owl","link":"https://x/o","thumbnail":"https://x/o_t.jpg","source":"Library of Congress","license":"Public Domain"}],"query":"barn owl","timestamp":"2025-03-14T14:09:26Z"}`,
		},
		{
			name:       "public only is case insensitive",
			rawQuery:   "q=owl&public_only=TRUE",
			wantCall:   &searchCall{query: "owl", publicOnly: true},
			wantStatus: http.StatusOK,
		},
		{
			name:       "other public only values are false",
			rawQuery:   "q=owl&public_only=1",
			wantCall:   &searchCall{query: "owl"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty query",
			rawQuery:   "q=%20%20",
			wantStatus: http.StatusOK,
			wantBody:   `{"results":[]}`,
		},
		{
			name:       "missing query",
			wantStatus: http.StatusOK,
			wantBody:   `{"results":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &recordingSearcher{items: []imagesearch.Image{owl}}
			srv := newTestAPI(searcher)
			defer srv.Close()

			resp, body := get(t, srv.URL+"/api/search?"+tt.rawQuery)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Expected JSON content type, got %q", ct)
			}
			if tt.wantBody != "" && strings.TrimSpace(body) != tt.wantBody {
				t.Errorf("Unexpected body:\n got %s\nwant %s", strings.TrimSpace(body), tt.wantBody)
			}

			if tt.wantCall == nil {
				if len(searcher.calls) != 0 {
					t.Errorf("Expected no search, got %+v", searcher.calls)
				}
				return
			}
			if len(searcher.calls) != 1 || searcher.calls[0] != *tt.wantCall {
				t.Errorf("Expected call %+v, got %+v", *tt.wantCall, searcher.calls)
			}
		})
	}
}

func TestSearchEndpoint_NilItems(t *testing.T) {
	srv := newTestAPI(&recordingSearcher{})
	defer srv.Close()

	_, body := get(t, srv.URL+"/api/search?q=owl")

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if string(decoded["results"]) != "[]" {
		t.Errorf("Expected empty results array, got %s", decoded["results"])
	}
}

func TestSearchEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"all sources failed", imagesearch.Unavailable(errors.New("boom"), "every image source failed"), http.StatusBadGateway},
		{"timeout", imagesearch.ErrTimeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestAPI(&recordingSearcher{err: tt.err})
			defer srv.Close()

			resp, body := get(t, srv.URL+"/api/search?q=owl")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}

			var decoded searchResponse
			if err := json.Unmarshal([]byte(body), &decoded); err != nil {
				t.Fatalf("Invalid JSON: %v", err)
			}
			if decoded.Results == nil || len(decoded.Results) != 0 {
				t.Errorf("Expected empty results, got %+v", decoded.Results)
			}
			if decoded.Error == "" {
				t.Error("Expected an error message")
			}
			if strings.Contains(decoded.Error, "boom") {
				t.Errorf("Error message leaks the cause: %q", decoded.Error)
			}
		})
	}
}

func TestAPIRoutes(t *testing.T) {
	srv := newTestAPI(&recordingSearcher{})
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, Banner},
		{"/healthz", http.StatusOK, "ok"},
		{"/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, srv.URL+tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if !strings.Contains(body, tt.wantBody) {
				t.Errorf("Expected body to contain %q, got %q", tt.wantBody, body)
			}
		})
	}

	resp, err := http.Post(srv.URL+"/api/search?q=owl", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", resp.StatusCode)
	}
}

func TestRequestID(t *testing.T) {
	srv := newTestAPI(&recordingSearcher{})
	defer srv.Close()

	caller := ksuid.New().String()

	tests := []struct {
		name     string
		incoming string
		wantKept bool
	}{
		{name: "generated when missing"},
		{name: "valid ksuid is kept", incoming: caller, wantKept: true},
		{name: "arbitrary text is replaced", incoming: "caller-id"},
		{name: "oversized value is replaced", incoming: strings.Repeat("a", 4096)},
		{name: "ksuid length with foreign characters is replaced", incoming: "not-a-ksuid-but-27-chars!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			got := resp.Header.Get(RequestIDHeader)
			if tt.wantKept {
				if got != tt.incoming {
					t.Errorf("Expected incoming request ID to be kept, got %q", got)
				}
				return
			}
			if got == tt.incoming {
				t.Errorf("Expected incoming request ID %q to be replaced", tt.incoming)
			}
			if _, err := ksuid.Parse(got); err != nil {
				t.Errorf("Expected a generated ksuid request ID, got %q: %v", got, err)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := imagesearch.SearcherFunc(func(context.Context, string, ...imagesearch.SearchOption) (*imagesearch.Results, error) {
		panic("boom")
	})
	srv := newTestAPI(panicking)
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/api/search?q=owl")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 after a panic, got %d", resp.StatusCode)
	}

	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Errorf("Expected the server to keep serving, got %d %q", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := NewMetrics()
	api := NewAPI(&recordingSearcher{}, WithLogger(quietLogger()), WithMetrics(metrics))
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	get(t, srv.URL+"/api/search?q=owl")
	get(t, srv.URL+"/nope")
	metrics.CacheHit("owl")
	metrics.CacheMiss("cat")
	metrics.CacheMiss("dog")

	_, body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		`imagesearch_http_requests_total{endpoint="/api/search",method="GET",status="200"} 1`,
		`imagesearch_http_requests_total{endpoint="unknown",method="GET",status="404"} 1`,
		"imagesearch_http_request_duration_seconds_bucket",
		"imagesearch_cache_hits_total 1",
		"imagesearch_cache_misses_total 2",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}
