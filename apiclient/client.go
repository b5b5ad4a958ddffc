// Package apiclient talks to an image search service over its HTTP contract:
//
//	GET /api/search?q=<query>&public_only=<true|false>
//
// The response body is a JSON object whose "results" field holds the images.
// A missing or null "results" field decodes as zero results.
package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SearchPath is the path of the search endpoint relative to the base URL.
const SearchPath = "/api/search"

// Query parameter names of the search endpoint.
const (
	ParamQuery      = "q"
	ParamPublicOnly = "public_only"
)

// Client implements imagesearch.Searcher against a remote search service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. The default has no
// timeout; callers bound requests with their context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "apiclient: parse base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("apiclient: base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		tracer:     otel.Tracer("imagesearch-apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SearchURL returns the request URL for query and publicOnly.
func (c *Client) SearchURL(query string, publicOnly bool) string {
	params := url.Values{}
	params.Set(ParamQuery, query)
	params.Set(ParamPublicOnly, strconv.FormatBool(publicOnly))
	return c.baseURL + SearchPath + "?" + params.Encode()
}

type searchResponse struct {
	Results   []imagesearch.Image `json:"results"`
	Query     string              `json:"query"`
	Timestamp string              `json:"timestamp"`
}

// Search issues exactly one GET request. Network failures and non-2xx
// statuses match imagesearch.ErrBackendUnavailable; undecodable bodies match
// imagesearch.ErrInvalidResponse.
func (c *Client) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	startTime := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, imagesearch.ErrEmptyQuery
	}

	cfg := imagesearch.NewSearchConfig(opts...)

	ctx, span := c.tracer.Start(ctx, "apiclient.search",
		trace.WithAttributes(
			attribute.String("imagesearch.query", query),
			attribute.Bool("imagesearch.public_only", cfg.PublicOnly),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(query, cfg.PublicOnly), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build request")
		return nil, errors.Wrap(err, "apiclient: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctxErr := imagesearch.ContextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, imagesearch.Unavailable(err, "search request failed")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain a little of the body so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := errors.Newf("search service returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, imagesearch.Unavailable(err, "search request failed")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response")
		if ctxErr := imagesearch.ContextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, imagesearch.Unavailable(err, "read search response")
	}

	// The whole body must be one JSON document; a valid prefix is not enough.
	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode response")
		return nil, errors.WithSecondaryError(imagesearch.ErrInvalidResponse, errors.Wrap(err, "decode search response"))
	}

	results := &imagesearch.Results{
		Items: decoded.Results,
		Query: query,
		Took:  time.Since(startTime).Milliseconds(),
	}
	if results.Items == nil {
		results.Items = []imagesearch.Image{}
	}
	if ts, err := time.Parse(time.RFC3339, decoded.Timestamp); err == nil {
		results.Timestamp = ts
	}

	span.SetAttributes(attribute.Int("imagesearch.result_count", len(results.Items)))
	span.SetStatus(codes.Ok, "search completed")
	return results, nil
}
