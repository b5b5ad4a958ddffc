// Package loc searches the Library of Congress photo collection.
package loc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
)

const (
	// DefaultBaseURL is the photo collection search endpoint.
	DefaultBaseURL = "https://www.loc.gov/photos/"

	// SourceName is reported as the source of every result.
	SourceName = "Library of Congress"

	// License is reported for every result; the collection is public domain.
	License = "Public Domain"

	defaultTitle   = "LOC Image"
	defaultTimeout = 15 * time.Second
)

// Searcher implements imagesearch.Searcher against the loc.gov JSON API.
type Searcher struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(s *Searcher) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// WithHTTPClient replaces the default client, which times out after 15s.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Searcher) {
		if c != nil {
			s.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(s *Searcher) {
		s.userAgent = ua
	}
}

// New creates a Library of Congress searcher.
func New(opts ...Option) *Searcher {
	s := &Searcher{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type response struct {
	Results []item `json:"results"`
}

type item struct {
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Image    []string `json:"image"`
	ImageURL []string `json:"image_url"`
}

func (it item) thumbnail() string {
	images := it.Image
	if len(images) == 0 {
		images = it.ImageURL
	}
	if len(images) == 0 {
		return ""
	}
	thumb := images[0]
	if strings.HasPrefix(thumb, "//") {
		thumb = "https:" + thumb
	}
	return thumb
}

// Search queries the collection. Items without an image are skipped.
func (s *Searcher) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	startTime := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, imagesearch.ErrEmptyQuery
	}

	endpoint, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse loc url")
	}
	params := endpoint.Query()
	params.Set("q", query)
	params.Set("fo", "json")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create loc request")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := imagesearch.ContextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, imagesearch.Unavailable(err, "loc request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, imagesearch.Unavailable(errors.Newf("status %d", resp.StatusCode), "loc request failed")
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.WithSecondaryError(imagesearch.ErrInvalidResponse, errors.Wrap(err, "decode loc response"))
	}

	items := make([]imagesearch.Image, 0, len(decoded.Results))
	for _, it := range decoded.Results {
		thumb := it.thumbnail()
		if thumb == "" {
			continue
		}
		title := it.Title
		if title == "" {
			title = defaultTitle
		}
		items = append(items, imagesearch.Image{
			Title:     title,
			Link:      it.URL,
			Thumbnail: thumb,
			Source:    SourceName,
			License:   License,
		})
	}

	return &imagesearch.Results{
		Items:     items,
		Query:     query,
		Timestamp: time.Now().UTC(),
		Took:      time.Since(startTime).Milliseconds(),
	}, nil
}
