// Package wikimedia searches Wikimedia Commons through the MediaWiki API.
package wikimedia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
)

const (
	// DefaultAPIURL is the Commons MediaWiki API endpoint.
	DefaultAPIURL = "https://commons.wikimedia.org/w/api.php"

	// SourceName is reported as the source of every result.
	SourceName = "Wikimedia Commons"

	// ThumbnailWidth is the requested thumbnail width in pixels.
	ThumbnailWidth = 300

	defaultTitle   = "Wikimedia Image"
	defaultLink    = "#"
	unknownLicense = "Unknown"
	defaultTimeout = 15 * time.Second
)

// Searcher implements imagesearch.Searcher against the Commons API.
type Searcher struct {
	apiURL    string
	client    *http.Client
	userAgent string
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithAPIURL overrides DefaultAPIURL.
func WithAPIURL(u string) Option {
	return func(s *Searcher) {
		if u != "" {
			s.apiURL = u
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

// WithUserAgent sets the User-Agent header. Wikimedia asks API clients to
// identify themselves.
func WithUserAgent(ua string) Option {
	return func(s *Searcher) {
		s.userAgent = ua
	}
}

// New creates a Commons searcher.
func New(opts ...Option) *Searcher {
	s := &Searcher{
		apiURL: DefaultAPIURL,
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type response struct {
	Query struct {
		Pages map[string]page `json:"pages"`
	} `json:"query"`
}

type page struct {
	Index     int         `json:"index"`
	Title     string      `json:"title"`
	ImageInfo []imageInfo `json:"imageinfo"`
}

type imageInfo struct {
	ThumbURL       string `json:"thumburl"`
	DescriptionURL string `json:"descriptionurl"`
	ExtMetadata    struct {
		LicenseShortName struct {
			Value string `json:"value"`
		} `json:"LicenseShortName"`
	} `json:"extmetadata"`
}

// buildParams returns the generator=search query for query.
func buildParams(query string, limit int) url.Values {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("generator", "search")
	params.Set("gsrsearch", query)
	params.Set("gsrlimit", strconv.Itoa(limit))
	params.Set("prop", "imageinfo")
	params.Set("iiprop", "url|extmetadata")
	params.Set("iiurlwidth", strconv.Itoa(ThumbnailWidth))
	return params
}

// Search queries Commons. Pages without a thumbnail are skipped; the rest are
// returned in search rank order.
func (s *Searcher) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	startTime := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, imagesearch.ErrEmptyQuery
	}

	cfg := imagesearch.NewSearchConfig(opts...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+buildParams(query, cfg.Limit).Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create wikimedia request")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := imagesearch.ContextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, imagesearch.Unavailable(err, "wikimedia request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, imagesearch.Unavailable(errors.Newf("status %d", resp.StatusCode), "wikimedia request failed")
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.WithSecondaryError(imagesearch.ErrInvalidResponse, errors.Wrap(err, "decode wikimedia response"))
	}

	pages := make([]page, 0, len(decoded.Query.Pages))
	for _, p := range decoded.Query.Pages {
		pages = append(pages, p)
	}
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].Index != pages[j].Index {
			return pages[i].Index < pages[j].Index
		}
		return pages[i].Title < pages[j].Title
	})

	items := make([]imagesearch.Image, 0, len(pages))
	for _, p := range pages {
		if img, ok := p.toImage(); ok {
			items = append(items, img)
		}
	}

	return &imagesearch.Results{
		Items:     items,
		Query:     query,
		Timestamp: time.Now().UTC(),
		Took:      time.Since(startTime).Milliseconds(),
	}, nil
}

func (p page) toImage() (imagesearch.Image, bool) {
	if len(p.ImageInfo) == 0 || p.ImageInfo[0].ThumbURL == "" {
		return imagesearch.Image{}, false
	}
	info := p.ImageInfo[0]

	img := imagesearch.Image{
		Title:     p.Title,
		Link:      info.DescriptionURL,
		Thumbnail: info.ThumbURL,
		Source:    SourceName,
		License:   info.ExtMetadata.LicenseShortName.Value,
	}
	if img.Title == "" {
		img.Title = defaultTitle
	}
	if img.Link == "" {
		img.Link = defaultLink
	}
	if img.License == "" {
		img.License = unknownLicense
	}
	return img, true
}
