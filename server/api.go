package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/letmevibethatforyou/imagesearch/apiclient"
)

// Banner is the body of GET / on the API.
const Banner = "Public Domain Image Search API is running."

// API serves the search endpoint over an imagesearch.Searcher, normally an
// aggregate.Aggregator.
type API struct {
	searcher imagesearch.Searcher
	options
}

// NewAPI creates an API answering from searcher.
func NewAPI(searcher imagesearch.Searcher, opts ...Option) *API {
	return &API{
		searcher: searcher,
		options:  newOptions(opts),
	}
}

type searchResponse struct {
	Results   []imagesearch.Image `json:"results"`
	Query     string              `json:"query,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Handler returns the routes of the API wrapped in request logging.
func (a *API) Handler() http.Handler {
	engine := newEngine(a.options)
	engine.GET(apiclient.SearchPath, a.handleSearch)
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "%s\n", Banner)
	})
	return engine
}

func (a *API) handleSearch(c *gin.Context) {
	ctx := c.Request.Context()

	query := strings.ToLower(strings.TrimSpace(c.Query(apiclient.ParamQuery)))
	publicOnly := strings.EqualFold(c.Query(apiclient.ParamPublicOnly), "true")

	if query == "" {
		c.JSON(http.StatusOK, searchResponse{Results: []imagesearch.Image{}})
		return
	}

	res, err := a.searcher.Search(ctx, query, imagesearch.WithPublicOnly(publicOnly))
	if err != nil {
		status, msg := errorStatus(err)
		a.logger.ErrorContext(ctx, "Search failed",
			"request_id", RequestID(ctx),
			"query", query,
			"public_only", publicOnly,
			"status", status,
			"error", err,
		)
		c.JSON(status, searchResponse{Results: []imagesearch.Image{}, Query: query, Error: msg})
		return
	}

	items := res.Items
	if items == nil {
		items = []imagesearch.Image{}
	}

	c.JSON(http.StatusOK, searchResponse{
		Results:   items,
		Query:     query,
		Timestamp: a.now().UTC().Format(time.RFC3339),
	})
}

// errorStatus maps a search error onto an HTTP status and a message safe to
// return to clients.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, imagesearch.ErrBackendUnavailable):
		return http.StatusBadGateway, "image sources unavailable"
	case errors.Is(err, imagesearch.ErrTimeout):
		return http.StatusGatewayTimeout, "search timed out"
	case errors.Is(err, imagesearch.ErrCanceled):
		return http.StatusServiceUnavailable, "search canceled"
	case errors.Is(err, imagesearch.ErrEmptyQuery), errors.Is(err, imagesearch.ErrInvalidOption):
		return http.StatusBadRequest, "invalid search"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
