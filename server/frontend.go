package server

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/letmevibethatforyou/imagesearch/apiclient"
	"github.com/letmevibethatforyou/imagesearch/widget"
)

// Frontend serves the search widget as an HTML page. The page's form
// submits back to "/" with the widget's query and public-only state, which
// the handler replays as widget events before rendering.
type Frontend struct {
	searcher imagesearch.Searcher
	options
}

// NewFrontend creates a page server whose widgets search through searcher,
// normally an apiclient.Client pointed at the search API.
func NewFrontend(searcher imagesearch.Searcher, opts ...Option) *Frontend {
	return &Frontend{
		searcher: searcher,
		options:  newOptions(opts),
	}
}

// Handler returns the routes of the page server wrapped in request logging.
func (f *Frontend) Handler() http.Handler {
	engine := newEngine(f.options)
	engine.GET("/", f.handlePage)
	return engine
}

func (f *Frontend) handlePage(c *gin.Context) {
	ctx := c.Request.Context()

	wd := widget.New(f.searcher, widget.WithLogger(f.logger.With("request_id", RequestID(ctx))))
	wd.SetQuery(c.Query(apiclient.ParamQuery))
	wd.SetPublicOnly(strings.EqualFold(c.Query(apiclient.ParamPublicOnly), "true"))
	wd.Click(ctx)

	var page bytes.Buffer
	if err := widget.RenderHTML(&page, "/", wd.State()); err != nil {
		f.logger.ErrorContext(ctx, "Failed to render page", "request_id", RequestID(ctx), "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page.Bytes())
}
