package algolia

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
)

// SourceName is used for hits that carry no source field.
const SourceName = "Image Index"

// Searcher implements the imagesearch.Searcher interface using Algolia.
type Searcher struct {
	client    *Client
	indexName string
}

// NewSearcher creates a new Algolia searcher for the specified index.
func NewSearcher(client *Client, indexName string) *Searcher {
	return &Searcher{
		client:    client,
		indexName: indexName,
	}
}

// Search implements the imagesearch.Searcher interface using Algolia search.
func (s *Searcher) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, imagesearch.ContextError(err)
	}

	cfg := imagesearch.NewSearchConfig(opts...)

	algoliaClient, err := s.client.getClient()
	if err != nil {
		return nil, errors.WithSecondaryError(
			imagesearch.ErrBackendUnavailable,
			errors.Wrapf(err, "failed to get Algolia client"),
		)
	}

	index := algoliaClient.InitIndex(s.indexName)

	res, err := index.Search(query, buildSearchParams(ctx, cfg)...)
	if err != nil {
		if ctxErr := imagesearch.ContextError(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.WithSecondaryError(
			imagesearch.ErrBackendUnavailable,
			errors.Wrapf(err, "Algolia search failed"),
		)
	}

	results := &imagesearch.Results{
		Items:     make([]imagesearch.Image, 0, len(res.Hits)),
		Query:     query,
		Timestamp: time.Now().UTC(),
	}
	for _, hit := range res.Hits {
		if img, ok := hitToImage(hit); ok {
			results.Items = append(results.Items, img)
		}
	}
	results.Took = time.Since(startTime).Milliseconds()

	return results, nil
}

// buildSearchParams converts an imagesearch.SearchConfig to Algolia search
// parameters. Public-only searches add the public-domain license filter.
func buildSearchParams(ctx context.Context, cfg *imagesearch.SearchConfig) []interface{} {
	params := []interface{}{
		opt.HitsPerPage(cfg.Limit),
		ctx,
	}

	filters := cfg.Filters
	if cfg.PublicOnly {
		filters = append(append([]imagesearch.Expression(nil), filters...), imagesearch.PublicDomainFilter())
	}

	filterStrings := make([]string, 0, len(filters))
	for _, expr := range filters {
		if filterStr := convertExpressionToFilter(expr); filterStr != "" {
			filterStrings = append(filterStrings, filterStr)
		}
	}
	if len(filterStrings) == 1 {
		params = append(params, opt.Filters(filterStrings[0]))
	} else if len(filterStrings) > 1 {
		params = append(params, opt.Filters("("+strings.Join(filterStrings, ") AND (")+")"))
	}

	return params
}

// hitToImage reads the image fields of an Algolia hit. Hits without a
// thumbnail cannot be shown and are dropped.
func hitToImage(hit map[string]interface{}) (imagesearch.Image, bool) {
	str := func(field string) string {
		v, _ := hit[field].(string)
		return v
	}

	img := imagesearch.Image{
		Title:     str(imagesearch.FieldTitle),
		Link:      str(imagesearch.FieldLink),
		Thumbnail: str(imagesearch.FieldThumbnail),
		Source:    str(imagesearch.FieldSource),
		License:   str(imagesearch.FieldLicense),
	}
	if img.Thumbnail == "" {
		return imagesearch.Image{}, false
	}
	if img.Source == "" {
		img.Source = SourceName
	}
	return img, true
}

// convertExpressionToFilter converts an imagesearch expression to an Algolia
// filter string.
func convertExpressionToFilter(expr imagesearch.Expression) string {
	switch e := expr.(type) {
	case imagesearch.AndExpr:
		return joinExpressions(e.Exprs, " AND ")
	case imagesearch.OrExpr:
		return joinExpressions(e.Exprs, " OR ")
	case imagesearch.NotExpr:
		inner := convertExpressionToFilter(e.Inner)
		if inner == "" {
			return ""
		}
		return "NOT (" + inner + ")"
	case imagesearch.EqExpr:
		return fmt.Sprintf("%s:%s", escapeField(e.Field), escapeValue(e.Value))
	case imagesearch.NeExpr:
		return fmt.Sprintf("NOT %s:%s", escapeField(e.Field), escapeValue(e.Value))
	case imagesearch.ExistsExpr:
		return fmt.Sprintf("%s:*", escapeField(e.Field))
	default:
		return ""
	}
}

func joinExpressions(exprs []imagesearch.Expression, sep string) string {
	filters := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if filter := convertExpressionToFilter(e); filter != "" {
			filters = append(filters, "("+filter+")")
		}
	}
	return strings.Join(filters, sep)
}

// escapeField escapes field names for Algolia filters
func escapeField(field string) string {
	if strings.ContainsAny(field, " :-()") {
		return fmt.Sprintf(`"%s"`, field)
	}
	return field
}

// escapeValue quotes a string value for Algolia filters
func escapeValue(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}
