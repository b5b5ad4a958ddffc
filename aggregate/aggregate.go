// Package aggregate fans a query out to several image sources and merges
// their results in source order.
package aggregate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Source is a named image backend.
type Source struct {
	Name     string
	Searcher imagesearch.Searcher
}

// Aggregator implements imagesearch.Searcher over a list of sources.
type Aggregator struct {
	sources []Source
	cache   *Cache
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache caches results of searches that are neither public-only nor
// filtered.
func WithCache(c *Cache) Option {
	return func(a *Aggregator) {
		a.cache = c
	}
}

// WithLogger sets the logger used to report failing sources.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an aggregator. Results are concatenated in the order of
// sources.
func New(sources []Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		logger:  slog.Default(),
		tracer:  otel.Tracer("imagesearch-aggregate"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sources returns the configured source names in order.
func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name)
	}
	return names
}

// Search queries every source concurrently. A failing source is logged and
// skipped; the search fails only when every source failed. Public-only
// searches keep just the images whose license is public domain. Public-only
// and filtered searches bypass the cache.
func (a *Aggregator) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	if strings.TrimSpace(query) == "" {
		return nil, imagesearch.ErrEmptyQuery
	}

	cfg := imagesearch.NewSearchConfig(opts...)

	ctx, span := a.tracer.Start(ctx, "aggregate.search",
		trace.WithAttributes(
			attribute.String("imagesearch.query", query),
			attribute.Bool("imagesearch.public_only", cfg.PublicOnly),
			attribute.Int("imagesearch.source_count", len(a.sources)),
		),
	)
	defer span.End()

	var (
		res    *imagesearch.Results
		cached bool
		err    error
	)
	if cfg.PublicOnly || len(cfg.Filters) > 0 || a.cache == nil {
		res, err = a.fanOut(ctx, query, opts...)
	} else {
		res, cached, err = a.cache.Get(ctx, CacheKey(query, cfg), func(ctx context.Context) (*imagesearch.Results, error) {
			return a.fanOut(ctx, query, opts...)
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	if cfg.PublicOnly {
		res.Items = imagesearch.FilterPublicDomain(res.Items)
	}

	span.SetAttributes(
		attribute.Bool("imagesearch.cached", cached),
		attribute.Int("imagesearch.result_count", len(res.Items)),
	)
	span.SetStatus(codes.Ok, "search completed")
	return res, nil
}

func (a *Aggregator) fanOut(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	startTime := time.Now()

	perSource := make([]*imagesearch.Results, len(a.sources))
	errs := make([]error, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			res, err := src.Searcher.Search(ctx, query, opts...)
			if err != nil {
				errs[i] = err
				return nil
			}
			perSource[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if ctxErr := imagesearch.ContextError(ctx.Err()); ctxErr != nil {
		return nil, ctxErr
	}

	items := make([]imagesearch.Image, 0)
	var failed int
	var firstErr error
	for i, src := range a.sources {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			a.logger.WarnContext(ctx, "Image source failed, skipping",
				"source", src.Name,
				"query", query,
				"error", errs[i],
			)
			continue
		}
		if perSource[i] != nil {
			items = append(items, perSource[i].Items...)
		}
	}

	if len(a.sources) > 0 && failed == len(a.sources) {
		return nil, imagesearch.Unavailable(firstErr, "all %d image sources failed", failed)
	}
	if len(a.sources) == 0 {
		a.logger.WarnContext(ctx, "No image sources configured", "query", query)
	}

	return &imagesearch.Results{
		Items:     items,
		Query:     query,
		Timestamp: time.Now().UTC(),
		Took:      time.Since(startTime).Milliseconds(),
	}, nil
}

// ErrNoSources is returned by Validate when no source is configured.
var ErrNoSources = errors.New("aggregate: no image sources configured")

// Validate reports configuration problems.
func (a *Aggregator) Validate() error {
	if len(a.sources) == 0 {
		return ErrNoSources
	}
	for i, s := range a.sources {
		if s.Searcher == nil {
			return errors.Newf("aggregate: source %d (%q) has no searcher", i, s.Name)
		}
	}
	return nil
}
