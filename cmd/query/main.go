package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/letmevibethatforyou/imagesearch/algolia"
	"github.com/letmevibethatforyou/imagesearch/apiclient"
	"github.com/letmevibethatforyou/imagesearch/widget"
	"github.com/urfave/cli/v2"
)

const (
	defaultAPIURL  = "http://localhost:5000"
	defaultTimeout = 10 * time.Second
)

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	app := &cli.App{
		Name:      "query",
		Usage:     "Search for images from the terminal",
		ArgsUsage: "[query]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the image search service",
				EnvVars: []string{"SEARCH_API_URL"},
				Value:   defaultAPIURL,
			},
			&cli.StringFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Search this Algolia index directly instead of the search service",
				EnvVars: []string{"ALGOLIA_INDEX"},
			},
			&cli.StringFlag{
				Name:    "algolia-secret-arn",
				Usage:   "ARN of AWS Secrets Manager secret containing Algolia credentials",
				EnvVars: []string{"ALGOLIA_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Query string to search for; positional arg is a fallback",
			},
			&cli.BoolFlag{
				Name:    "public-only",
				Aliases: []string{"p"},
				Usage:   "Only show public domain images",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text or html",
				Value:   "text",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for the search request",
				Value: defaultTimeout,
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "Filter in field=value format, applied with --index; repeatable",
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	ctx := c.Context

	query := strings.TrimSpace(c.String("query"))
	if query == "" && c.NArg() > 0 {
		query = strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	}
	if query == "" {
		return fmt.Errorf("a query is required")
	}

	format := strings.ToLower(c.String("format"))
	if format != "text" && format != "html" {
		return fmt.Errorf("unknown format %q", format)
	}

	timeout := c.Duration("timeout")
	if timeout <= 0 {
		slog.WarnContext(ctx, "timeout must be positive; using default", "timeout", timeout, "default", defaultTimeout)
		timeout = defaultTimeout
	}

	filterOptions, err := buildFilterOptions(c.StringSlice("filter"))
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	searcher, err := newSearcher(c, filterOptions)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.DebugContext(ctx, "executing query",
		"query", query,
		"public_only", c.Bool("public-only"),
		"filter_count", len(filterOptions),
		"timeout", timeout,
	)

	w := widget.New(searcher)
	w.SetQuery(query)
	w.SetPublicOnly(c.Bool("public-only"))
	w.KeyDown(ctx, widget.KeyEnter)

	return render(os.Stdout, w, format)
}

// newSearcher returns the widget's backend: the search service, or an
// Algolia index when --index is set.
func newSearcher(c *cli.Context, filters []imagesearch.SearchOption) (imagesearch.Searcher, error) {
	ctx := c.Context

	indexName := strings.TrimSpace(c.String("index"))
	if indexName == "" {
		if len(filters) > 0 {
			return nil, fmt.Errorf("--filter requires --index")
		}
		client, err := apiclient.New(c.String("api-url"))
		if err != nil {
			return nil, fmt.Errorf("invalid api url: %w", err)
		}
		return client, nil
	}

	var fetchSecrets algolia.FetchSecrets
	if secretArn := strings.TrimSpace(c.String("algolia-secret-arn")); secretArn != "" {
		slog.InfoContext(ctx, "using AWS Secrets Manager for Algolia credentials", "secret_arn", secretArn)
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		fetchSecrets = algolia.AWSSecretsFromARN(ctx, secretsmanager.NewFromConfig(cfg), secretArn)
	} else {
		fetchSecrets = algolia.EnvSecrets()
	}

	return withFilters(algolia.NewSearcher(algolia.NewClient(fetchSecrets), indexName), filters), nil
}

// withFilters appends filters to every search made through s.
func withFilters(s imagesearch.Searcher, filters []imagesearch.SearchOption) imagesearch.Searcher {
	if len(filters) == 0 {
		return s
	}
	return imagesearch.SearcherFunc(func(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
		all := append(append([]imagesearch.SearchOption(nil), filters...), opts...)
		return s.Search(ctx, query, all...)
	})
}

func buildFilterOptions(raw []string) ([]imagesearch.SearchOption, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	options := make([]imagesearch.SearchOption, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("filter cannot be empty")
		}

		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("filter must be in field=value format: %q", item)
		}

		field := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if field == "" || value == "" {
			return nil, fmt.Errorf("filter field and value must be non-empty: %q", item)
		}

		options = append(options, imagesearch.Eq(field, value))
	}

	return options, nil
}

func render(out io.Writer, w *widget.Widget, format string) error {
	if format == "html" {
		return w.Render(out)
	}
	if len(w.State().Results) == 0 {
		_, err := fmt.Fprintln(out, "No results.")
		return err
	}
	return w.RenderText(out)
}
