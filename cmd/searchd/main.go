package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/letmevibethatforyou/imagesearch/aggregate"
	"github.com/letmevibethatforyou/imagesearch/algolia"
	"github.com/letmevibethatforyou/imagesearch/inmemory"
	"github.com/letmevibethatforyou/imagesearch/loc"
	"github.com/letmevibethatforyou/imagesearch/server"
	"github.com/letmevibethatforyou/imagesearch/wikimedia"
	"github.com/urfave/cli/v2"
)

const (
	defaultListen          = ":5000"
	defaultCacheTTL        = 10 * time.Minute
	defaultCacheMaxEntries = 1000
	defaultUserAgent       = "imagesearch/1.0 (+https://github.com/letmevibethatforyou/imagesearch)"
)

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	app := &cli.App{
		Name:  "searchd",
		Usage: "Serve public domain image search over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on",
				EnvVars: []string{"LISTEN_ADDR"},
				Value:   defaultListen,
			},
			&cli.BoolFlag{
				Name:    "loc",
				Usage:   "Search the Library of Congress photo collection",
				EnvVars: []string{"SOURCE_LOC"},
				Value:   true,
			},
			&cli.StringFlag{
				Name:    "loc-url",
				Usage:   "Library of Congress search endpoint",
				EnvVars: []string{"LOC_URL"},
				Value:   loc.DefaultBaseURL,
			},
			&cli.BoolFlag{
				Name:    "wikimedia",
				Usage:   "Search Wikimedia Commons",
				EnvVars: []string{"SOURCE_WIKIMEDIA"},
				Value:   true,
			},
			&cli.StringFlag{
				Name:    "wikimedia-url",
				Usage:   "Wikimedia Commons API endpoint",
				EnvVars: []string{"WIKIMEDIA_URL"},
				Value:   wikimedia.DefaultAPIURL,
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "YAML image catalog searched as an additional source",
				EnvVars: []string{"CATALOG_FILE"},
			},
			&cli.StringFlag{
				Name:    "algolia-index",
				Usage:   "Algolia index searched as an additional source",
				EnvVars: []string{"ALGOLIA_INDEX"},
			},
			&cli.StringFlag{
				Name:    "algolia-secret-arn",
				Usage:   "ARN of AWS Secrets Manager secret containing Algolia credentials",
				EnvVars: []string{"ALGOLIA_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "algolia-app-id",
				Usage:   "Algolia application ID",
				EnvVars: []string{"ALGOLIA_APP_ID"},
			},
			&cli.StringFlag{
				Name:    "algolia-api-key",
				Usage:   "Algolia search API key",
				EnvVars: []string{"ALGOLIA_API_KEY"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "How long aggregated results are cached; 0 disables the cache",
				EnvVars: []string{"CACHE_TTL"},
				Value:   defaultCacheTTL,
			},
			&cli.IntFlag{
				Name:    "cache-max-entries",
				Usage:   "Maximum number of cached queries",
				EnvVars: []string{"CACHE_MAX_ENTRIES"},
				Value:   defaultCacheMaxEntries,
			},
			&cli.StringFlag{
				Name:    "user-agent",
				Usage:   "User-Agent sent to upstream image sources",
				EnvVars: []string{"USER_AGENT"},
				Value:   defaultUserAgent,
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

type sourceConfig struct {
	loc           bool
	locURL        string
	wikimedia     bool
	wikimediaURL  string
	catalog       string
	algoliaIndex  string
	algoliaSecret algolia.FetchSecrets
	userAgent     string
}

// buildSources returns the enabled sources in result order: Library of
// Congress, Wikimedia Commons, the local catalog, then Algolia.
func buildSources(cfg sourceConfig) ([]aggregate.Source, error) {
	var sources []aggregate.Source

	if cfg.loc {
		sources = append(sources, aggregate.Source{
			Name:     loc.SourceName,
			Searcher: loc.New(loc.WithBaseURL(cfg.locURL), loc.WithUserAgent(cfg.userAgent)),
		})
	}

	if cfg.wikimedia {
		sources = append(sources, aggregate.Source{
			Name:     wikimedia.SourceName,
			Searcher: wikimedia.New(wikimedia.WithAPIURL(cfg.wikimediaURL), wikimedia.WithUserAgent(cfg.userAgent)),
		})
	}

	if cfg.catalog != "" {
		f, err := os.Open(cfg.catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		defer f.Close()

		catalog := inmemory.New()
		if _, err := catalog.LoadYAML(f); err != nil {
			return nil, fmt.Errorf("failed to load catalog %s: %w", cfg.catalog, err)
		}
		sources = append(sources, aggregate.Source{Name: inmemory.SourceName, Searcher: catalog})
	}

	if cfg.algoliaIndex != "" {
		client := algolia.NewClient(cfg.algoliaSecret)
		sources = append(sources, aggregate.Source{
			Name:     algolia.SourceName,
			Searcher: algolia.NewSearcher(client, cfg.algoliaIndex),
		})
	}

	return sources, nil
}

func algoliaSecrets(c *cli.Context) (algolia.FetchSecrets, error) {
	ctx := c.Context

	if arn := strings.TrimSpace(c.String("algolia-secret-arn")); arn != "" {
		slog.InfoContext(ctx, "Using AWS Secrets Manager for Algolia credentials", "secret_arn", arn)
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return algolia.AWSSecretsFromARN(ctx, secretsmanager.NewFromConfig(cfg), arn), nil
	}

	appID, apiKey := c.String("algolia-app-id"), c.String("algolia-api-key")
	if appID != "" && apiKey != "" {
		return algolia.StaticSecrets(appID, apiKey), nil
	}
	return algolia.EnvSecrets(), nil
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	cfg := sourceConfig{
		loc:          c.Bool("loc"),
		locURL:       c.String("loc-url"),
		wikimedia:    c.Bool("wikimedia"),
		wikimediaURL: c.String("wikimedia-url"),
		catalog:      c.String("catalog"),
		algoliaIndex: strings.TrimSpace(c.String("algolia-index")),
		userAgent:    c.String("user-agent"),
	}
	if cfg.algoliaIndex != "" {
		secrets, err := algoliaSecrets(c)
		if err != nil {
			return err
		}
		cfg.algoliaSecret = secrets
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	metrics := server.NewMetrics()

	opts := []aggregate.Option{aggregate.WithLogger(logger)}
	if ttl := c.Duration("cache-ttl"); ttl > 0 {
		opts = append(opts, aggregate.WithCache(aggregate.NewCache(aggregate.CacheOptions{
			TTL:        ttl,
			MaxEntries: c.Int("cache-max-entries"),
			OnHit:      metrics.CacheHit,
			OnMiss:     metrics.CacheMiss,
		})))
	}

	agg := aggregate.New(sources, opts...)
	if err := agg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	api := server.NewAPI(agg, server.WithLogger(logger), server.WithMetrics(metrics))
	srv := server.NewHTTPServer(c.String("listen"), api.Handler())

	return server.Serve(ctx, logger, srv, "sources", agg.Sources())
}
