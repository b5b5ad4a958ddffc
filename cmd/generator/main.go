package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/letmevibethatforyou/imagesearch/inmemory"
	"github.com/letmevibethatforyou/imagesearch/internal/ddb"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

const defaultIndex = "images"

// itemPutter is the part of the DynamoDB client the generator needs.
type itemPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

var (
	subjects = map[string][]string{
		"Birds":     {"Barn Owl", "Snowy Egret", "Bald Eagle", "Great Blue Heron", "Carolina Parakeet"},
		"Landmarks": {"Brooklyn Bridge", "Lincoln Memorial", "Golden Gate Bridge", "Flatiron Building"},
		"Space":     {"Earthrise", "Saturn V Launch", "Pillars of Creation", "Blue Marble"},
		"Maps":      {"Map of Boston Harbor", "Survey of the Mississippi", "Chart of Chesapeake Bay"},
		"Portraits": {"Frederick Douglass", "Clara Barton", "Abraham Lincoln", "Harriet Tubman"},
	}

	collections = []string{
		"Library of Congress", "National Archives", "NASA Image Library", "Smithsonian Open Access",
	}
)

func generateRandomImage(id string) imagesearch.Image {
	categories := make([]string, 0, len(subjects))
	for c := range subjects {
		categories = append(categories, c)
	}

	category := categories[rand.IntN(len(categories))]
	titles := subjects[category]
	title := titles[rand.IntN(len(titles))]
	license := imagesearch.PublicDomainLicenses[rand.IntN(len(imagesearch.PublicDomainLicenses))]

	return imagesearch.Image{
		Title:     fmt.Sprintf("%s (%d)", title, rand.IntN(130)+1880),
		Link:      fmt.Sprintf("https://images.example.org/%s", id),
		Thumbnail: fmt.Sprintf("https://images.example.org/%s_t.jpg", id),
		Source:    collections[rand.IntN(len(collections))],
		License:   license,
	}
}

func insertImage(ctx context.Context, client itemPutter, tableName string, record ddb.Record) error {
	item, err := ddb.MarshalRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal image record: %w", err)
	}

	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}

	slog.InfoContext(ctx, "Successfully inserted image",
		"id", record.ID,
		"index", record.IndexName,
		"title", record.Image.Title,
		"license", record.Image.License,
	)

	return nil
}

// buildRecords returns the records to insert: every catalog image when a
// catalog was given, otherwise count random images.
func buildRecords(catalog []inmemory.Document, count int, indexName string) []ddb.Record {
	if len(catalog) > 0 {
		records := make([]ddb.Record, 0, len(catalog))
		for _, doc := range catalog {
			records = append(records, ddb.Record{
				ID:        ksuid.New().String(),
				IndexName: indexName,
				Image:     doc.Image,
			})
		}
		return records
	}

	records := make([]ddb.Record, 0, count)
	for i := 0; i < count; i++ {
		id := ksuid.New().String()
		records = append(records, ddb.Record{
			ID:        id,
			IndexName: indexName,
			Image:     generateRandomImage(id),
		})
	}
	return records
}

func loadCatalog(path string) ([]inmemory.Document, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	catalog := inmemory.New()
	if _, err := catalog.LoadYAML(f); err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return catalog.Documents(), nil
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	env := c.String("env")
	tableName := c.String("table-name")
	indexName := c.String("index")
	count := c.Int("count")

	catalog, err := loadCatalog(c.String("catalog"))
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Starting image generator",
		"environment", env,
		"table", tableName,
		"index", indexName,
		"count", count,
		"catalog_size", len(catalog),
	)

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg)

	records := buildRecords(catalog, count, indexName)
	for i, record := range records {
		if err := insertImage(ctx, client, tableName, record); err != nil {
			return fmt.Errorf("failed to insert image %d: %w", i+1, err)
		}
	}

	slog.InfoContext(ctx, "Successfully generated and inserted all images", "count", len(records))
	return nil
}

func main() {
	// Configure JSON logging for AWS environments
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	app := &cli.App{
		Name:  "generator",
		Usage: "Insert sample image records into DynamoDB for indexing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Aliases:  []string{"e"},
				Usage:    "Environment name",
				EnvVars:  []string{"ENVIRONMENT"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "table-name",
				Aliases:  []string{"t"},
				Usage:    "DynamoDB table name",
				EnvVars:  []string{"TABLE_NAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Algolia index the records belong to (stored as the sort key)",
				EnvVars: []string{"ALGOLIA_INDEX"},
				Value:   defaultIndex,
			},
			&cli.StringFlag{
				Name:  "catalog",
				Usage: "YAML catalog whose images are inserted instead of random ones",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Number of random images to generate",
				Value:   1,
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}
