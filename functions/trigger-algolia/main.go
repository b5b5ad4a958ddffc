package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/letmevibethatforyou/imagesearch/algolia"
	"github.com/letmevibethatforyou/imagesearch/internal/ddb"
	"github.com/urfave/cli/v2"
)

// ImageIndex is the write side of the hosted image index.
type ImageIndex interface {
	SaveImage(ctx context.Context, indexName, objectID string, img imagesearch.Image) error
	DeleteImage(ctx context.Context, indexName, objectID string) error
}

type Handler struct {
	tableName string
	index     ImageIndex
}

func NewHandler(tableName string, index ImageIndex) *Handler {
	return &Handler{
		tableName: tableName,
		index:     index,
	}
}

func (h *Handler) HandleDynamoDBEvent(ctx context.Context, e ddb.DynamoDBEvent) error {
	slog.InfoContext(ctx, "Processing DynamoDB stream records", "table", h.tableName, "record_count", len(e.Records))

	for _, record := range e.Records {
		if err := h.processRecord(ctx, record); err != nil {
			slog.ErrorContext(ctx, "Error processing record", "event_id", record.EventID, "error", err)
			return err
		}
	}

	return nil
}

func (h *Handler) processRecord(ctx context.Context, record ddb.DynamoDBEventRecord) error {
	switch ddb.DynamoDBOperationType(record.EventName) {
	case ddb.DynamoDBOperationTypeInsert, ddb.DynamoDBOperationTypeModify:
		if record.Change.NewImage == nil {
			slog.WarnContext(ctx, "No new image for insert/modify operation, skipping record")
			return nil
		}

		parsedRecord, err := ddb.UnmarshalRecord(record.Change.NewImage)
		if err != nil {
			slog.WarnContext(ctx, "Failed to unmarshal record, skipping", "error", err)
			return nil
		}

		if parsedRecord.ID == "" {
			slog.WarnContext(ctx, "Missing ID (pk) in record, skipping record")
			return nil
		}
		if parsedRecord.IndexName == "" {
			slog.WarnContext(ctx, "Missing IndexName (sk) in record, skipping record")
			return nil
		}
		if parsedRecord.Image.Thumbnail == "" {
			slog.WarnContext(ctx, "Image has no thumbnail, skipping record", "id", parsedRecord.ID, "index", parsedRecord.IndexName)
			return nil
		}

		slog.InfoContext(ctx, "Saving image to Algolia", "object_id", parsedRecord.ID, "index", parsedRecord.IndexName)
		return h.index.SaveImage(ctx, parsedRecord.IndexName, parsedRecord.ID, parsedRecord.Image)

	case ddb.DynamoDBOperationTypeRemove:
		parsedRecord, err := ddb.UnmarshalRecord(record.Change.Keys)
		if err != nil {
			slog.WarnContext(ctx, "Failed to unmarshal keys for delete operation, skipping", "error", err)
			return nil
		}

		if parsedRecord.ID == "" || parsedRecord.IndexName == "" {
			slog.WarnContext(ctx, "Missing ID or IndexName in delete record, skipping record")
			return nil
		}

		slog.InfoContext(ctx, "Deleting image from Algolia", "object_id", parsedRecord.ID, "index", parsedRecord.IndexName)
		return h.index.DeleteImage(ctx, parsedRecord.IndexName, parsedRecord.ID)

	default:
		slog.InfoContext(ctx, "Ignoring event type", "event_type", record.EventName)
		return nil
	}
}

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	app := &cli.App{
		Name:  "trigger-algolia",
		Usage: "Sync image records from a DynamoDB stream into Algolia",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "table-name",
				Usage:    "DynamoDB table name to sync from",
				EnvVars:  []string{"TABLE_NAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name for AWS Secrets Manager (takes precedence over API key/ID flags)",
				EnvVars: []string{"ENV", "ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "algolia-app-id",
				Usage:   "Algolia application ID",
				EnvVars: []string{"ALGOLIA_APP_ID"},
			},
			&cli.StringFlag{
				Name:    "algolia-api-key",
				Usage:   "Algolia API key with write access",
				EnvVars: []string{"ALGOLIA_API_KEY"},
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
	tableName := c.String("table-name")
	env := c.String("env")
	algoliaAppID := c.String("algolia-app-id")
	algoliaAPIKey := c.String("algolia-api-key")

	slog.InfoContext(ctx, "Starting DynamoDB to Algolia sync", "table", tableName, "environment", env)

	var fetchSecrets algolia.FetchSecrets
	switch {
	case env != "":
		slog.InfoContext(ctx, "Using AWS Secrets Manager for credentials", "environment", env)

		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load AWS config", "error", err)
			return err
		}
		fetchSecrets = algolia.AWSSecrets(ctx, secretsmanager.NewFromConfig(cfg), env)
	case algoliaAppID != "" && algoliaAPIKey != "":
		slog.InfoContext(ctx, "Using static credentials from flags")
		fetchSecrets = algolia.StaticSecrets(algoliaAppID, algoliaAPIKey)
	default:
		slog.InfoContext(ctx, "Using environment variables for credentials")
		fetchSecrets = algolia.EnvSecrets()
	}

	handler := NewHandler(tableName, algolia.NewClient(fetchSecrets))

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		slog.InfoContext(ctx, "Running in Lambda environment")
		lambda.Start(handler.HandleDynamoDBEvent)
	} else {
		slog.InfoContext(ctx, "Function cannot run outside of AWS Lambda environment")
	}

	return nil
}
