// Package algolia serves image search from an Algolia index and keeps that
// index in sync. The underlying Algolia client is created lazily on first use
// so credentials are only fetched when needed.
package algolia

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/letmevibethatforyou/imagesearch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Secrets holds the Algolia application credentials.
type Secrets struct {
	// AppID is the Algolia application ID.
	AppID string `json:"app_id"`
	// APIKey is an Algolia API key allowed to search and, for index sync,
	// to write.
	APIKey string `json:"api_key"`
}

// FetchSecrets is a function type that retrieves Algolia credentials.
type FetchSecrets func() (Secrets, error)

// StaticSecrets returns a FetchSecrets function that provides static credentials.
func StaticSecrets(appID, apiKey string) FetchSecrets {
	return func() (Secrets, error) {
		return Secrets{
			AppID:  appID,
			APIKey: apiKey,
		}, nil
	}
}

// EnvSecrets reads ALGOLIA_APP_ID and ALGOLIA_API_KEY.
func EnvSecrets() FetchSecrets {
	return func() (Secrets, error) {
		appID := os.Getenv("ALGOLIA_APP_ID")
		if appID == "" {
			return Secrets{}, fmt.Errorf("ALGOLIA_APP_ID environment variable is not set")
		}

		apiKey := os.Getenv("ALGOLIA_API_KEY")
		if apiKey == "" {
			return Secrets{}, fmt.Errorf("ALGOLIA_API_KEY environment variable is not set")
		}

		return Secrets{
			AppID:  appID,
			APIKey: apiKey,
		}, nil
	}
}

// Client wraps a lazily created Algolia client with tracing.
type Client struct {
	getClient func() (*search.Client, error)
	tracer    trace.Tracer
}

// NewClient creates a client; fetchSecrets runs at most once.
func NewClient(fetchSecrets FetchSecrets) *Client {
	getClient := sync.OnceValues(func() (*search.Client, error) {
		secrets, err := fetchSecrets()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch secrets: %w", err)
		}

		if secrets.AppID == "" {
			return nil, fmt.Errorf("AppID is empty")
		}

		if secrets.APIKey == "" {
			return nil, fmt.Errorf("APIKey is empty")
		}

		return search.NewClient(secrets.AppID, secrets.APIKey), nil
	})

	return &Client{
		getClient: getClient,
		tracer:    otel.Tracer("imagesearch-algolia"),
	}
}

// ImageObject converts img to an Algolia record with the given objectID.
func ImageObject(objectID string, img imagesearch.Image) map[string]interface{} {
	return map[string]interface{}{
		"objectID":                 objectID,
		imagesearch.FieldTitle:     img.Title,
		imagesearch.FieldLink:      img.Link,
		imagesearch.FieldThumbnail: img.Thumbnail,
		imagesearch.FieldSource:    img.Source,
		imagesearch.FieldLicense:   img.License,
	}
}

// SaveImage upserts img into indexName under objectID.
func (c *Client) SaveImage(ctx context.Context, indexName, objectID string, img imagesearch.Image) error {
	_, span := c.tracer.Start(ctx, "algolia.save_image",
		trace.WithAttributes(
			attribute.String("algolia.index_name", indexName),
			attribute.String("algolia.object_id", objectID),
		),
	)
	defer span.End()

	client, err := c.getClient()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get Algolia client")
		return err
	}

	if _, err := client.InitIndex(indexName).SaveObject(ImageObject(objectID, img)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("failed to save image to index %s", indexName))
		return fmt.Errorf("failed to save image to Algolia index %s: %w", indexName, err)
	}

	span.SetStatus(codes.Ok, "image saved successfully")
	return nil
}

// DeleteImage removes objectID from indexName.
func (c *Client) DeleteImage(ctx context.Context, indexName, objectID string) error {
	_, span := c.tracer.Start(ctx, "algolia.delete_image",
		trace.WithAttributes(
			attribute.String("algolia.index_name", indexName),
			attribute.String("algolia.object_id", objectID),
		),
	)
	defer span.End()

	client, err := c.getClient()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get Algolia client")
		return err
	}

	if _, err := client.InitIndex(indexName).DeleteObject(objectID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("failed to delete image from index %s", indexName))
		return fmt.Errorf("failed to delete image from Algolia index %s: %w", indexName, err)
	}

	span.SetStatus(codes.Ok, "image deleted successfully")
	return nil
}
