package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/letmevibethatforyou/imagesearch"
	"github.com/letmevibethatforyou/imagesearch/internal/ddb"
)

type mockPutter struct {
	inputs []*dynamodb.PutItemInput
	err    error
}

func (m *mockPutter) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &dynamodb.PutItemOutput{}, nil
}

func TestGenerateRandomImage(t *testing.T) {
	for i := 0; i < 20; i++ {
		img := generateRandomImage("abc")
		if img.Title == "" || img.Source == "" {
			t.Fatalf("Expected title and source, got %+v", img)
		}
		if img.Thumbnail != "https://images.example.org/abc_t.jpg" {
			t.Errorf("Unexpected thumbnail %q", img.Thumbnail)
		}
		if !imagesearch.IsPublicDomain(img.License) {
			t.Errorf("Expected a public-domain license, got %q", img.License)
		}
	}
}

func TestBuildRecords(t *testing.T) {
	records := buildRecords(nil, 3, "images")
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	seen := map[string]bool{}
	for _, r := range records {
		if r.IndexName != "images" {
			t.Errorf("Expected index 'images', got %q", r.IndexName)
		}
		if seen[r.ID] {
			t.Errorf("Duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestLoadCatalogRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `images:
  - title: Barn Owl
    link: https://example.org/owl
    thumbnail: https://example.org/owl_t.jpg
    license: Public Domain
  - title: Heron
    link: https://example.org/heron
    thumbnail: https://example.org/heron_t.jpg
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	catalog, err := loadCatalog(path)
	if err != nil {
		t.Fatalf("loadCatalog failed: %v", err)
	}

	records := buildRecords(catalog, 10, "birds")
	if len(records) != 2 {
		t.Fatalf("Expected catalog to replace random images, got %d records", len(records))
	}
	if records[0].Image.Title != "Barn Owl" || records[1].Image.Title != "Heron" {
		t.Errorf("Unexpected record order: %+v", records)
	}
	if records[1].IndexName != "birds" {
		t.Errorf("Expected index 'birds', got %q", records[1].IndexName)
	}

	if _, err := loadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing catalog")
	}
}

func TestInsertImage(t *testing.T) {
	record := ddb.Record{ID: "abc", IndexName: "images", Image: imagesearch.Image{Title: "Owl", Thumbnail: "t"}}

	t.Run("writes item", func(t *testing.T) {
		putter := &mockPutter{}
		if err := insertImage(context.Background(), putter, "Images", record); err != nil {
			t.Fatalf("insertImage failed: %v", err)
		}
		if len(putter.inputs) != 1 {
			t.Fatalf("Expected 1 PutItem call, got %d", len(putter.inputs))
		}
		if aws.ToString(putter.inputs[0].TableName) != "Images" {
			t.Errorf("Unexpected table %q", aws.ToString(putter.inputs[0].TableName))
		}

		got, err := ddb.UnmarshalRecord(putter.inputs[0].Item)
		if err != nil {
			t.Fatalf("UnmarshalRecord failed: %v", err)
		}
		if got != record {
			t.Errorf("Record mismatch: got %+v, want %+v", got, record)
		}
	})

	t.Run("put error", func(t *testing.T) {
		putter := &mockPutter{err: errors.New("throttled")}
		if err := insertImage(context.Background(), putter, "Images", record); err == nil {
			t.Error("Expected error, got nil")
		}
	})
}
