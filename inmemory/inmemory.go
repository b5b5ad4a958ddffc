// Package inmemory provides a local image catalog that implements
// imagesearch.Searcher. Catalogs are typically loaded from a YAML file.
package inmemory

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/imagesearch"
	"gopkg.in/yaml.v3"
)

// SourceName is used for catalog images that do not name a source.
const SourceName = "Catalog"

// Document is a catalog entry.
type Document struct {
	// ID is the unique identifier for the document.
	ID string `json:"id" yaml:"id"`

	imagesearch.Image `yaml:",inline"`
}

// Searcher implements the imagesearch.Searcher interface using an in-memory
// catalog.
type Searcher struct {
	mu        sync.RWMutex
	documents []Document
	idIndex   map[string]int // maps document ID to index in documents slice
}

// New creates a new in-memory searcher.
// The searcher is ready to use and is safe for concurrent operations.
func New() *Searcher {
	return &Searcher{
		documents: make([]Document, 0),
		idIndex:   make(map[string]int),
	}
}

// AddDocument adds a document to the catalog.
// If a document with the same ID already exists, it will be updated in place.
func (s *Searcher) AddDocument(doc Document) {
	if doc.Source == "" {
		doc.Source = SourceName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, exists := s.idIndex[doc.ID]; exists {
		s.documents[idx] = doc
	} else {
		s.idIndex[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}
}

// AddImage adds img under id.
func (s *Searcher) AddImage(id string, img imagesearch.Image) {
	s.AddDocument(Document{ID: id, Image: img})
}

// AddJSON adds an image encoded as JSON.
func (s *Searcher) AddJSON(id string, jsonData []byte) error {
	var img imagesearch.Image
	if err := json.Unmarshal(jsonData, &img); err != nil {
		return errors.Wrap(err, "failed to unmarshal JSON")
	}

	s.AddImage(id, img)
	return nil
}

type catalogFile struct {
	Images []Document `yaml:"images"`
}

// LoadYAML adds every image of a catalog file:
//
//	images:
//	  - id: barn-owl
//	    title: Barn Owl
//	    link: https://example.org/owl
//	    thumbnail: https://example.org/owl_t.jpg
//	    license: Public Domain
//
// Documents without an id are keyed by their link. It returns the number of
// documents added.
func (s *Searcher) LoadYAML(r io.Reader) (int, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to decode catalog")
	}

	for i, doc := range file.Images {
		if doc.ID == "" {
			doc.ID = doc.Link
		}
		if doc.ID == "" {
			return i, errors.Newf("catalog image %d has neither id nor link", i)
		}
		s.AddDocument(doc)
	}
	return len(file.Images), nil
}

// RemoveDocument removes a document by ID.
// Returns true if the document was found and removed.
func (s *Searcher) RemoveDocument(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.idIndex[id]
	if !exists {
		return false
	}

	s.documents = append(s.documents[:idx], s.documents[idx+1:]...)

	delete(s.idIndex, id)
	for i := idx; i < len(s.documents); i++ {
		s.idIndex[s.documents[i].ID] = i
	}

	return true
}

// Clear removes all documents from the catalog.
func (s *Searcher) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make([]Document, 0)
	s.idIndex = make(map[string]int)
}

// Size returns the number of documents in the catalog.
func (s *Searcher) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// Documents returns a copy of the catalog in insertion order.
func (s *Searcher) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Document(nil), s.documents...)
}

// Search implements the imagesearch.Searcher interface. Documents are ranked
// by term score; ties keep catalog order.
func (s *Searcher) Search(ctx context.Context, query string, opts ...imagesearch.SearchOption) (*imagesearch.Results, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return nil, imagesearch.ErrCanceled
	default:
	}

	cfg := imagesearch.NewSearchConfig(opts...)
	filters := cfg.Filters
	if cfg.PublicOnly {
		filters = append(append([]imagesearch.Expression(nil), filters...), imagesearch.PublicDomainFilter())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []scoredDocument
	for _, doc := range s.documents {
		if !matchesFilters(doc, filters) {
			continue
		}

		score := scoreDocument(doc, query)
		if score > 0 {
			matches = append(matches, scoredDocument{
				document: doc,
				score:    score,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	end := cfg.Limit
	if end > len(matches) {
		end = len(matches)
	}

	results := &imagesearch.Results{
		Items:     make([]imagesearch.Image, 0, end),
		Query:     query,
		Timestamp: time.Now().UTC(),
	}
	for _, m := range matches[:end] {
		results.Items = append(results.Items, m.document.Image)
	}
	results.Took = time.Since(startTime).Milliseconds()

	return results, nil
}

type scoredDocument struct {
	document Document
	score    float64
}

// searchableFields are matched against query terms.
var searchableFields = []string{
	imagesearch.FieldTitle,
	imagesearch.FieldSource,
	imagesearch.FieldLicense,
}

// scoreDocument calculates the relevance score for a document. Each term
// scores once per field containing it; documents matching every term are
// boosted by half.
func scoreDocument(doc Document, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 1.0 // All documents match empty query
	}

	score := 0.0
	matchedTerms := 0

	for _, term := range terms {
		termMatched := false
		for _, field := range searchableFields {
			value, _ := doc.Field(field)
			if strings.Contains(strings.ToLower(value), term) {
				termMatched = true
				score += 1.0
			}
		}
		if termMatched {
			matchedTerms++
		}
	}

	if matchedTerms == 0 {
		return 0
	}

	if matchedTerms == len(terms) {
		score *= 1.5
	}

	return score
}
