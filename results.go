package imagesearch

import "time"

// Image is a single image search result.
type Image struct {
	// Title is the display title of the image.
	Title string `json:"title" yaml:"title" dynamodbav:"title"`

	// Link points at the image's landing page.
	Link string `json:"link" yaml:"link" dynamodbav:"link"`

	// Thumbnail is a small rendition suitable for a result grid.
	Thumbnail string `json:"thumbnail" yaml:"thumbnail" dynamodbav:"thumbnail"`

	// Source names the collection the image came from.
	Source string `json:"source" yaml:"source" dynamodbav:"source"`

	// License is the short license name as reported by the source.
	License string `json:"license" yaml:"license" dynamodbav:"license"`
}

// Results represents an ordered collection of image results with metadata.
type Results struct {
	// Items contains the results in backend order.
	Items []Image

	// Query is the query string the results were produced for.
	Query string

	// Timestamp is when the results were produced.
	Timestamp time.Time

	// Took is the time taken to execute the search in milliseconds.
	Took int64
}

// Len returns the number of items, treating a nil Results as empty.
func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Items)
}
