// Package document holds the record every scraper produces and the filter
// predicates applied to it before anything gets downloaded.
package document

import (
	"context"
	"fmt"
)

// Well-known attribute keys.
const (
	AttrFilename = "filename"
	AttrID       = "id"
	AttrTitle    = "title"
)

// Element is a clickable control living in a browser session. Clicking it
// makes the browser download the document into the download directory.
type Element interface {
	ScrollIntoView(ctx context.Context) error
	Click(ctx context.Context) error
}

// Document describes one retrievable artifact plus its metadata.
//
// Exactly one of URL or DownloadElement should be set. A document with
// neither cannot be downloaded, one with both is downloaded by clicking.
type Document struct {
	// URL is fetched with an HTTP GET when set.
	URL string
	// DownloadElement is clicked when set.
	DownloadElement Element
	// RequestHeaders are only applied to HTTP retrieval.
	RequestHeaders map[string]string
	Attributes     Attributes
}

// New creates a document with the given attributes (which may be nil).
func New(url string, attributes Attributes) *Document {
	if attributes == nil {
		attributes = Attributes{}
	}
	return &Document{
		URL:            url,
		RequestHeaders: map[string]string{},
		Attributes:     attributes,
	}
}

// NewClickable creates a document that is downloaded by clicking el.
func NewClickable(el Element, attributes Attributes) *Document {
	doc := New("", attributes)
	doc.DownloadElement = el
	return doc
}

// Downloadable reports whether the document carries a locator at all.
func (d *Document) Downloadable() bool {
	return d.URL != "" || d.DownloadElement != nil
}

// Filename returns the authoritative filename attribute, if any.
func (d *Document) Filename() (string, bool) {
	value, ok := d.Attributes[AttrFilename]
	if !ok || value == nil {
		return "", false
	}
	name := Stringify(value)
	if name == "" {
		return "", false
	}
	return name, true
}

func (d *Document) String() string {
	rendered, err := d.Attributes.MarshalJSON()
	if err != nil {
		rendered = []byte(fmt.Sprintf("%v", map[string]any(d.Attributes)))
	}
	return fmt.Sprintf("Document(url=%q, attributes=%s)", d.URL, rendered)
}
