// Package feedparse turns raw feed bytes into a canonical entry sequence.
// The dialect is detected from document structure; the transport-level hint
// only breaks ties when detection fails.
package feedparse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Dialect identifies a supported feed format.
type Dialect string

const (
	DialectUnknown Dialect = ""
	DialectRSS     Dialect = "rss"
	DialectAtom    Dialect = "atom"
	DialectJSON    Dialect = "json"
)

// ErrUnknownFormat is returned when neither the document structure nor the
// hint identifies a supported dialect.
var ErrUnknownFormat = errors.New("unrecognized feed format")

// Entry is one normalized feed item.
type Entry struct {
	Title       string
	Link        string
	Author      string
	Content     string
	PublishedAt time.Time
}

// Document is the result of parsing one feed payload. A document may be
// partially valid: Entries holds what survived and Skipped counts items
// dropped for missing a link.
type Document struct {
	Title   string
	Dialect Dialect
	Entries []Entry
	Skipped int
}

// Parser normalizes feed documents with a cap on entries read per fetch.
type Parser struct {
	MaxEntries int
	// Now supplies the fallback published time; overridable in tests.
	Now func() time.Time
}

// New creates a Parser with the given per-document entry cap.
func New(maxEntries int) *Parser {
	return &Parser{
		MaxEntries: maxEntries,
		Now:        time.Now,
	}
}

// Detect identifies the feed dialect from document content alone.
func Detect(data []byte) Dialect {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		return DialectRSS
	case gofeed.FeedTypeAtom:
		return DialectAtom
	case gofeed.FeedTypeJSON:
		return DialectJSON
	default:
		return DialectUnknown
	}
}

// HintFromContentType maps an HTTP Content-Type to a dialect hint.
func HintFromContentType(contentType string) Dialect {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "atom"):
		return DialectAtom
	case strings.Contains(ct, "rss"), strings.Contains(ct, "xml"):
		return DialectRSS
	case strings.Contains(ct, "json"):
		return DialectJSON
	default:
		return DialectUnknown
	}
}

// Parse normalizes a feed document. Entries missing a link are skipped
// individually; a document-level failure returns an error.
func (p *Parser) Parse(data []byte, hint Dialect) (*Document, error) {
	dialect := Detect(data)
	if dialect == DialectUnknown {
		if hint == DialectUnknown {
			return nil, ErrUnknownFormat
		}
		// Detection failed but the transport claimed a format; let the
		// parser have the final word.
		dialect = hint
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s document: %w", dialect, err)
	}

	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	doc := &Document{
		Title:   feed.Title,
		Dialect: dialect,
	}

	for _, item := range feed.Items {
		if p.MaxEntries > 0 && len(doc.Entries) >= p.MaxEntries {
			break
		}
		entry, ok := normalizeItem(item, now)
		if !ok {
			doc.Skipped++
			continue
		}
		doc.Entries = append(doc.Entries, entry)
	}

	return doc, nil
}

// normalizeItem maps a parsed item onto the canonical field set. A missing
// link makes the single item invalid, not the document.
func normalizeItem(item *gofeed.Item, now time.Time) (Entry, bool) {
	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}
	if link == "" {
		return Entry{}, false
	}

	published := now
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	return Entry{
		Title:       item.Title,
		Link:        link,
		Author:      author,
		Content:     content,
		PublishedAt: published,
	}, true
}
