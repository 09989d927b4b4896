// Package extractor turns a scraped document into the requested fields.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// Registry holds the extractors by the field name they serve.
type Registry struct {
	byField map[string]plugin.Extractor
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates a registry with all built-in extractors.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{byField: make(map[string]plugin.Extractor), logger: logger.Named("extractor")}
	for _, ext := range []plugin.Extractor{
		NewEmailsExtractor(),
		NewPhonesExtractor(),
		NewHeadingsExtractor(),
		NewLinksExtractor(),
		NewSocialExtractor(),
		NewMetadataExtractor(),
	} {
		r.Register(ext)
	}
	return r
}

// Register adds or replaces the extractor for ext.Field().
func (r *Registry) Register(ext plugin.Extractor) {
	if _, ok := r.byField[ext.Field()]; !ok {
		r.order = append(r.order, ext.Field())
	}
	r.byField[ext.Field()] = ext
}

// Fields returns the supported field names in registration order.
func (r *Registry) Fields() []string {
	return append([]string(nil), r.order...)
}

// Validate rejects unknown field names.
func (r *Registry) Validate(fields []string) error {
	var unknown []string
	for _, f := range fields {
		if _, ok := r.byField[f]; !ok {
			unknown = append(unknown, f)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown field(s) %s; supported: %s",
			strings.Join(unknown, ", "), strings.Join(r.order, ", "))
	}
	return nil
}

// ExtractAll runs the extractors for fields against res. A failing
// extractor yields an empty field; the others still run.
func (r *Registry) ExtractAll(res *plugin.Result, fields []string) map[string][]plugin.ExtractedItem {
	out := make(map[string][]plugin.ExtractedItem, len(fields))
	for _, f := range fields {
		ext, ok := r.byField[f]
		if !ok {
			continue
		}
		items, err := ext.Extract(res)
		if err != nil {
			r.logger.Warn("extraction failed",
				zap.String("url", res.SourceURL),
				zap.String("field", f),
				zap.Error(err))
			items = nil
		}
		if items == nil {
			items = []plugin.ExtractedItem{}
		}
		out[f] = items
	}
	return out
}

// document parses the result body. Empty content yields a nil document.
func document(res *plugin.Result) (*goquery.Document, error) {
	if len(res.Content) == 0 {
		return nil, nil
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(res.Content))
}

// pageURL is the address the document was served from.
func pageURL(res *plugin.Result) *url.URL {
	if u, err := url.Parse(res.FinalURL); err == nil && u.Host != "" {
		return u
	}
	if u, err := url.Parse(res.SourceURL); err == nil && u.Host != "" {
		return u
	}
	return nil
}

// baseURL is the URL relative links resolve against: <base href> when
// present, otherwise the page URL.
func baseURL(doc *goquery.Document, page *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return page
	}
	b, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	if page != nil {
		return page.ResolveReference(b)
	}
	if b.Host != "" {
		return b
	}
	return nil
}

// resolveURL resolves a potentially relative URL against a base URL.
func resolveURL(base *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// truncate limits a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripTags removes HTML tags from a string for text extraction.
func stripTags(s string) string {
	var builder strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			builder.WriteRune(' ')
		case !inTag:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
