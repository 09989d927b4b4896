package extractor

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// MetadataExtractor extracts page metadata: title, meta tags, canonical
// URL, language and JSON-LD blocks.
type MetadataExtractor struct{}

func NewMetadataExtractor() *MetadataExtractor { return &MetadataExtractor{} }

func (e *MetadataExtractor) Field() string { return "metadata" }

func (e *MetadataExtractor) Extract(res *plugin.Result) ([]plugin.ExtractedItem, error) {
	doc, err := document(res)
	if err != nil || doc == nil {
		return nil, err
	}

	var items []plugin.ExtractedItem
	add := func(field, value string, extra ...string) {
		meta := map[string]string{"field": field}
		for i := 0; i+1 < len(extra); i += 2 {
			meta[extra[i]] = extra[i+1]
		}
		items = append(items, plugin.ExtractedItem{
			Type:      "metadata",
			Value:     value,
			SourceURL: res.SourceURL,
			Metadata:  meta,
		})
	}

	if title := collapse(doc.Find("title").First().Text()); title != "" {
		add("title", title)
	}

	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		key := s.AttrOr("name", "")
		if key == "" {
			key = s.AttrOr("property", "")
		}
		if content == "" || key == "" {
			return
		}
		add(strings.ToLower(key), content)
	})

	if href := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", "")); href != "" {
		add("canonical", href)
	}
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		add("language", lang)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		if block := strings.TrimSpace(s.Text()); block != "" {
			add("json-ld", truncate(block, 2000), "index", strconv.Itoa(i))
		}
	})

	return items, nil
}
