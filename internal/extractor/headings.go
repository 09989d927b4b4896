package extractor

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// HeadingsExtractor returns the non-empty h1 headings followed by the h2s.
type HeadingsExtractor struct {
	levels []int
}

func NewHeadingsExtractor() *HeadingsExtractor {
	return &HeadingsExtractor{levels: []int{1, 2}}
}

func (e *HeadingsExtractor) Field() string { return "headings" }

func (e *HeadingsExtractor) Extract(res *plugin.Result) ([]plugin.ExtractedItem, error) {
	doc, err := document(res)
	if err != nil || doc == nil {
		return nil, err
	}

	var items []plugin.ExtractedItem
	for _, level := range e.levels {
		lvl := strconv.Itoa(level)
		doc.Find("h" + lvl).Each(func(_ int, s *goquery.Selection) {
			text := collapse(s.Text())
			if text == "" {
				return
			}
			items = append(items, plugin.ExtractedItem{
				Type:      "heading",
				Value:     truncate(text, 300),
				SourceURL: res.SourceURL,
				Metadata:  map[string]string{"level": lvl},
			})
		})
	}
	return items, nil
}
