package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// LinksExtractor extracts hyperlinks, resolved against the page and tagged
// internal or external.
type LinksExtractor struct{}

func NewLinksExtractor() *LinksExtractor { return &LinksExtractor{} }

func (e *LinksExtractor) Field() string { return "links" }

func (e *LinksExtractor) Extract(res *plugin.Result) ([]plugin.ExtractedItem, error) {
	doc, err := document(res)
	if err != nil || doc == nil {
		return nil, err
	}
	page := pageURL(res)
	base := baseURL(doc, page)

	seen := make(map[string]bool)
	var items []plugin.ExtractedItem

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		if href == "" ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") {
			return
		}

		resolved := resolveURL(base, href)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true

		text := collapse(s.Text())
		if text == "" {
			text = href
		}
		meta := map[string]string{
			"link_type": linkType(page, resolved),
			"text":      truncate(text, 200),
		}
		if rel := s.AttrOr("rel", ""); rel != "" {
			meta["rel"] = rel
		}

		items = append(items, plugin.ExtractedItem{
			Type:      "link",
			Value:     resolved,
			SourceURL: res.SourceURL,
			Metadata:  meta,
		})
	})

	return items, nil
}

// linkType compares the link host with the page host, ignoring a leading
// "www.".
func linkType(page *url.URL, resolved string) string {
	u, err := url.Parse(resolved)
	if err != nil {
		return "external"
	}
	if u.Host == "" {
		return "internal"
	}
	if page == nil {
		return "external"
	}
	if strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") ==
		strings.TrimPrefix(strings.ToLower(page.Hostname()), "www.") {
		return "internal"
	}
	return "external"
}
