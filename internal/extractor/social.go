package extractor

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// SocialExtractor picks out links to social media profiles.
type SocialExtractor struct {
	platforms map[string][]string // platform name → URL patterns
	names     []string
}

func NewSocialExtractor() *SocialExtractor {
	e := &SocialExtractor{
		platforms: map[string][]string{
			"twitter":   {"twitter.com/", "x.com/"},
			"facebook":  {"facebook.com/", "fb.com/", "fb.me/"},
			"instagram": {"instagram.com/"},
			"linkedin":  {"linkedin.com/"},
			"github":    {"github.com/"},
			"youtube":   {"youtube.com/", "youtu.be/"},
			"tiktok":    {"tiktok.com/"},
			"reddit":    {"reddit.com/"},
			"telegram":  {"t.me/", "telegram.me/"},
			"mastodon":  {"mastodon.social/"},
			"bluesky":   {"bsky.app/"},
		},
	}
	for name := range e.platforms {
		e.names = append(e.names, name)
	}
	sort.Strings(e.names)
	return e
}

func (e *SocialExtractor) Field() string { return "social_links" }

func (e *SocialExtractor) Extract(res *plugin.Result) ([]plugin.ExtractedItem, error) {
	doc, err := document(res)
	if err != nil || doc == nil {
		return nil, err
	}
	base := baseURL(doc, pageURL(res))

	seen := make(map[string]bool)
	var items []plugin.ExtractedItem

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		resolved := resolveURL(base, strings.TrimSpace(s.AttrOr("href", "")))
		if resolved == "" || seen[resolved] {
			return
		}
		platform := e.platform(strings.ToLower(resolved))
		if platform == "" {
			return
		}
		seen[resolved] = true
		meta := map[string]string{"platform": platform}
		if text := collapse(s.Text()); text != "" {
			meta["text"] = truncate(text, 200)
		}
		items = append(items, plugin.ExtractedItem{
			Type:      "social",
			Value:     resolved,
			SourceURL: res.SourceURL,
			Metadata:  meta,
		})
	})

	return items, nil
}

func (e *SocialExtractor) platform(lower string) string {
	for _, name := range e.names {
		for _, pattern := range e.platforms[name] {
			if strings.Contains(lower, "//"+pattern) || strings.Contains(lower, "."+pattern) {
				return name
			}
		}
	}
	return ""
}
