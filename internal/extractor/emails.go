package extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ramkansal/webscout/pkg/plugin"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	emailBadChars  = regexp.MustCompile(`[^\w.@+\-]`)
	emailFileTypes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}
)

// EmailsExtractor extracts email addresses from page text and mailto: links.
// The result is deduplicated and sorted.
type EmailsExtractor struct{}

func NewEmailsExtractor() *EmailsExtractor { return &EmailsExtractor{} }

func (e *EmailsExtractor) Field() string { return "emails" }

func (e *EmailsExtractor) Extract(res *plugin.Result) ([]plugin.ExtractedItem, error) {
	if len(res.Content) == 0 {
		return nil, nil
	}
	html := string(res.Content)

	sources := make(map[string]string)
	add := func(email, source string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if !validEmail(email) {
			return
		}
		if _, ok := sources[email]; !ok {
			sources[email] = source
		}
	}

	if doc, err := document(res); err == nil && doc != nil {
		doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			email := strings.TrimPrefix(href, "mailto:")
			if idx := strings.Index(email, "?"); idx != -1 {
				email = email[:idx]
			}
			add(email, "mailto_link")
		})
	}
	for _, m := range emailPattern.FindAllString(stripTags(html), -1) {
		add(m, "page_text")
	}

	emails := make([]string, 0, len(sources))
	for email := range sources {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	items := make([]plugin.ExtractedItem, 0, len(emails))
	for _, email := range emails {
		items = append(items, plugin.ExtractedItem{
			Type:      "email",
			Value:     email,
			SourceURL: res.SourceURL,
			Metadata:  map[string]string{"source": sources[email]},
		})
	}
	return items, nil
}

// validEmail filters the false positives the pattern lets through: too
// short, doubled dots, stray separators and asset file names.
func validEmail(email string) bool {
	if len(email) <= 7 {
		return false
	}
	if strings.Contains(email, "..") || strings.Count(email, "@") != 1 {
		return false
	}
	if strings.HasPrefix(email, ".") || strings.HasPrefix(email, "@") ||
		strings.HasSuffix(email, ".") || strings.HasSuffix(email, "@") {
		return false
	}
	if emailBadChars.MatchString(email) {
		return false
	}
	for _, ext := range emailFileTypes {
		if strings.HasSuffix(email, ext) {
			return false
		}
	}
	return true
}
