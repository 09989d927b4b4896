package extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// minPhoneDigits drops dates, prices and other short digit runs.
const minPhoneDigits = 8

// PhonesExtractor extracts phone numbers from page text and tel: links.
// Numbers are normalized to digits, keeping a leading '+'.
type PhonesExtractor struct {
	patterns []*regexp.Regexp
}

func NewPhonesExtractor() *PhonesExtractor {
	return &PhonesExtractor{
		patterns: []*regexp.Regexp{
			// International: +XX XXX XXX XXXX
			regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{1,3}[-.\s]?\d{3,4}[-.\s]?\d{3,4}`),
			// US: (XXX) XXX-XXXX
			regexp.MustCompile(`\(\d{3}\)[-.\s]?\d{3}[-.\s]?\d{4}`),
			// XXX-XXX-XXXX
			regexp.MustCompile(`\d{3}[-.\s]?\d{3}[-.\s]?\d{4}`),
			// European: XX XXX XX XX
			regexp.MustCompile(`\d{2}[-.\s]?\d{3}[-.\s]?\d{2}[-.\s]?\d{2}`),
		},
	}
}

func (e *PhonesExtractor) Field() string { return "phone_numbers" }

func (e *PhonesExtractor) Extract(res *plugin.Result) ([]plugin.ExtractedItem, error) {
	if len(res.Content) == 0 {
		return nil, nil
	}

	raw := make(map[string]string)
	add := func(phone string) {
		phone = strings.TrimSpace(phone)
		normalized := normalizePhone(phone)
		if digits(normalized) < minPhoneDigits {
			return
		}
		if _, ok := raw[normalized]; !ok {
			raw[normalized] = phone
		}
	}

	if doc, err := document(res); err == nil && doc != nil {
		doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			add(strings.TrimPrefix(href, "tel:"))
		})
	}
	text := stripTags(string(res.Content))
	for _, pattern := range e.patterns {
		for _, match := range pattern.FindAllString(text, -1) {
			add(match)
		}
	}

	numbers := make([]string, 0, len(raw))
	for n := range raw {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	items := make([]plugin.ExtractedItem, 0, len(numbers))
	for _, n := range numbers {
		items = append(items, plugin.ExtractedItem{
			Type:      "phone",
			Value:     n,
			SourceURL: res.SourceURL,
			Metadata:  map[string]string{"raw": raw[n]},
		})
	}
	return items, nil
}

// normalizePhone keeps digits and a leading '+'.
func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if (r == '+' && i == 0) || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
