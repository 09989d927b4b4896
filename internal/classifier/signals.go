package classifier

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Verdict is the outcome of a signal scan.
type Verdict struct {
	Class      Class
	Reason     string
	Conclusive bool
}

// Thresholds for the script-shell heuristic.
const (
	minVisibleText  = 200
	manyScripts     = 15
	sparseText      = 1000
	structuredTable = 3
)

// Anti-bot vendors and challenge pages.
var protectedMarkers = []string{
	"g-recaptcha",
	"grecaptcha",
	"h-captcha",
	"hcaptcha.com",
	"cf-browser-verification",
	"cf_chl_",
	"challenge-platform",
	"checking your browser",
	"_incapsula_resource",
	"distil_r_captcha",
	"px-captcha",
	"captcha-delivery.com",
	"datadome",
	"akamai bot manager",
}

// Framework roots and bootstraps of client-rendered pages.
var dynamicSelectors = []string{
	"[ng-app]",
	"[ng-version]",
	"[data-reactroot]",
	"[data-v-app]",
	"#__next",
	"#__nuxt",
	"script#__NEXT_DATA__",
	"app-root",
}

var dynamicMarkers = []string{
	"window.__nuxt__",
	"window.__initial_state__",
	"window.__apollo_state__",
	"please enable javascript",
	"you need to enable javascript",
}

var structuredSelectors = []string{
	`script[type="application/ld+json"]`,
	"[itemscope]",
	`[vocab*="schema.org"]`,
	`[typeof]`,
}

// ClassifyDocument estimates the class of a preliminary response. It never
// renders; it only looks at status, headers and the raw bytes.
func ClassifyDocument(status int, header http.Header, body []byte) Verdict {
	lower := bytes.ToLower(body)

	if header.Get("Cf-Mitigated") == "challenge" {
		return Verdict{Class: Protected, Reason: "cf-mitigated header", Conclusive: true}
	}
	for _, m := range protectedMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return Verdict{Class: Protected, Reason: "anti-bot marker " + m, Conclusive: true}
		}
	}
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		server := strings.ToLower(header.Get("Server"))
		for _, vendor := range []string{"cloudflare", "akamai", "imperva", "ddos-guard"} {
			if strings.Contains(server, vendor) {
				return Verdict{Class: Protected, Reason: "refused by " + vendor, Conclusive: true}
			}
		}
		return Verdict{Class: Dynamic, Reason: http.StatusText(status)}
	}
	if status >= 400 {
		return Verdict{Class: Dynamic, Reason: http.StatusText(status)}
	}

	if v, ok := classifyByContentType(header.Get("Content-Type")); ok {
		return v
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Verdict{Class: Dynamic, Reason: "empty body"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Verdict{Class: Dynamic, Reason: "unparseable html"}
	}

	for _, sel := range dynamicSelectors {
		if doc.Find(sel).Length() > 0 {
			return Verdict{Class: Dynamic, Reason: "framework root " + sel, Conclusive: true}
		}
	}
	for _, m := range dynamicMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return Verdict{Class: Dynamic, Reason: "bootstrap marker " + m, Conclusive: true}
		}
	}

	scripts := doc.Find("script[src], script:not([type]), script[type='module']").Length()
	text := visibleTextLen(doc)
	if scripts > 0 && text < minVisibleText {
		return Verdict{Class: Dynamic, Reason: "script shell with little text", Conclusive: true}
	}
	if scripts >= manyScripts && text < sparseText {
		return Verdict{Class: Dynamic, Reason: "script heavy", Conclusive: true}
	}

	for _, sel := range structuredSelectors {
		if doc.Find(sel).Length() > 0 {
			return Verdict{Class: Structured, Reason: "structured markup " + sel, Conclusive: true}
		}
	}
	tables := 0
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		if s.Find("tr").Length() >= structuredTable {
			tables++
		}
	})
	if tables > 0 {
		return Verdict{Class: Structured, Reason: "data table", Conclusive: true}
	}

	return Verdict{Class: Static, Reason: "server-rendered html", Conclusive: true}
}

// classifyByContentType handles declared or returned media types that decide
// the class without looking at the body.
func classifyByContentType(ct string) (Verdict, bool) {
	ct = strings.ToLower(ct)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	switch {
	case ct == "", ct == "text/html", ct == "application/xhtml+xml":
		return Verdict{}, false
	case ct == "application/json", strings.HasSuffix(ct, "+json"),
		ct == "application/xml", ct == "text/xml", strings.HasSuffix(ct, "+xml"),
		ct == "text/csv":
		return Verdict{Class: Structured, Reason: "content type " + ct, Conclusive: true}, true
	case ct == "text/plain":
		return Verdict{Class: Static, Reason: "content type " + ct, Conclusive: true}, true
	default:
		return Verdict{Class: Dynamic, Reason: "non-html content type " + ct}, true
	}
}

func visibleTextLen(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " "))
}
