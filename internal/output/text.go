package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// TextWriter writes scrape results to a plain text report, mirroring the
// terminal output without ANSI color codes.
type TextWriter struct {
	path  string
	lines []string
	mu    sync.Mutex
}

// NewTextWriter creates a new plain-text output writer.
func NewTextWriter(path string) *TextWriter {
	return &TextWriter{path: path}
}

func (w *TextWriter) Name() string { return "text" }

func (w *TextWriter) WriteResult(res *plugin.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lines = append(w.lines, fmt.Sprintf("  [%d] %s via %s (%s, %d attempts) %s",
		res.StatusCode, res.SourceURL, res.Method, fmtDur(res.Elapsed), res.Attempts, plainFieldCounts(res.Fields)))

	for _, field := range sortedFields(res.Fields) {
		for _, item := range res.Fields[field] {
			w.lines = append(w.lines, fmt.Sprintf("      +-- %s: %s", item.Type, item.Value))
		}
	}
	return nil
}

func (w *TextWriter) Finalize(summary *plugin.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder

	b.WriteString("\n  WEBSCOUT\n")
	b.WriteString("  Adaptive web scraping with method fallback\n")
	b.WriteString("  " + strings.Repeat("-", 58) + "\n\n")
	b.WriteString(fmt.Sprintf("  Started: %s\n\n", summary.StartedAt.Format(time.RFC1123)))

	for _, line := range w.lines {
		b.WriteString(line + "\n")
	}
	for _, f := range summary.Failures {
		b.WriteString(fmt.Sprintf("  [%s] %s\n", f.Code, f.URL))
		for _, o := range f.Outcomes() {
			b.WriteString("      x-- " + o + "\n")
		}
	}

	b.WriteString("\n  " + strings.Repeat("-", 50) + "\n")
	b.WriteString("  Scrape complete\n")
	b.WriteString(fmt.Sprintf("    URLs:   %d scraped, %d failed in %s\n",
		len(summary.Results), len(summary.Failures), fmtDur(summary.Duration)))

	totals := make(map[string][]plugin.ExtractedItem)
	for _, r := range summary.Results {
		for field, items := range r.Fields {
			totals[field] = append(totals[field], items...)
		}
	}
	if counts := plainFieldCounts(totals); counts != "" {
		b.WriteString("    Fields: " + counts + "\n")
	}
	b.WriteString("\n")

	return os.WriteFile(w.path, []byte(b.String()), 0644)
}

// ---------- helpers ----------

func sortedFields(fields map[string][]plugin.ExtractedItem) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func plainFieldCounts(fields map[string][]plugin.ExtractedItem) string {
	var parts []string
	for _, name := range sortedFields(fields) {
		parts = append(parts, fmt.Sprintf("%s:%d", name, len(fields[name])))
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
