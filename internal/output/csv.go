package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// CSVWriter flattens extracted fields into url,data_type,value,detail rows.
// Failures are appended as rows with data_type "error".
type CSVWriter struct {
	path string
	mu   sync.Mutex
	rows [][]string
}

func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

func (w *CSVWriter) Name() string { return "csv" }

func (w *CSVWriter) WriteResult(res *plugin.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, field := range sortedFields(res.Fields) {
		for _, item := range res.Fields[field] {
			w.rows = append(w.rows, []string{res.SourceURL, field, item.Value, detail(item.Metadata)})
		}
	}
	return nil
}

func (w *CSVWriter) Finalize(summary *plugin.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	_ = cw.Write([]string{"url", "data_type", "value", "detail"})
	_ = cw.WriteAll(w.rows)
	for _, fail := range summary.Failures {
		_ = cw.Write([]string{fail.URL, "error", string(fail.Code), strings.Join(fail.Outcomes(), " ")})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	return f.Close()
}

// detail renders metadata as sorted key=value pairs.
func detail(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + meta[k]
	}
	return strings.Join(parts, "; ")
}
