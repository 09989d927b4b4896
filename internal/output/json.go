package output

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// JSONWriter writes one indented JSON document holding every result and
// failure of the run.
type JSONWriter struct {
	path           string
	includeContent bool
	mu             sync.Mutex
	results        []jsonResult
}

type jsonResult struct {
	*plugin.Result
	Content string `json:"content,omitempty"`
}

type jsonFailure struct {
	*plugin.ScrapeError
	Message string `json:"message"`
}

type jsonDocument struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   string        `json:"duration"`
	Results    []jsonResult  `json:"results"`
	Failures   []jsonFailure `json:"failures"`
}

// NewJSONWriter creates a JSON writer. With includeContent the raw document
// body is embedded as a string.
func NewJSONWriter(path string, includeContent bool) *JSONWriter {
	return &JSONWriter{path: path, includeContent: includeContent}
}

func (w *JSONWriter) Name() string { return "json" }

func (w *JSONWriter) WriteResult(res *plugin.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := jsonResult{Result: res}
	if w.includeContent {
		r.Content = string(res.Content)
	}
	w.results = append(w.results, r)
	return nil
}

func (w *JSONWriter) Finalize(summary *plugin.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc := jsonDocument{
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Duration:   summary.Duration.String(),
		Results:    w.results,
		Failures:   make([]jsonFailure, 0, len(summary.Failures)),
	}
	if doc.Results == nil {
		doc.Results = []jsonResult{}
	}
	for _, f := range summary.Failures {
		doc.Failures = append(doc.Failures, jsonFailure{ScrapeError: f, Message: f.Error()})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(w.path, append(data, '\n'), 0644)
}
