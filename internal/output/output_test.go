package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramkansal/webscout/pkg/plugin"
)

func sample() (*plugin.Result, *plugin.Summary) {
	res := &plugin.Result{
		SourceURL:  "https://acme.test",
		FinalURL:   "https://acme.test/",
		Method:     "static",
		StatusCode: 200,
		Attempts:   1,
		Elapsed:    120 * time.Millisecond,
		Content:    []byte("<html>acme</html>"),
		Fields: map[string][]plugin.ExtractedItem{
			"emails":   {{Type: "email", Value: "sales@acme.test", Metadata: map[string]string{"source": "text"}}},
			"headings": {{Type: "heading", Value: "Welcome", Metadata: map[string]string{"level": "1"}}},
		},
	}
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fail := &plugin.ScrapeError{
		Code:     plugin.CodePlanExhausted,
		URL:      "https://blocked.test",
		Attempts: []plugin.AttemptRecord{{Method: "static", Outcome: plugin.OutcomeBlocked}},
		Err:      errors.New("all methods failed"),
	}
	return res, &plugin.Summary{
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Duration:   2 * time.Second,
		Results:    []*plugin.Result{res},
		Failures:   []*plugin.ScrapeError{fail},
	}
}

func TestTextWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	res, sum := sample()

	w := NewTextWriter(path)
	require.NoError(t, w.WriteResult(res))
	require.NoError(t, w.Finalize(sum))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "WEBSCOUT")
	assert.Contains(t, out, "[200] https://acme.test via static (120ms, 1 attempts) [emails:1 headings:1]")
	assert.Contains(t, out, "+-- email: sales@acme.test")
	assert.Contains(t, out, "https://blocked.test")
	assert.Contains(t, out, "x-- static:blocked")
	assert.Contains(t, out, "1 scraped, 1 failed in 2.0s")
}

func TestJSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	res, sum := sample()

	w := NewJSONWriter(path, true)
	require.NoError(t, w.WriteResult(res))
	require.NoError(t, w.Finalize(sum))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	results := doc["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "https://acme.test", first["source_url"])
	assert.Equal(t, "<html>acme</html>", first["content"])
	assert.Contains(t, first, "fields")

	failures := doc["failures"].([]any)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].(map[string]any)["message"], "all methods failed")
	assert.Equal(t, "2s", doc["duration"])
}

func TestJSONWriterEmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, NewJSONWriter(path, false).Finalize(&plugin.Summary{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"results": []`)
	assert.Contains(t, string(data), `"failures": []`)
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	res, sum := sample()

	w := NewCSVWriter(path)
	require.NoError(t, w.WriteResult(res))
	require.NoError(t, w.Finalize(sum))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"url", "data_type", "value", "detail"}, rows[0])
	assert.Equal(t, []string{"https://acme.test", "emails", "sales@acme.test", "source=text"}, rows[1])
	assert.Equal(t, []string{"https://acme.test", "headings", "Welcome", "level=1"}, rows[2])
	assert.Equal(t, "error", rows[3][1])
	assert.Equal(t, string(plugin.CodePlanExhausted), rows[3][2])
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		format, file, want string
	}{
		{"", "a.json", "json"},
		{"", "a.CSV", "csv"},
		{"", "a.txt", "text"},
		{"text", "a.log", "text"},
	}
	for _, tt := range tests {
		w, err := New(tt.format, filepath.Join(dir, tt.file), false)
		require.NoError(t, err)
		assert.Equal(t, tt.want, w.Name())
	}

	_, err := New("", filepath.Join(dir, "a.xml"), false)
	assert.Error(t, err)
}
