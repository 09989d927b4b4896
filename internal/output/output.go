// Package output persists scrape results as text, JSON or CSV.
package output

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// Formats lists the supported export formats.
var Formats = []string{"text", "json", "csv"}

// New returns the writer for format, inferring it from the file extension
// when format is empty.
func New(format, path string, includeContent bool) (plugin.OutputWriter, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if format == "txt" {
			format = "text"
		}
	}
	switch format {
	case "text":
		return NewTextWriter(path), nil
	case "json":
		return NewJSONWriter(path, includeContent), nil
	case "csv":
		return NewCSVWriter(path), nil
	}
	return nil, fmt.Errorf("unsupported output format %q (want one of %s)", format, strings.Join(Formats, ", "))
}
