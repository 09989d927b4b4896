// Package normalize turns a method's successful response into the canonical
// result shape shared by every method.
package normalize

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// Input is everything the normalizer needs besides the response.
type Input struct {
	SourceURL string
	Method    string
	Class     string
	Attempts  int
	Elapsed   time.Duration
	ProxyUsed bool
	History   []plugin.AttemptRecord
	FetchedAt time.Time
}

// Normalize builds the canonical result. Content bytes are copied verbatim;
// everything method-specific is dropped.
func Normalize(in Input, resp *plugin.Response) *plugin.Result {
	res := &plugin.Result{
		SourceURL: in.SourceURL,
		FinalURL:  in.SourceURL,
		Method:    in.Method,
		Class:     in.Class,
		Elapsed:   in.Elapsed,
		Attempts:  in.Attempts,
		ProxyUsed: in.ProxyUsed,
		FetchedAt: in.FetchedAt,
		History:   in.History,
	}
	if res.FetchedAt.IsZero() {
		res.FetchedAt = time.Now()
	}
	if resp == nil {
		return res
	}

	res.StatusCode = resp.StatusCode
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
	}
	if resp.FinalURL != "" {
		res.FinalURL = resp.FinalURL
	}
	res.Content = bytes.Clone(resp.Body)
	res.Headers = resp.Headers.Clone()
	res.ContentType = resp.ContentType
	if res.ContentType == "" && resp.Headers != nil {
		res.ContentType = resp.Headers.Get("Content-Type")
	}
	if res.ContentType == "" && len(res.Content) > 0 {
		res.ContentType = http.DetectContentType(res.Content)
	}
	res.ContentType = strings.TrimSpace(res.ContentType)
	return res
}
