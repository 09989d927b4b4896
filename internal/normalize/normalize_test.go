package normalize

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ramkansal/webscout/pkg/plugin"
)

func TestNormalizePreservesContent(t *testing.T) {
	bodies := [][]byte{
		[]byte("<html><body>hi</body></html>"),
		{0x00, 0xff, 0x10, 0x80},
		[]byte("caf\xc3\xa9 \r\n trailing   "),
		{},
	}
	for _, body := range bodies {
		orig := bytes.Clone(body)
		res := Normalize(Input{SourceURL: "https://a.test", Method: "scrapingbee", Attempts: 4},
			&plugin.Response{StatusCode: 200, Body: body})

		assert.True(t, bytes.Equal(orig, res.Content))
		assert.Equal(t, "scrapingbee", res.Method)
		assert.Equal(t, 4, res.Attempts)
	}
}

func TestNormalizeOwnsContent(t *testing.T) {
	body := []byte("<p>original</p>")
	res := Normalize(Input{SourceURL: "https://a.test", Method: "static"},
		&plugin.Response{StatusCode: 200, Body: body})

	copy(body, "<p>REWRITTEN</p>")
	assert.Equal(t, "<p>original</p>", string(res.Content))
}

func TestNormalizeMetadata(t *testing.T) {
	fetched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{"Content-Type": []string{"text/html; charset=utf-8"}, "X-Api-Cost": []string{"5"}}

	res := Normalize(Input{
		SourceURL: "https://a.test/x",
		Method:    "static",
		Class:     "STATIC",
		Attempts:  1,
		Elapsed:   1500 * time.Millisecond,
		ProxyUsed: true,
		FetchedAt: fetched,
	}, &plugin.Response{StatusCode: 203, FinalURL: "https://a.test/y", Headers: h, Body: []byte("x")})

	assert.Equal(t, "https://a.test/x", res.SourceURL)
	assert.Equal(t, "https://a.test/y", res.FinalURL)
	assert.Equal(t, 203, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
	assert.Equal(t, "STATIC", res.Class)
	assert.Equal(t, 1500*time.Millisecond, res.Elapsed)
	assert.True(t, res.ProxyUsed)
	assert.Equal(t, fetched, res.FetchedAt)

	h.Set("Content-Type", "changed")
	assert.Equal(t, "text/html; charset=utf-8", res.Headers.Get("Content-Type"), "headers are copied")
}

func TestNormalizeDefaults(t *testing.T) {
	res := Normalize(Input{SourceURL: "https://a.test", Method: "browser"},
		&plugin.Response{Body: []byte("<!DOCTYPE html><html></html>")})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://a.test", res.FinalURL)
	assert.Contains(t, res.ContentType, "text/html")
	assert.False(t, res.FetchedAt.IsZero())
}
