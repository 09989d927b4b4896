package classifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const staticPage = `<html><head><title>About</title></head><body>
<h1>About us</h1>
<p>We are a small company that has been making handmade furniture for over thirty years.
Our workshop is open every weekday and visitors are always welcome to come and see how
things are built. Contact us at hello@example.org or call +1 555 123 4567.</p>
</body></html>`

func TestClassifyDocument(t *testing.T) {
	html := http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   Class
	}{
		{"plain server-rendered page", 200, html, staticPage, Static},
		{"react root", 200, html, `<html><body><div data-reactroot=""></div><script src="/app.js"></script></body></html>`, Dynamic},
		{"next data", 200, html, `<html><body><div id="__next"></div><script id="__NEXT_DATA__" type="application/json">{}</script></body></html>`, Dynamic},
		{"angular", 200, html, `<html ng-app="shop"><body>loading</body></html>`, Dynamic},
		{"script shell", 200, html, `<html><body><div id="app"></div><script src="/bundle.js"></script></body></html>`, Dynamic},
		{"ld+json", 200, html, `<html><body>` + strings.Repeat("<p>text here</p>", 30) + `<script type="application/ld+json">{"@type":"Product"}</script></body></html>`, Structured},
		{"microdata", 200, html, `<html><body><div itemscope itemtype="https://schema.org/Product">` + strings.Repeat("words ", 60) + `</div></body></html>`, Structured},
		{"data table", 200, html, `<html><body><table><tr><td>a</td></tr><tr><td>b</td></tr><tr><td>c</td></tr></table></body></html>`, Structured},
		{"recaptcha", 200, html, `<html><body><div class="g-recaptcha" data-sitekey="x"></div></body></html>`, Protected},
		{"cloudflare challenge", 403, http.Header{"Server": []string{"cloudflare"}}, `<html><body>Just a moment...</body></html>`, Protected},
		{"cf-mitigated", 200, http.Header{"Cf-Mitigated": []string{"challenge"}}, ``, Protected},
		{"plain 403 is inconclusive", 403, html, `<html><body>nope</body></html>`, Dynamic},
		{"server error", 500, html, ``, Dynamic},
		{"empty body", 200, html, ``, Dynamic},
		{"json", 200, http.Header{"Content-Type": []string{"application/json"}}, `{"a":1}`, Structured},
		{"pdf", 200, http.Header{"Content-Type": []string{"application/pdf"}}, `%PDF`, Dynamic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ClassifyDocument(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.want, v.Class, v.Reason)
		})
	}
}

func TestProtectedBeatsDynamic(t *testing.T) {
	body := `<html><body><div id="__next"></div><iframe src="https://hcaptcha.com/x"></iframe></body></html>`
	v := ClassifyDocument(200, http.Header{}, []byte(body))
	assert.Equal(t, Protected, v.Class)
}

func TestClassifyFetchesTarget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "classifier-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(staticPage))
	}))
	defer srv.Close()

	c := New(Config{UserAgent: "classifier-agent"})
	ctx := context.Background()

	assert.Equal(t, Static, c.Classify(ctx, Target{URL: srv.URL + "/about"}))
	assert.Equal(t, Static, c.Classify(ctx, Target{URL: srv.URL + "/about"}))
	assert.Equal(t, int32(1), hits.Load(), "second call should be served from cache")
}

func TestClassifyOverridesSkipFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected fetch of %s", r.URL)
	}))
	defer srv.Close()

	c := New(Config{Overrides: map[string]Class{"shop.test": Protected}})
	ctx := context.Background()

	assert.Equal(t, Structured, c.Classify(ctx, Target{URL: srv.URL, Class: Structured}))
	assert.Equal(t, Protected, c.Classify(ctx, Target{URL: "https://www.shop.test/cart"}))
	assert.Equal(t, Structured, c.Classify(ctx, Target{URL: srv.URL, ContentType: "application/json"}))
}

func TestClassifyDegradesToDynamic(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := New(Config{Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	v := c.Estimate(ctx, Target{URL: slow.URL})
	assert.Equal(t, Dynamic, v.Class)
	assert.False(t, v.Conclusive)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, Dynamic, c.Classify(ctx, Target{URL: "::not a url"}))
}

func TestParseClassAndSet(t *testing.T) {
	c, err := ParseClass("protected")
	require.NoError(t, err)
	assert.Equal(t, Protected, c)

	_, err = ParseClass("weird")
	assert.Error(t, err)

	s := SetOf(Static, Structured)
	assert.True(t, s.Has(Static))
	assert.False(t, s.Has(Dynamic))
	assert.Equal(t, "STATIC|STRUCTURED", s.String())
	assert.True(t, s.With(Dynamic).Has(Dynamic))
	assert.Len(t, AllClasses.Classes(), 4)
}
