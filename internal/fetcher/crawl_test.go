package fetcher

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

	"github.com/ramkansal/webscout/pkg/plugin"
)

func TestCrawlFetcher(t *testing.T) {
	var gotUA, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotHeader = r.Header.Get("X-Trace")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewCrawlFetcher(CrawlConfig{CustomHeaders: []string{"X-Trace: abc", "malformed"}})
	resp, err := f.Fetch(context.Background(), srv.URL+"/x", plugin.FetchOptions{
		Identity: plugin.Identity{UserAgent: "crawl-ua"},
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "crawl", f.Name())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, page, string(resp.Body))
	assert.Equal(t, srv.URL+"/x", resp.FinalURL)
	assert.Equal(t, "text/html", resp.ContentType)
	assert.Equal(t, "crawl-ua", gotUA)
	assert.Equal(t, "abc", gotHeader)
}

func TestCrawlFetcherKeepsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := NewCrawlFetcher(CrawlConfig{}).Fetch(context.Background(), srv.URL, plugin.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCrawlFetcherRevisitsAcrossAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewCrawlFetcher(CrawlConfig{})
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, plugin.FetchOptions{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestCrawlFetcherBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	_, err := NewCrawlFetcher(CrawlConfig{MaxBodyBytes: 1024}).Fetch(context.Background(), srv.URL, plugin.FetchOptions{})
	var fe *plugin.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, plugin.OutcomeFatal, fe.Kind)

	resp, err := NewCrawlFetcher(CrawlConfig{MaxBodyBytes: 2048}).Fetch(context.Background(), srv.URL, plugin.FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 2048, "a body exactly at the cap is kept whole")
}

func TestCrawlFetcherConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewCrawlFetcher(CrawlConfig{}).Fetch(context.Background(), addr, plugin.FetchOptions{Timeout: time.Second})
	require.Error(t, err)
}
