// Package fetcher holds the concrete scraping methods: plain HTTP, colly,
// two headless browser engines and the paid scraping APIs.
package fetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// DefaultMaxBodyBytes caps every downloaded document.
const DefaultMaxBodyBytes = 5 * 1024 * 1024

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// parseProxy validates a proxy URL from an identity. An empty string means
// a direct connection.
func parseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, fmt.Errorf("invalid proxy %q", redact(raw)))
	}
	return u, nil
}

// redact drops credentials from a proxy URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid>"
	}
	return u.Scheme + "://" + u.Host
}

// transports keeps one keep-alive transport per proxy so identities never
// share connections.
type transports struct {
	mu    sync.Mutex
	byKey map[string]*http.Transport
}

func (t *transports) get(proxy *url.URL) *http.Transport {
	key := ""
	if proxy != nil {
		key = proxy.String()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.byKey[key]; ok {
		return tr
	}
	tr := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		// Compression is negotiated by hand so brotli is accepted too.
		DisableCompression: true,
	}
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	}
	if t.byKey == nil {
		t.byKey = make(map[string]*http.Transport)
	}
	t.byKey[key] = tr
	return tr
}

func (t *transports) closeIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.byKey {
		tr.CloseIdleConnections()
	}
}

// readBody decodes gzip, deflate and brotli bodies and enforces max.
func readBody(resp *http.Response, max int64) ([]byte, error) {
	reader := io.Reader(resp.Body)
	var closer io.Closer

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader, closer = gz, gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		rc, err := deflateReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("deflate decode: %w", err)
		}
		reader, closer = rc, rc
	}
	if closer != nil {
		defer closer.Close()
	}

	body, err := io.ReadAll(io.LimitReader(reader, max+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > max {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, resp.StatusCode,
			fmt.Errorf("response body exceeds limit of %d bytes", max))
	}
	return body, nil
}

// deflateReader accepts zlib-wrapped deflate, as HTTP defines it, and the
// raw stream some servers send instead.
func deflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == nil && isZlibHeader(head[0], head[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func finalURL(resp *http.Response, fallback string) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return fallback
}
