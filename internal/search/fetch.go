package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultMaxBodySize  = 2 * 1024 * 1024 // 2MB
	defaultUserAgent    = "legalqa/1.0 (+retrieval)"
	fetchCacheTTL       = 15 * time.Minute
	fetchCacheMax       = 256
)

// HTTPFetcher downloads result pages. Successful bodies are cached for
// fifteen minutes, least recently used first out once the cache is full.
type HTTPFetcher struct {
	client      *http.Client
	maxBodySize int64
	userAgent   string
	cacheSize   int

	cache *expirable.LRU[string, string]
}

// FetchOption configures an HTTPFetcher.
type FetchOption func(*HTTPFetcher)

// WithHTTPClient sets the underlying client. Its Timeout should be zero or
// larger than any per-call timeout.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxBodySize caps how many bytes of a page are read.
func WithMaxBodySize(n int64) FetchOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

func WithUserAgent(ua string) FetchOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithCacheSize caps how many page bodies are kept.
func WithCacheSize(n int) FetchOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.cacheSize = n
		}
	}
}

// NewFetcher creates an HTTPFetcher.
func NewFetcher(opts ...FetchOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:      &http.Client{},
		maxBodySize: defaultMaxBodySize,
		userAgent:   defaultUserAgent,
		cacheSize:   fetchCacheMax,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.cache = expirable.NewLRU[string, string](f.cacheSize, nil, fetchCacheTTL)
	return f
}

// Fetch GETs rawURL and returns its body. HTTP errors, non-text content and
// a timeout are all failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	key := u.String()
	if body, ok := f.cache.Get(key); ok {
		return body, nil
	}

	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d %s for %s", resp.StatusCode, http.StatusText(resp.StatusCode), key)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isText(ct) {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	body := string(data)
	f.cache.Add(key, body)
	return body, nil
}

func isText(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "application/xhtml")
}
