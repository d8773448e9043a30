// Package search provides the web search and page fetch collaborators used by
// retrieval-augmented answers.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	searchTimeout     = 30 * time.Second
	defaultMaxResults = 5
	maxResults        = 20
)

// Provider names.
const (
	Tavily = "tavily"
	Exa    = "exa"
	Jina   = "jina"
)

var defaultEndpoints = map[string]string{
	Tavily: "https://api.tavily.com/search",
	Exa:    "https://api.exa.ai/search",
	Jina:   "https://s.jina.ai/",
}

// Client searches the web through one provider and returns result URLs.
type Client struct {
	Provider string // "tavily", "exa", or "jina"
	APIKey   string

	// Endpoint overrides the provider's API URL.
	Endpoint string

	HTTPClient *http.Client
}

// NewClient creates a Client.
// Provider priority: explicit > tavily (if key set) > jina (free fallback).
func NewClient(provider, apiKey string) *Client {
	if provider == "" {
		if apiKey != "" {
			provider = Tavily
		} else {
			provider = Jina
		}
	}
	return &Client{Provider: provider, APIKey: apiKey, HTTPClient: http.DefaultClient}
}

// Search returns up to limit result URLs for query, best first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = defaultMaxResults
	}
	if limit > maxResults {
		limit = maxResults
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var (
		urls []string
		err  error
	)
	switch c.Provider {
	case Tavily:
		urls, err = c.searchTavily(ctx, query, limit)
	case Exa:
		urls, err = c.searchExa(ctx, query, limit)
	case Jina:
		urls, err = c.searchJina(ctx, query, limit)
	default:
		return nil, fmt.Errorf("unknown search provider %q", c.Provider)
	}
	if err != nil {
		return nil, err
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

func (c *Client) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return defaultEndpoints[c.Provider]
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// searchTavily queries the Tavily search API.
func (c *Client) searchTavily(ctx context.Context, query string, limit int) ([]string, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("tavily API key not configured; set search.api_key or TAVILY_API_KEY, or switch to jina")
	}
	reqBody, _ := json.Marshal(map[string]any{
		"query":        query,
		"max_results":  limit,
		"search_depth": "basic",
	})

	var result struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, c.endpoint(), reqBody, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + c.APIKey,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	urls := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		urls = appendURL(urls, r.URL)
	}
	return urls, nil
}

// searchExa queries the Exa search API.
func (c *Client) searchExa(ctx context.Context, query string, limit int) ([]string, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("exa API key not configured; set search.api_key or EXA_API_KEY")
	}
	reqBody, _ := json.Marshal(map[string]any{
		"query":      query,
		"numResults": limit,
		"type":       "auto",
	})

	var result struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, c.endpoint(), reqBody, map[string]string{
		"Content-Type": "application/json",
		"x-api-key":    c.APIKey,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("exa: %w", err)
	}

	urls := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		urls = appendURL(urls, r.URL)
	}
	return urls, nil
}

// searchJina queries the Jina search API (free, key optional).
func (c *Client) searchJina(ctx context.Context, query string, limit int) ([]string, error) {
	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": defaultUserAgent,
	}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}

	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	endpoint := strings.TrimSuffix(c.endpoint(), "/") + "/" + url.PathEscape(query)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, headers, &result); err != nil {
		return nil, fmt.Errorf("jina: %w", err)
	}

	urls := make([]string, 0, limit)
	for _, item := range result.Data {
		if len(urls) >= limit {
			break
		}
		urls = appendURL(urls, item.URL)
	}
	return urls, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, out any) error {
	var rd io.Reader
	if body != nil {
		rd = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// appendURL keeps only absolute http(s) URLs and drops duplicates.
func appendURL(urls []string, raw string) []string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return urls
	}
	s := u.String()
	for _, existing := range urls {
		if existing == s {
			return urls
		}
	}
	return append(urls, s)
}
