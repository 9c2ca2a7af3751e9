// Package websearch provides a client for an external web search API.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"docchat-go/internal/config"
)

// ErrNotConfigured is returned when no API credential is present. Callers
// must treat this as "no results", not as a hard failure.
var ErrNotConfigured = errors.New("web search api key is not configured")

// Result is a single web search hit.
type Result struct {
	Title   string
	Link    string
	Snippet string
	Source  string
}

// Client defines the interface for a web search client.
type Client interface {
	Search(ctx context.Context, query string, n int) ([]Result, error)
}

type customSearchClient struct {
	cfg    config.WebSearchConfig
	client *http.Client
}

// NewClient creates a web search client backed by a Google Custom
// Search-compatible endpoint.
func NewClient(cfg config.WebSearchConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		timeout = 10 * time.Second
	}
	return &customSearchClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Items []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Snippet     string `json:"snippet"`
		DisplayLink string `json:"displayLink"`
	} `json:"items"`
}

// Search queries the search API and returns at most n results.
func (c *customSearchClient) Search(ctx context.Context, query string, n int) ([]Result, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if n <= 0 {
		n = 4
	}

	params := url.Values{}
	params.Set("key", c.cfg.APIKey)
	params.Set("cx", c.cfg.EngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(n))

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call search api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search api returned non-200 status: %s", resp.Status)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Result, 0, len(searchResp.Items))
	for _, item := range searchResp.Items {
		results = append(results, Result{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
			Source:  item.DisplayLink,
		})
		if len(results) >= n {
			break
		}
	}
	return results, nil
}
