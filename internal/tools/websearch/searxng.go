package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"localmind/config"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client queries a SearxNG instance over its JSON API.
type Client struct {
	endpoint   string
	maxResults int
	httpc      *http.Client
}

// NewClient builds a search client from config. Endpoint is the SearxNG
// base URL, e.g. http://localhost:8080.
func NewClient(cfg config.SearchConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	max := cfg.MaxResults
	if max <= 0 {
		max = 5
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		maxResults: max,
		httpc:      &http.Client{Timeout: timeout},
	}
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a query and returns at most the configured number of results.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("search endpoint is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	u := fmt.Sprintf("%s/search?q=%s&format=json", c.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}
	var out searxResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= c.maxResults {
			break
		}
	}
	return results, nil
}
