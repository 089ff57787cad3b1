package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Options tunes one search call.
type Options struct {
	MaxResults    int
	IncludeImages bool
}

// Result is one search hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	RawContent    string  `json:"raw_content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

// Image is one image hit with its model-written description.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Response is the full search envelope.
type Response struct {
	Query        string   `json:"query"`
	Answer       string   `json:"answer"`
	Results      []Result `json:"results"`
	Images       []Image  `json:"images"`
	ResponseTime float64  `json:"response_time"`
}

// TavilyClient calls the Tavily search API over HTTP.
type TavilyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewTavilyClient(baseURL, apiKey string) *TavilyClient {
	return &TavilyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Search runs one query. Requests asking for more than 5 results use the
// advanced depth tier, matching the quality expectation of large batches.
func (c *TavilyClient) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	depth := "basic"
	if opts.MaxResults > 5 {
		depth = "advanced"
	}
	body, _ := json.Marshal(map[string]any{
		"query":                      query,
		"search_depth":               depth,
		"include_answer":             true,
		"include_raw_content":        opts.IncludeImages,
		"max_results":                opts.MaxResults,
		"include_images":             opts.IncludeImages,
		"include_image_descriptions": true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily /search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tavily /search returned %d: %s", resp.StatusCode, string(b))
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("tavily /search: decode: %w", err)
	}
	return &result, nil
}
