package export

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

// ConverterClient calls the markdown rendering service to produce PDF or
// DOCX bytes from assembled report prose.
type ConverterClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewConverterClient(baseURL string) *ConverterClient {
	return &ConverterClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Render converts markdown content to the requested format ("pdf" or
// "docx") and returns the raw document bytes.
func (c *ConverterClient) Render(ctx context.Context, content, title string, references []string, format string) ([]byte, error) {
	body, _ := json.Marshal(map[string]any{
		"content":    content,
		"title":      title,
		"references": references,
		"format":     format,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("converter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("converter /api/render: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("converter /api/render returned %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}
