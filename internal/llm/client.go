package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ayush/deep-research-agent/internal/config"
)

// Response is the envelope returned by a completion call. ID carries the
// upstream response id; some providers put an error marker in it, which the
// summary flow inspects.
type Response struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
}

// endpointClient is one cached connection to a model endpoint.
type endpointClient struct {
	entity     config.ModelEntity
	httpClient *http.Client
}

// Client dispatches completions to per-step model endpoints. Endpoint
// clients are constructed lazily and reused for the process lifetime.
type Client struct {
	registry config.ModelRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*endpointClient
}

func NewClient(registry config.ModelRegistry, logger *slog.Logger) *Client {
	return &Client{
		registry: registry,
		logger:   logger.With("component", "llm"),
		clients:  make(map[string]*endpointClient),
	}
}

func (c *Client) clientFor(step string) *endpointClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ec, ok := c.clients[step]; ok {
		return ec
	}
	entity := c.registry.Resolve(step)
	ec := &endpointClient{
		entity:     entity,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	c.clients[step] = ec
	return ec
}

func completionsURL(baseURL string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (ec *endpointClient) post(ctx context.Context, payload map[string]any) (*http.Response, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		completionsURL(ec.entity.BaseURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ec.entity.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ec.entity.APIKey)
	}
	resp, err := ec.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llm returned %d: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}

// Complete sends a prompt to the step's model and returns the full text.
func (c *Client) Complete(ctx context.Context, step, prompt string) (*Response, error) {
	ec := c.clientFor(step)
	resp, err := ec.post(ctx, map[string]any{
		"model":    ec.entity.Model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm decode: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}
	return &Response{ID: result.ID, Model: result.Model, Content: result.Choices[0].Message.Content}, nil
}

// Stream sends a prompt with streaming enabled and returns a channel of
// text chunks. The chunks concatenate to the same text Complete would
// return. The channel closes when the stream ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, step, prompt string) (<-chan string, error) {
	ec := c.clientFor(step)
	resp, err := ec.post(ctx, map[string]any{
		"model":    ec.entity.Model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
		"stream":   true,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Warn("stream chunk decode failed", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("stream read failed", "step", step, "error", err)
		}
	}()
	return out, nil
}
