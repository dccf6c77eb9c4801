package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.jina.ai/v1/rerank"

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client Jina 兼容的 rerank 接口
// 请求 {query, documents, top_n}，响应 {results: [{index, relevance_score}]}
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
}

type rerankRequest struct {
	Model           string   `json:"model,omitempty"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}
}

// Rerank 对所有候选打分，然后在本地做稳定排序和截断
func (c *Client) Rerank(ctx context.Context, query string, candidates []string, keep int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	scores, err := c.Score(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	return Order(candidates, scores, keep)
}

// Score 返回与 candidates 一一对应的相关度分数
func (c *Client) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: candidates,
		TopN:      len(candidates),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		resp, retry, err := c.do(ctx, body)
		if err == nil {
			return scoresFromResponse(resp, len(candidates))
		}
		lastErr = err
		if !retry {
			break
		}
		slog.Warn("rerank failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("rerank: %w", lastErr)
}

// do 发送一次请求；第二个返回值表示是否值得重试
func (c *Client) do(ctx context.Context, body []byte) (*rerankResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("rerank api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("rerank api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out rerankResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &out, false, nil
}

func scoresFromResponse(resp *rerankResponse, n int) ([]float64, error) {
	if len(resp.Results) != n {
		return nil, fmt.Errorf("rerank returned %d results for %d documents", len(resp.Results), n)
	}
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			return nil, fmt.Errorf("rerank returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}

func retryDelay(attempt int) time.Duration {
	base := 200 * time.Millisecond
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
