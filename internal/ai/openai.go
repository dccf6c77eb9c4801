package ai

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

	"github.com/philippgille/chromem-go"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	openAIAttempts       = 3
)

// OpenAIEmbedder 文档走批量 /embeddings 接口，查询走 chromem-go 的 OpenAI embedding 函数
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	embed   chromem.EmbeddingFunc
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return newOpenAIEmbedder(defaultOpenAIBaseURL, apiKey, model)
}

func newOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(chromem.EmbeddingModelOpenAI3Small)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &OpenAIEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		embed:   chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil),
	}
}

// EmbedDocuments 整批文本一次请求
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < openAIAttempts; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		resp, retry, err := e.do(ctx, body)
		if err == nil {
			return vectorsFromResponse(resp, len(texts))
		}
		lastErr = err
		if !retry {
			break
		}
		slog.Warn("openai embed failed, retrying", "attempt", attempt+1, "batch", len(texts), "error", err)
	}
	return nil, fmt.Errorf("openai embed: %w", lastErr)
}

// do 发送一次请求；第二个返回值表示是否值得重试
func (e *OpenAIEmbedder) do(ctx context.Context, body []byte) (*openAIEmbedResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("embeddings api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("embeddings api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out openAIEmbedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &out, false, nil
}

// vectorsFromResponse 按 index 还原输入顺序
func vectorsFromResponse(resp *openAIEmbedResponse, n int) ([][]float32, error) {
	if len(resp.Data) != n {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), n)
	}
	vectors := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= n || vectors[d.Index] != nil {
			return nil, fmt.Errorf("embeddings returned invalid index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < openAIAttempts; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		v, err := e.embed(ctx, text)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embed failed after %d attempts: %w", openAIAttempts, lastErr)
}

func (e *OpenAIEmbedder) EmbedFunc() func(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedQuery
}
