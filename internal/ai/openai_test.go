package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedDocumentsOneRequestPerBatch(t *testing.T) {
	stubPause(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// 倒序返回，客户端按 index 还原
		parts := make([]string, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			parts = append(parts, fmt.Sprintf(`{"index": %d, "embedding": [%d, 1]}`, i, i))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"data": [%s]}`, strings.Join(parts, ","))
	}))
	defer srv.Close()

	e := newOpenAIEmbedder(srv.URL, "sk-test", "")
	texts := []string{"Nike", "Starbucks", "Uniqlo", "Watsons", "Muji"}
	got, err := e.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, got, len(texts))
	for i, v := range got {
		assert.Equal(t, []float32{float32(i), 1}, v)
	}
}

func TestOpenAIEmbedDocumentsRetriesRateLimit(t *testing.T) {
	waits := stubPause(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error": {"message": "rate limited"}}`, http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.6, 0.8]}]}`))
	}))
	defer srv.Close()

	got, err := newOpenAIEmbedder(srv.URL, "sk-test", "").EmbedDocuments(context.Background(), []string{"coffee"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.6, 0.8}}, got)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{backoff(0)}, *waits)
}

func TestOpenAIEmbedDocumentsGivesUp(t *testing.T) {
	waits := stubPause(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newOpenAIEmbedder(srv.URL, "sk-test", "").EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "status 502")
	assert.Equal(t, int32(openAIAttempts), calls.Load())
	assert.Len(t, *waits, openAIAttempts-1)
}

func TestOpenAIEmbedDocumentsDoesNotRetryBadRequest(t *testing.T) {
	waits := stubPause(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "invalid model"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newOpenAIEmbedder(srv.URL, "sk-test", "nope").EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *waits)
}

func TestOpenAIEmbedDocumentsRejectsBadResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "count mismatch", body: `{"data": [{"index": 0, "embedding": [1]}]}`, wantErr: "embedding count mismatch"},
		{name: "duplicate index", body: `{"data": [{"index": 0, "embedding": [1]}, {"index": 0, "embedding": [2]}]}`, wantErr: "invalid index"},
		{name: "empty vector", body: `{"data": [{"index": 0, "embedding": [1]}, {"index": 1, "embedding": []}]}`, wantErr: "empty embedding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newOpenAIEmbedder(srv.URL, "sk-test", "").EmbedDocuments(context.Background(), []string{"a", "b"})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestOpenAIEmbedDocumentsEmpty(t *testing.T) {
	e := newOpenAIEmbedder("http://127.0.0.1:1", "sk-test", "")
	got, err := e.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenAIEmbedQueryNoWaitAfterLastAttempt(t *testing.T) {
	waits := stubPause(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newOpenAIEmbedder(srv.URL, "sk-test", "").EmbedQuery(context.Background(), "coffee")
	assert.ErrorContains(t, err, "embed failed after 3 attempts")
	assert.Equal(t, int32(openAIAttempts), calls.Load())
	assert.Equal(t, []time.Duration{backoff(0), backoff(1)}, *waits)
}
