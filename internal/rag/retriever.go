package rag

import (
	"context"
	"fmt"
	"log/slog"
)

// QueryEmbedder 把查询文本转成向量，需与建索引时同一个向量空间
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	store    *Store
	embedder QueryEmbedder
}

func NewRetriever(store *Store, embedder QueryEmbedder) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
	}
}

// Retrieve 返回与查询最相似的 k 家店铺文本，不设相似度阈值
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if r.store == nil || r.store.Count() == 0 {
		slog.Debug("no shops in store, skipping retrieval")
		return nil, nil
	}

	emb, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.store.QueryEmbedding(ctx, emb, k)
	if err != nil {
		return nil, err
	}

	docs := make([]string, 0, len(results))
	for _, res := range results {
		docs = append(docs, res.Content)
	}

	slog.Debug("retrieved shops", "query", query, "k", k, "count", len(docs))
	return docs, nil
}
