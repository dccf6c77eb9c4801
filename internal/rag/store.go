package rag

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/philippgille/chromem-go"
)

type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// OpenStore 创建或加载持久化向量存储
func OpenStore(vectorsDir, collection string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	db, err := chromem.NewPersistentDB(vectorsDir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	s, err := NewStore(db, collection, embedFunc)
	if err != nil {
		return nil, err
	}
	slog.Info("vector store loaded", "dir", vectorsDir, "collection", collection, "count", s.Count())
	return s, nil
}

// NewStore 在已有 DB 上获取集合，测试里用 chromem.NewDB()
func NewStore(db *chromem.DB, collection string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	col, err := db.GetOrCreateCollection(collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("get/create collection: %w", err)
	}
	return &Store{db: db, collection: col}, nil
}

// Upsert 批量写入文档，相同 ID 覆盖旧文档
func (s *Store) Upsert(ctx context.Context, docs []chromem.Document) error {
	return s.collection.AddDocuments(ctx, docs, runtime.NumCPU())
}

// QueryEmbedding 按相似度降序返回最多 topK 条
func (s *Store) QueryEmbedding(ctx context.Context, embedding []float32, topK int) ([]Result, error) {
	count := s.collection.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}

	k := topK
	if k > count {
		k = count
	}

	docs, err := s.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, Result{
			ID:         d.ID,
			Content:    d.Content,
			Similarity: d.Similarity,
			Metadata:   d.Metadata,
		})
	}
	return results, nil
}

// Get 按主键读取文档
func (s *Store) Get(ctx context.Context, id string) (Result, error) {
	d, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("get document %q: %w", id, err)
	}
	return Result{ID: d.ID, Content: d.Content, Metadata: d.Metadata}, nil
}

// Count 返回文档数量
func (s *Store) Count() int {
	return s.collection.Count()
}

type Result struct {
	ID         string
	Content    string
	Similarity float32
	Metadata   map[string]string
}
