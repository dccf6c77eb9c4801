package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/liao/mall-concierge/internal/shop"
)

const defaultBatchSize = 100

// ErrInvalidShop 店铺缺少必填字段
var ErrInvalidShop = errors.New("invalid shop")

// Embedder 批量生成文档向量，一批一次远程调用
type Embedder interface {
	QueryEmbedder
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Indexer struct {
	store     *Store
	embedder  Embedder
	batchSize int
}

func NewIndexer(store *Store, embedder Embedder, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Indexer{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
	}
}

// IndexFile 读取扁平的店铺 JSON 数组并写入向量集合
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	slog.Info("indexing shops", "file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("read shop file failed", "file", path, "error", err)
		return 0, fmt.Errorf("read shop file: %w", err)
	}
	records, err := DecodeShops(data)
	if err != nil {
		slog.Error("decode shop file failed", "file", path, "error", err)
		return 0, err
	}
	if err := ix.Index(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Index 分批生成向量并 upsert；已写入的批次不回滚
func (ix *Indexer) Index(ctx context.Context, records []shop.Record) error {
	seen := make(map[string]int, len(records))
	for i := range records {
		id := records[i].ID()
		if prev, ok := seen[id]; ok {
			slog.Warn("duplicate shop key, later entry wins", "id", id, "first", prev, "second", i)
		}
		seen[id] = i
	}

	for start := 0; start < len(records); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		inputs := make([]string, 0, len(batch))
		for i := range batch {
			inputs = append(inputs, batch[i].EmbeddingInput())
		}
		vectors, err := ix.embedder.EmbedDocuments(ctx, inputs)
		if err != nil {
			slog.Error("embed shop batch failed", "start", start, "size", len(batch), "error", err)
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embed batch at %d: got %d vectors for %d shops", start, len(vectors), len(batch))
		}

		docs := make([]chromem.Document, 0, len(batch))
		for i := range batch {
			docs = append(docs, chromem.Document{
				ID:        batch[i].ID(),
				Content:   batch[i].Content(),
				Metadata:  batch[i].Metadata(),
				Embedding: vectors[i],
			})
		}
		if err := ix.store.Upsert(ctx, docs); err != nil {
			slog.Error("upsert shop batch failed", "start", start, "error", err)
			return fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		slog.Info("indexed shop batch", "progress", fmt.Sprintf("%d/%d", end, len(records)))
	}

	slog.Info("indexing complete", "shops", len(records), "total_vectors", ix.store.Count())
	return nil
}

type flatShop struct {
	Title         *string         `json:"title"`
	Venue         *string         `json:"venue"`
	Categories    *[]string       `json:"categories"`
	Subcategories []string        `json:"subcategories"`
	Keywords      json.RawMessage `json:"keywords"`
	Description   *string         `json:"description"`
}

// DecodeShops 解析并校验全部店铺，任一条不合法则整体失败
func DecodeShops(data []byte) ([]shop.Record, error) {
	var raw []flatShop
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse shop list: %w", err)
	}

	records := make([]shop.Record, 0, len(raw))
	for i, s := range raw {
		missing := func(field string) error {
			return fmt.Errorf("%w: shop %d: missing %s", ErrInvalidShop, i, field)
		}
		switch {
		case s.Title == nil || strings.TrimSpace(*s.Title) == "":
			return nil, missing("title")
		case s.Venue == nil || strings.TrimSpace(*s.Venue) == "":
			return nil, missing("venue")
		case s.Categories == nil:
			return nil, missing("categories")
		case len(s.Keywords) == 0 || string(s.Keywords) == "null":
			return nil, missing("keywords")
		case s.Description == nil:
			return nil, missing("description")
		}

		keywords, err := decodeKeywords(s.Keywords)
		if err != nil {
			return nil, fmt.Errorf("%w: shop %d: keywords: %v", ErrInvalidShop, i, err)
		}
		subs := s.Subcategories
		if subs == nil {
			subs = []string{}
		}

		records = append(records, shop.Record{
			Title:         *s.Title,
			Venue:         *s.Venue,
			Categories:    *s.Categories,
			Subcategories: subs,
			Keywords:      keywords,
			Description:   *s.Description,
		})
	}
	return records, nil
}

// decodeKeywords 兼容数组和逗号分隔字符串两种写法
func decodeKeywords(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, k := range list {
			if k = strings.TrimSpace(k); k != "" && k != "&" {
				out = append(out, k)
			}
		}
		return out, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected array or string")
	}
	out := shop.SplitKeywords(s)
	if out == nil {
		out = []string{}
	}
	return out, nil
}
