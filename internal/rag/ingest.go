package rag

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/liao/mall-concierge/internal/shop"
)

// 导入文件格式
const (
	FormatAuto = "auto"
	FormatFlat = "flat" // 整理好的店铺 JSON 数组
	FormatRaw  = "raw"  // 商场网站导出的 {"docs": [...]}
)

// Ingest 按格式导入文件或目录，返回写入条数
func (ix *Indexer) Ingest(ctx context.Context, path, format string) (int, error) {
	if format == "" || format == FormatAuto {
		detected, err := DetectFormat(path)
		if err != nil {
			return 0, err
		}
		format = detected
	}
	slog.Info("ingest started", "path", path, "format", format)

	switch format {
	case FormatFlat:
		return ix.IndexFile(ctx, path)
	case FormatRaw:
		records, err := LoadRaw(path)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			return 0, fmt.Errorf("no shops found in %s", path)
		}
		if err := ix.Index(ctx, records); err != nil {
			return 0, err
		}
		return len(records), nil
	default:
		return 0, fmt.Errorf("unknown ingest format %q", format)
	}
}

// DetectFormat 目录按 raw 处理；文件看顶层是数组还是对象
func DetectFormat(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FormatRaw, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	switch trimmed := bytes.TrimSpace(data); {
	case bytes.HasPrefix(trimmed, []byte("[")):
		return FormatFlat, nil
	case bytes.HasPrefix(trimmed, []byte("{")):
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("%s: cannot detect format, expected JSON array or object", path)
	}
}

// LoadRaw 读取单个导出文件或整个导出目录
func LoadRaw(path string) ([]shop.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return shop.LoadDir(path)
	}
	return shop.LoadFile(path)
}
