package assistant

import (
	"context"
	"errors"
)

var errNoIndexer = errors.New("assistant has no indexer configured")

// Ingest 把店铺数据写入向量库，format 见 rag.FormatAuto 等
func (a *Assistant) Ingest(ctx context.Context, path, format string) (int, error) {
	if a.opts.Indexer == nil {
		return 0, errNoIndexer
	}
	return a.opts.Indexer.Ingest(ctx, path, format)
}
