// Package rerank 用 cross-encoder 对检索候选重新打分排序
package rerank

import (
	"context"
	"fmt"
	"sort"
)

// Reranker 返回按相关度降序的前 keep 个候选
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string, keep int) ([]string, error)
}

// Order 按分数稳定降序排列，分数相同保持原检索顺序
func Order(candidates []string, scores []float64, keep int) ([]string, error) {
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("got %d scores for %d candidates", len(scores), len(candidates))
	}
	if keep <= 0 {
		return []string{}, nil
	}
	if keep > len(candidates) {
		keep = len(candidates)
	}

	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	out := make([]string, 0, keep)
	for _, i := range idx[:keep] {
		out = append(out, candidates[i])
	}
	return out, nil
}
