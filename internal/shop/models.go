package shop

import (
	"fmt"
	"strings"
)

// Record 一家店铺的标准化描述
type Record struct {
	Title         string   `json:"title"`
	Venue         string   `json:"venue"`
	Categories    []string `json:"categories"`
	Subcategories []string `json:"subcategories"`
	Keywords      []string `json:"keywords"`
	Description   string   `json:"description"`
}

// ID 向量集合中的主键
func (r *Record) ID() string {
	return r.Title + " | " + r.Venue
}

// EmbeddingInput 只用离散属性计算向量，不含描述正文
func (r *Record) EmbeddingInput() string {
	parts := []string{
		r.Title,
		strings.Join(r.Categories, ", "),
		strings.Join(r.Subcategories, ", "),
		strings.Join(r.Keywords, ", "),
	}
	return strings.Join(parts, " | ")
}

// Content 检索返回给生成器的完整文本
func (r *Record) Content() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", r.Title)
	fmt.Fprintf(&b, "Venue: %s\n", r.Venue)
	fmt.Fprintf(&b, "Categories: %s\n", strings.Join(r.Categories, ", "))
	fmt.Fprintf(&b, "Subcategories: %s\n", strings.Join(r.Subcategories, ", "))
	fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(r.Keywords, ", "))
	fmt.Fprintf(&b, "Description: %s\n", r.Description)
	return b.String()
}

// Metadata 冗余存储的过滤字段
func (r *Record) Metadata() map[string]string {
	return map[string]string{
		"title":         r.Title,
		"categories":    strings.Join(r.Categories, ", "),
		"subcategories": strings.Join(r.Subcategories, ", "),
		"venue":         r.Venue,
	}
}

// SplitKeywords 拆分逗号分隔的关键词，丢弃空串和单独的 "&"
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k == "" || k == "&" {
			continue
		}
		out = append(out, k)
	}
	return out
}
