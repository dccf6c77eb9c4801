package shop

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoDocs 导出文件缺少顶层 docs 数组
var ErrNoDocs = errors.New("missing top-level docs array")

// rawExport 商场 CMS 导出文件
type rawExport struct {
	Docs *[]rawDoc `json:"docs"`
}

type rawDoc struct {
	Title        *string       `json:"title"`
	Venue        *string       `json:"venue"`
	CategoryTree []rawCategory `json:"categoryTree"`
	Keywords     string        `json:"keywords"`
	Text         *string       `json:"text"`
}

type rawCategory struct {
	Title string `json:"title"`
	Subs  []struct {
		Title string `json:"title"`
	} `json:"subs"`
}

// LoadDir 读取目录下所有导出文件，单个文件失败只记录日志并跳过
func LoadDir(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read export dir: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		recs, err := LoadFile(path)
		if err != nil {
			slog.Warn("skip shop export file", "file", path, "error", err)
			continue
		}
		slog.Debug("loaded shop export file", "file", path, "shops", len(recs))
		records = append(records, recs...)
	}

	slog.Info("shop exports loaded", "dir", dir, "shops", len(records))
	return records, nil
}

// LoadFile 解析单个导出文件
func LoadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseExport(data)
}

// ParseExport 将 docs[].categoryTree[].subs[] 结构展开为 Record
func ParseExport(data []byte) ([]Record, error) {
	var export rawExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	if export.Docs == nil {
		return nil, ErrNoDocs
	}

	records := make([]Record, 0, len(*export.Docs))
	for i, d := range *export.Docs {
		switch {
		case d.Title == nil:
			return nil, fmt.Errorf("doc %d: missing title", i)
		case d.Venue == nil:
			return nil, fmt.Errorf("doc %d: missing venue", i)
		case d.Text == nil:
			return nil, fmt.Errorf("doc %d: missing text", i)
		}

		r := Record{
			Title:         strings.TrimSpace(*d.Title),
			Venue:         strings.TrimSpace(*d.Venue),
			Categories:    []string{},
			Subcategories: []string{},
			Keywords:      SplitKeywords(d.Keywords),
			Description:   plainText(*d.Text),
		}
		for _, c := range d.CategoryTree {
			r.Categories = append(r.Categories, c.Title)
			for _, s := range c.Subs {
				r.Subcategories = append(r.Subcategories, s.Title)
			}
		}
		if r.Keywords == nil {
			r.Keywords = []string{}
		}
		records = append(records, r)
	}
	return records, nil
}

// plainText 去掉描述里的 HTML 标签
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
