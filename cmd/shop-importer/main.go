package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/liao/mall-concierge/internal/ai"
	"github.com/liao/mall-concierge/internal/config"
	"github.com/liao/mall-concierge/internal/logging"
	"github.com/liao/mall-concierge/internal/rag"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	input := flag.String("input", "", "shop file (flat JSON array or raw {docs} export) or a directory of raw exports")
	format := flag.String("format", rag.FormatAuto, "input format: auto, flat, raw")
	dryRun := flag.Bool("dry-run", false, "parse and validate only, no embedding calls")
	flag.Parse()

	if *input == "" {
		fmt.Fprintf(os.Stderr, "Usage: shop-importer -input <file|dir> [-format auto|flat|raw] [-config configs/config.yaml]\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	closer, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging failed: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if *dryRun {
		if err := validate(*input, *format); err != nil {
			slog.Error("validation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()
	start := time.Now()

	var embedder interface {
		rag.Embedder
		EmbedFunc() func(ctx context.Context, text string) ([]float32, error)
	}
	if cfg.RAG.EmbeddingProvider == "openai" {
		embedder = ai.NewOpenAIEmbedder(cfg.RAG.OpenAIAPIKey, cfg.RAG.OpenAIModel)
	} else {
		client, err := ai.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.ChatModels, cfg.Gemini.EmbeddingModel,
			cfg.Gemini.Temperature, cfg.Gemini.MaxOutputTokens, cfg.Gemini.RPMLimit)
		if err != nil {
			slog.Error("create Gemini client failed", "error", err)
			os.Exit(1)
		}
		embedder = client
	}

	store, err := rag.OpenStore(cfg.RAG.VectorsDir, cfg.RAG.Collection, embedder.EmbedFunc())
	if err != nil {
		slog.Error("open vector store failed", "error", err)
		os.Exit(1)
	}

	ix := rag.NewIndexer(store, embedder, cfg.RAG.EmbedBatchSize)
	n, err := ix.Ingest(ctx, *input, *format)
	if err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}

	// 导入报告
	report := fmt.Sprintf(`Import Report
=============
Input:        %s
Shops:        %d
Collection:   %s (%d documents)
Vectors dir:  %s
Elapsed:      %s
`, *input, n, cfg.RAG.Collection, store.Count(), cfg.RAG.VectorsDir, time.Since(start).Round(time.Millisecond))
	fmt.Println(report)
}

// validate 只解析不写入，检查格式和必填字段
func validate(input, format string) error {
	if format == "" || format == rag.FormatAuto {
		detected, err := rag.DetectFormat(input)
		if err != nil {
			return err
		}
		format = detected
	}

	switch format {
	case rag.FormatFlat:
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read %s: %w", input, err)
		}
		records, err := rag.DecodeShops(data)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d valid shops (flat)\n", input, len(records))
	case rag.FormatRaw:
		records, err := rag.LoadRaw(input)
		if err != nil {
			return err
		}
		titles := make([]string, 0, 5)
		for i := 0; i < len(records) && i < 5; i++ {
			titles = append(titles, records[i].Title)
		}
		fmt.Printf("%s: %d shops (raw), e.g. %s\n", input, len(records), strings.Join(titles, ", "))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}
