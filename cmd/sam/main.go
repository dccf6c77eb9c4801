package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liao/mall-concierge/internal/ai"
	"github.com/liao/mall-concierge/internal/assistant"
	"github.com/liao/mall-concierge/internal/bot"
	"github.com/liao/mall-concierge/internal/chat"
	"github.com/liao/mall-concierge/internal/config"
	"github.com/liao/mall-concierge/internal/logging"
	"github.com/liao/mall-concierge/internal/persona"
	"github.com/liao/mall-concierge/internal/rag"
	"github.com/liao/mall-concierge/internal/rerank"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	console := flag.Bool("console", false, "chat on stdin instead of connecting to QQ")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logOpts := logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Quiet:      *console, // 终端模式下日志只写文件，不打断对话
	}
	logCloser, err := logging.Setup(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging failed: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Gemini 客户端
	aiClient, err := ai.NewClient(ctx,
		cfg.Gemini.APIKey,
		cfg.Gemini.ChatModels,
		cfg.Gemini.EmbeddingModel,
		cfg.Gemini.Temperature,
		cfg.Gemini.MaxOutputTokens,
		cfg.Gemini.RPMLimit,
	)
	if err != nil {
		slog.Error("create AI client failed", "error", err)
		os.Exit(1)
	}
	slog.Info("AI client initialized", "models", cfg.Gemini.ChatModels)

	// 向量存储 + RAG
	embedder := newEmbedder(cfg, aiClient)
	store, err := rag.OpenStore(cfg.RAG.VectorsDir, cfg.RAG.Collection, embedder.EmbedFunc())
	if err != nil {
		slog.Error("open vector store failed", "error", err)
		os.Exit(1)
	}
	if store.Count() == 0 {
		slog.Warn("vector store is empty, run shop-importer or /ingest first", "dir", cfg.RAG.VectorsDir)
	}

	// 会话存储
	sessions, closeSessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		slog.Error("create session store failed", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	// Persona
	p := persona.Default()
	if cfg.Data.PersonaFile != "" {
		loaded, err := persona.LoadFromFile(cfg.Data.PersonaFile)
		if err != nil {
			slog.Warn("load persona failed, using default", "error", err)
		} else {
			p = loaded
		}
	}

	opts := assistant.Options{
		TopK:          cfg.RAG.TopK,
		CandidateK:    cfg.RAG.CandidateK,
		HistoryWindow: cfg.RAG.HistoryWindow,
		History:       cfg.History.Enabled,
		Persona:       p,
		Indexer:       rag.NewIndexer(store, embedder, cfg.RAG.EmbedBatchSize),
	}
	if cfg.Reranker.Enabled {
		opts.Reranker = rerank.NewClient(rerank.Config{
			BaseURL:    cfg.Reranker.BaseURL,
			APIKey:     cfg.Reranker.APIKey,
			Model:      cfg.Reranker.Model,
			Timeout:    time.Duration(cfg.Reranker.TimeoutSec) * time.Second,
			MaxRetries: cfg.Reranker.MaxRetries,
		})
	}
	sam := assistant.New(rag.NewRetriever(store, embedder), aiClient, sessions, opts)

	// 优雅关闭，终端模式同样要落盘会话
	cleanups := []func(){cancel, closeSessions, func() { logCloser.Close() }}
	var b *bot.Bot
	if !*console {
		b = bot.New(cfg, sam)
		cleanups = append([]func(){b.Stop}, cleanups...)
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		onSignal(sig, cleanups...)
		os.Exit(0)
	}()

	if *console {
		if err := runConsole(ctx, sam, os.Stdin, os.Stdout); err != nil {
			slog.Error("console stopped", "error", err)
		}
		return
	}
	b.Run(ctx)
}

// onSignal 等到第一个信号后按顺序执行清理
func onSignal(sig <-chan os.Signal, cleanups ...func()) {
	s := <-sig
	slog.Info("shutting down...", "signal", s)
	for _, f := range cleanups {
		f()
	}
}

type embedder interface {
	rag.Embedder
	EmbedFunc() func(ctx context.Context, text string) ([]float32, error)
}

func newEmbedder(cfg *config.Config, gemini *ai.Client) embedder {
	if cfg.RAG.EmbeddingProvider == "openai" {
		slog.Info("using openai embeddings", "model", cfg.RAG.OpenAIModel)
		return ai.NewOpenAIEmbedder(cfg.RAG.OpenAIAPIKey, cfg.RAG.OpenAIModel)
	}
	return gemini
}

// newSessionStore 返回的 close 函数在退出时调用一次
func newSessionStore(ctx context.Context, cfg *config.Config) (chat.Store, func(), error) {
	ttl := time.Duration(cfg.Session.TTLMin) * time.Minute

	if cfg.Session.Backend == "redis" {
		rs, err := chat.NewRedisStore(ctx, cfg.Session.RedisURL, ttl)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				slog.Error("close redis failed", "error", err)
			}
		}, nil
	}

	ms, err := chat.NewMemoryStore(ttl, cfg.Data.SessionsFile)
	if err != nil {
		return nil, nil, err
	}
	return ms, func() {
		if err := ms.Save(); err != nil {
			slog.Error("save session failed", "error", err)
		}
	}, nil
}
