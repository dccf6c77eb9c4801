package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	NapCat   NapCatConfig   `mapstructure:"napcat"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	RAG      RAGConfig      `mapstructure:"rag"`
	Reranker RerankerConfig `mapstructure:"reranker"`
	History  HistoryConfig  `mapstructure:"history"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
}

type BotConfig struct {
	NickName  string  `mapstructure:"nickname"`
	OwnerQQ   int64   `mapstructure:"owner_qq"`
	AllowedQQ []int64 `mapstructure:"allowed_qq"` // 为空时回复所有人
}

type NapCatConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	AccessToken string `mapstructure:"access_token"`
}

type GeminiConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	ChatModels      []string `mapstructure:"chat_models"` // 429 时按顺序轮换
	EmbeddingModel  string   `mapstructure:"embedding_model"`
	Temperature     float32  `mapstructure:"temperature"`
	MaxOutputTokens int32    `mapstructure:"max_output_tokens"`
	RPMLimit        int      `mapstructure:"rpm_limit"`
}

type RAGConfig struct {
	VectorsDir        string `mapstructure:"vectors_dir"`
	Collection        string `mapstructure:"collection"`
	TopK              int    `mapstructure:"top_k"`
	CandidateK        int    `mapstructure:"candidate_k"`
	HistoryWindow     int    `mapstructure:"history_window"`
	EmbedBatchSize    int    `mapstructure:"embed_batch_size"`
	EmbeddingProvider string `mapstructure:"embedding_provider"` // gemini / openai
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	OpenAIModel       string `mapstructure:"openai_model"`
}

type RerankerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SessionConfig struct {
	Backend  string `mapstructure:"backend"` // memory / redis
	RedisURL string `mapstructure:"redis_url"`
	TTLMin   int    `mapstructure:"ttl_min"` // 0 表示不过期
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type DataConfig struct {
	SessionsFile string `mapstructure:"sessions_file"`
	PersonaFile  string `mapstructure:"persona_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.nickname", "Sam")
	v.SetDefault("napcat.ws_url", "ws://127.0.0.1:3001")

	v.SetDefault("gemini.chat_models", []string{"gemini-2.5-flash", "gemini-2.0-flash"})
	v.SetDefault("gemini.embedding_model", "text-embedding-004")
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.max_output_tokens", 2048)
	v.SetDefault("gemini.rpm_limit", 10)

	v.SetDefault("rag.vectors_dir", "data/vectors")
	v.SetDefault("rag.collection", "shops")
	v.SetDefault("rag.top_k", 10)
	v.SetDefault("rag.candidate_k", 20)
	v.SetDefault("rag.history_window", 6)
	v.SetDefault("rag.embed_batch_size", 100)
	v.SetDefault("rag.embedding_provider", "gemini")
	v.SetDefault("rag.openai_model", "text-embedding-3-small")

	v.SetDefault("reranker.enabled", true)
	v.SetDefault("reranker.base_url", "https://api.jina.ai/v1/rerank")
	v.SetDefault("reranker.model", "jina-reranker-v2-base-multilingual")
	v.SetDefault("reranker.timeout_sec", 30)
	v.SetDefault("reranker.max_retries", 3)

	v.SetDefault("history.enabled", true)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl_min", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size_mb", 5)
	v.SetDefault("log.max_backups", 5)

	v.SetDefault("data.sessions_file", "data/sessions.json")
}

func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env failed", "error", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// 环境变量覆盖
	overrides := map[string]string{
		"GEMINI_API_KEY":      "gemini.api_key",
		"OPENAI_API_KEY":      "rag.openai_api_key",
		"RERANKER_API_KEY":    "reranker.api_key",
		"REDIS_URL":           "session.redis_url",
		"NAPCAT_ACCESS_TOKEN": "napcat.access_token",
	}
	for env, key := range overrides {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required (set in config or GEMINI_API_KEY env)")
	}
	if len(c.Gemini.ChatModels) == 0 {
		return fmt.Errorf("gemini.chat_models must not be empty")
	}
	switch c.RAG.EmbeddingProvider {
	case "gemini":
	case "openai":
		if c.RAG.OpenAIAPIKey == "" {
			return fmt.Errorf("rag.openai_api_key is required for the openai embedding provider (or OPENAI_API_KEY env)")
		}
	default:
		return fmt.Errorf("unknown rag.embedding_provider %q", c.RAG.EmbeddingProvider)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.CandidateK < c.RAG.TopK {
		return fmt.Errorf("rag.candidate_k (%d) must be >= rag.top_k (%d)", c.RAG.CandidateK, c.RAG.TopK)
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend (or REDIS_URL env)")
		}
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}
	return nil
}
