// Package config provides configuration loading for ragd.
//
// Configuration is assembled from three layers, highest precedence first:
// environment variables, an optional YAML file, and hardcoded defaults.
// The loaded Config is frozen at boot; nothing mutates it afterwards.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Config is the complete ragd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Client    ClientConfig    `koanf:"client"`
	Database  DatabaseConfig  `koanf:"database"`
	Vector    VectorConfig    `koanf:"vector"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Primary   LLMConfig       `koanf:"primary"`
	Fallback  LLMConfig       `koanf:"fallback"`
	Guardian  GuardianConfig  `koanf:"guardian"`
	Web       WebSearchConfig `koanf:"web"`
	JWT       JWTConfig       `koanf:"jwt"`
	RAG       RAGConfig       `koanf:"rag"`
	Chat      ChatConfig      `koanf:"chat"`
	Index     IndexConfig     `koanf:"index"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	NATS      NATSConfig      `koanf:"nats"`
	Log       LogConfig       `koanf:"log"`
	OTEL      OTELConfig      `koanf:"otel"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  string   `koanf:"allowed_origins"` // CSV
}

// Origins returns the CORS allow-list as a slice.
func (s ServerConfig) Origins() []string {
	return splitCSV(s.AllowedOrigins)
}

// ClientConfig bounds the process-wide outbound HTTP client pool.
type ClientConfig struct {
	MaxConnections int      `koanf:"max_connections"`
	Timeout        Duration `koanf:"timeout"`
}

// DatabaseConfig controls the relational store connection.
type DatabaseConfig struct {
	URL      string   `koanf:"url"`
	MaxConns int      `koanf:"max_conns"`
	Timeout  Duration `koanf:"timeout"`
}

// VectorConfig controls the chunk store. When URL is empty the pgvector
// backend dials Database.URL with its own pool.
type VectorConfig struct {
	Backend    string `koanf:"backend"` // "pgvector" or "memory"
	URL        string `koanf:"url"`
	MaxConns   int    `koanf:"max_conns"`
	IndexLists int    `koanf:"index_lists"`
}

// EmbeddingConfig controls embedding generation.
type EmbeddingConfig struct {
	Provider     string   `koanf:"provider"` // "tei", "openai", or "local"
	BaseURL      string   `koanf:"base_url"`
	Model        string   `koanf:"model"`
	Key          Secret   `koanf:"key"`
	Dim          int      `koanf:"dim"`
	ChunkSize    int      `koanf:"chunk_size"`
	ChunkOverlap int      `koanf:"chunk_overlap"`
	BatchSize    int      `koanf:"batch_size"`
	MaxInflight  int      `koanf:"max_inflight"`
	Timeout      Duration `koanf:"timeout"`
	CacheSize    int      `koanf:"cache_size"`
	CacheDir     string   `koanf:"cache_dir"` // model files for the local provider
}

// LLMConfig controls one completion adapter. TokenBudget is consulted on
// the primary slot only: assembled prompts estimated above it route to
// the fallback.
type LLMConfig struct {
	Key         Secret   `koanf:"llm_key"`
	URL         string   `koanf:"llm_url"`
	Model       string   `koanf:"llm_model"`
	Timeout     Duration `koanf:"llm_timeout"`
	RPS         float64  `koanf:"llm_rps"`
	Burst       int      `koanf:"llm_burst"`
	TokenBudget int      `koanf:"token_budget"`
}

// GuardianConfig controls the safety gate.
type GuardianConfig struct {
	Enabled        bool     `koanf:"enabled"`
	URL            string   `koanf:"url"`
	Key            Secret   `koanf:"key"`
	Timeout        Duration `koanf:"timeout"`
	CallsPerMinute int      `koanf:"calls_per_minute"`
	CacheTTL       Duration `koanf:"cache_ttl"`
	CacheSize      int      `koanf:"cache_size"`
}

// WebSearchConfig controls the allow-listed web search tool.
type WebSearchConfig struct {
	SearchEnabled  bool     `koanf:"search_enabled"`
	SearchURL      string   `koanf:"search_url"`
	SearchKey      Secret   `koanf:"search_key"`
	AllowedDomains string   `koanf:"allowed_domains"` // CSV of host suffixes
	CacheTTL       Duration `koanf:"cache_ttl"`
	CacheSize      int      `koanf:"cache_size"`
	Timeout        Duration `koanf:"timeout"`
	RPS            float64  `koanf:"rps"`
}

// Domains returns the domain allow-list as a slice.
func (w WebSearchConfig) Domains() []string {
	return splitCSV(w.AllowedDomains)
}

// JWTConfig controls token issuance and verification.
type JWTConfig struct {
	Secret        Secret `koanf:"secret"`
	ExpireMinutes int    `koanf:"expire_minutes"`
}

// RAGConfig controls retrieval for chat turns.
type RAGConfig struct {
	TopK     int `koanf:"top_k"`
	CtxChars int `koanf:"ctx_chars"`
}

// ChatConfig controls turn orchestration.
type ChatConfig struct {
	HistoryMessages int      `koanf:"history_messages"`
	MaxTokens       int      `koanf:"max_tokens"`
	Temperature     float64  `koanf:"temperature"`
	TurnTimeout     Duration `koanf:"turn_timeout"`
}

// IndexConfig controls the embedding pipeline worker pool.
type IndexConfig struct {
	Workers   int    `koanf:"workers"`
	QueueSize int    `koanf:"queue_size"`
	UploadDir string `koanf:"upload_dir"`
}

// RateLimitConfig holds per-endpoint-class limits as "<n>/<unit>" strings,
// e.g. "10/min", "5/hour".
type RateLimitConfig struct {
	Register string `koanf:"register"`
	Login    string `koanf:"login"`
	Chat     string `koanf:"chat"`
	Index    string `koanf:"index"`
	Default  string `koanf:"default"`
}

// NATSConfig controls optional indexing lifecycle events. Empty URL
// disables publishing entirely.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// OTELConfig controls OpenTelemetry export.
type OTELConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// applyDefaults fills zero values after file and environment loading.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Client.MaxConnections == 0 {
		cfg.Client.MaxConnections = 32
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = Duration(30 * time.Second)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = "postgres://localhost:5432/ragd?sslmode=disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 8
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = Duration(5 * time.Second)
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "pgvector"
	}
	if cfg.Vector.URL == "" {
		cfg.Vector.URL = cfg.Database.URL
	}
	if cfg.Vector.MaxConns == 0 {
		cfg.Vector.MaxConns = 8
	}
	if cfg.Vector.IndexLists == 0 {
		cfg.Vector.IndexLists = 100
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "tei"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8080"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-base-en-v1.5"
	}
	if cfg.Embedding.Dim == 0 {
		cfg.Embedding.Dim = domain.EmbeddingDim
	}
	if cfg.Embedding.ChunkSize == 0 {
		cfg.Embedding.ChunkSize = 1000
	}
	if cfg.Embedding.ChunkOverlap == 0 {
		cfg.Embedding.ChunkOverlap = 150
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.MaxInflight == 0 {
		cfg.Embedding.MaxInflight = 2
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 512
	}

	if cfg.Primary.URL == "" {
		cfg.Primary.URL = "https://api.openai.com/v1"
	}
	if cfg.Primary.Model == "" {
		cfg.Primary.Model = "gpt-4o-mini"
	}
	if cfg.Primary.Timeout == 0 {
		cfg.Primary.Timeout = Duration(45 * time.Second)
	}
	if cfg.Primary.RPS == 0 {
		cfg.Primary.RPS = 2
	}
	if cfg.Primary.Burst == 0 {
		cfg.Primary.Burst = 4
	}
	if cfg.Primary.TokenBudget == 0 {
		cfg.Primary.TokenBudget = 6000
	}

	if cfg.Fallback.URL == "" {
		cfg.Fallback.URL = "https://api.anthropic.com"
	}
	if cfg.Fallback.Model == "" {
		cfg.Fallback.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.Fallback.Timeout == 0 {
		cfg.Fallback.Timeout = Duration(55 * time.Second)
	}
	if cfg.Fallback.RPS == 0 {
		cfg.Fallback.RPS = 1
	}
	if cfg.Fallback.Burst == 0 {
		cfg.Fallback.Burst = 2
	}

	if cfg.Guardian.Timeout == 0 {
		cfg.Guardian.Timeout = Duration(5 * time.Second)
	}
	if cfg.Guardian.CallsPerMinute == 0 {
		cfg.Guardian.CallsPerMinute = 10
	}
	if cfg.Guardian.CacheTTL == 0 {
		cfg.Guardian.CacheTTL = Duration(5 * time.Minute)
	}
	if cfg.Guardian.CacheSize == 0 {
		cfg.Guardian.CacheSize = 256
	}

	if cfg.Web.AllowedDomains == "" {
		cfg.Web.AllowedDomains = "go.dev,pkg.go.dev,github.com,developer.mozilla.org,datatracker.ietf.org,docs.python.org,stackoverflow.com"
	}
	if cfg.Web.CacheTTL == 0 {
		cfg.Web.CacheTTL = Duration(time.Hour)
	}
	if cfg.Web.CacheSize == 0 {
		cfg.Web.CacheSize = 256
	}
	if cfg.Web.Timeout == 0 {
		cfg.Web.Timeout = Duration(8 * time.Second)
	}
	if cfg.Web.RPS == 0 {
		cfg.Web.RPS = 1
	}

	if cfg.JWT.ExpireMinutes == 0 {
		cfg.JWT.ExpireMinutes = 60
	}

	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 10
	}
	if cfg.RAG.CtxChars == 0 {
		cfg.RAG.CtxChars = 12000
	}

	if cfg.Chat.HistoryMessages == 0 {
		cfg.Chat.HistoryMessages = 5
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = 8192
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = 0.7
	}
	if cfg.Chat.TurnTimeout == 0 {
		cfg.Chat.TurnTimeout = Duration(60 * time.Second)
	}

	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 2
	}
	if cfg.Index.QueueSize == 0 {
		cfg.Index.QueueSize = 32
	}
	if cfg.Index.UploadDir == "" {
		cfg.Index.UploadDir = "/var/lib/ragd/uploads"
	}

	if cfg.RateLimit.Register == "" {
		cfg.RateLimit.Register = "5/hour"
	}
	if cfg.RateLimit.Login == "" {
		cfg.RateLimit.Login = "10/min"
	}
	if cfg.RateLimit.Chat == "" {
		cfg.RateLimit.Chat = "10/min"
	}
	if cfg.RateLimit.Index == "" {
		cfg.RateLimit.Index = "5/min"
	}
	if cfg.RateLimit.Default == "" {
		cfg.RateLimit.Default = "60/min"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "ragd.index"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.OTEL.Endpoint == "" {
		cfg.OTEL.Endpoint = "localhost:4317"
	}
	if cfg.OTEL.Protocol == "" {
		cfg.OTEL.Protocol = "grpc"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "ragd"
	}
	if cfg.OTEL.ServiceVersion == "" {
		cfg.OTEL.ServiceVersion = "0.1.0"
	}
	if cfg.OTEL.SampleRate == 0 {
		cfg.OTEL.SampleRate = 1.0
	}
	if cfg.OTEL.ExportInterval == 0 {
		cfg.OTEL.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	switch c.Vector.Backend {
	case "pgvector", "memory":
	default:
		return fmt.Errorf("unsupported vector backend: %s (supported: pgvector, memory)", c.Vector.Backend)
	}

	// The vector column and every provider are sized for one dimension.
	if c.Embedding.Dim != domain.EmbeddingDim {
		return fmt.Errorf("embedding dim must equal %d, got %d", domain.EmbeddingDim, c.Embedding.Dim)
	}
	switch c.Embedding.Provider {
	case "tei", "openai", "local":
	default:
		return fmt.Errorf("unsupported embedding provider: %s (supported: tei, openai, local)", c.Embedding.Provider)
	}
	if c.Embedding.ChunkSize <= 0 {
		return fmt.Errorf("embedding chunk_size must be positive, got %d", c.Embedding.ChunkSize)
	}
	if c.Embedding.ChunkOverlap <= 0 || c.Embedding.ChunkOverlap >= c.Embedding.ChunkSize {
		return fmt.Errorf("embedding chunk_overlap must satisfy 0 < overlap < chunk_size, got %d", c.Embedding.ChunkOverlap)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	if !c.JWT.Secret.IsSet() {
		return fmt.Errorf("jwt secret is required")
	}
	if len(c.JWT.Secret.Value()) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(c.JWT.Secret.Value()))
	}
	if c.JWT.ExpireMinutes <= 0 {
		return fmt.Errorf("jwt expire_minutes must be positive, got %d", c.JWT.ExpireMinutes)
	}

	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.CtxChars <= 0 {
		return fmt.Errorf("rag ctx_chars must be positive, got %d", c.RAG.CtxChars)
	}
	if c.Chat.HistoryMessages <= 0 {
		return fmt.Errorf("chat history_messages must be positive, got %d", c.Chat.HistoryMessages)
	}
	if c.Index.Workers <= 0 {
		return fmt.Errorf("index workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.QueueSize <= 0 {
		return fmt.Errorf("index queue_size must be positive, got %d", c.Index.QueueSize)
	}

	for name, spec := range map[string]string{
		"register": c.RateLimit.Register,
		"login":    c.RateLimit.Login,
		"chat":     c.RateLimit.Chat,
		"index":    c.RateLimit.Index,
		"default":  c.RateLimit.Default,
	} {
		if _, _, err := ParseRate(spec); err != nil {
			return fmt.Errorf("ratelimit %s: %w", name, err)
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}

	if c.OTEL.Enabled {
		if c.OTEL.Endpoint == "" {
			return fmt.Errorf("otel endpoint is required when telemetry is enabled")
		}
		if c.OTEL.Protocol != "grpc" && c.OTEL.Protocol != "http/protobuf" {
			return fmt.Errorf("otel protocol must be 'grpc' or 'http/protobuf', got %q", c.OTEL.Protocol)
		}
		if c.OTEL.SampleRate < 0 || c.OTEL.SampleRate > 1 {
			return fmt.Errorf("otel sample_rate must be between 0 and 1, got %f", c.OTEL.SampleRate)
		}
	}

	return nil
}

// ParseRate parses a "<n>/<unit>" limit spec into events per window.
// Supported units: sec, min, hour (singular and plural accepted).
func ParseRate(spec string) (int, time.Duration, error) {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate %q (want <n>/<unit>)", spec)
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &n); err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid rate count in %q", spec)
	}
	switch strings.TrimSpace(strings.ToLower(parts[1])) {
	case "s", "sec", "second", "seconds":
		return n, time.Second, nil
	case "m", "min", "minute", "minutes":
		return n, time.Minute, nil
	case "h", "hour", "hours":
		return n, time.Hour, nil
	default:
		return 0, 0, fmt.Errorf("invalid rate unit in %q (want sec, min, or hour)", spec)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
