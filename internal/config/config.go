// Package config loads settings from defaults, a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bull/vector-rag/internal/chunker"
	"github.com/bull/vector-rag/internal/embedding"
	"github.com/bull/vector-rag/internal/indexer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "rag.yaml"

const redacted = "***REDACTED***"

// Store backends.
const (
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Embedding providers.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
)

// Config is the root application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Query     QueryConfig     `yaml:"query"`
	Answer    AnswerConfig    `yaml:"answer"`
	GitHub    GitHubConfig    `yaml:"github"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects the vector store and target index.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	Bucket  string       `yaml:"bucket"`
	Index   string       `yaml:"index"`
	Metric  string       `yaml:"metric"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Retry   RetryConfig  `yaml:"retry"`
}

// QdrantConfig contains connection details for a Qdrant server.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig bounds retries of transient store errors.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// EmbeddingConfig selects and configures the text encoder.
type EmbeddingConfig struct {
	Provider  string       `yaml:"provider"`
	ModelDir  string       `yaml:"model_dir"`
	ModelRepo string       `yaml:"model_repo"`
	Dimension int          `yaml:"dimension"`
	Workers   int          `yaml:"workers"`
	BatchSize int          `yaml:"batch_size"`
	OpenAI    OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible API.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// ChunkingConfig configures how documents are split into chunks.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IngestConfig controls upload batching and file selection.
type IngestConfig struct {
	BatchSize  int      `yaml:"batch_size"`
	Extensions []string `yaml:"extensions"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	TopK int `yaml:"top_k"`
}

// AnswerConfig configures answer generation.
type AnswerConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// GitHubConfig holds the token for GitHub document sources.
type GitHubConfig struct {
	Token string `yaml:"token,omitempty"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	retry := storage.DefaultRetryPolicy()
	return &Config{
		Store: StoreConfig{
			Backend: BackendQdrant,
			Bucket:  "rag-vectors-default",
			Index:   "documents-default",
			Metric:  string(storage.DistanceCosine),
			Qdrant:  QdrantConfig{Host: "localhost", Port: 6334},
			SQLite:  SQLiteConfig{Path: "rag.db"},
			Retry: RetryConfig{
				MaxRetries:      retry.MaxRetries,
				InitialInterval: retry.InitialInterval,
				MaxInterval:     retry.MaxInterval,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderLocal,
			ModelDir:  filepath.Join("models", "all-MiniLM-L6-v2"),
			ModelRepo: embedding.DefaultModelRepo,
			Dimension: 384,
			Workers:   runtime.NumCPU(),
			BatchSize: indexer.DefaultEmbedBatchSize,
			OpenAI:    OpenAIConfig{Model: embedding.DefaultOpenAIModel},
		},
		Chunking: ChunkingConfig{Size: chunker.DefaultChunkSize, Overlap: chunker.DefaultOverlap},
		Ingest:   IngestConfig{BatchSize: storage.MaxBatchSize},
		Query:    QueryConfig{TopK: query.DefaultTopK},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file, then the
// environment (after loading .env if present). An explicit path must exist;
// otherwise RAG_CONFIG and then ./rag.yaml are tried. The returned path is
// the file that was read, or "".
func Load(path string) (*Config, string, error) {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	cfg := Default()

	required := path != ""
	if path == "" {
		path = os.Getenv("RAG_CONFIG")
		required = path != ""
	}
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("%w: parse %s: %w", rag.ErrConfiguration, path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
		path = ""
	default:
		return nil, "", fmt.Errorf("%w: read config: %w", rag.ErrConfiguration, err)
	}

	cfg.applyEnv()
	if cfg.Embedding.Workers <= 0 {
		cfg.Embedding.Workers = runtime.NumCPU()
	}
	return cfg, path, nil
}

// applyEnv overrides settings from environment variables.
func (c *Config) applyEnv() {
	c.Store.Backend = getEnv("RAG_STORE_BACKEND", c.Store.Backend)
	c.Store.Bucket = getEnv("RAG_BUCKET", c.Store.Bucket)
	c.Store.Index = getEnv("RAG_INDEX", c.Store.Index)
	c.Store.Metric = getEnv("RAG_METRIC", c.Store.Metric)
	c.Store.Qdrant.Host = getEnv("QDRANT_HOST", c.Store.Qdrant.Host)
	c.Store.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Store.Qdrant.Port)
	c.Store.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Store.Qdrant.APIKey)
	c.Store.Qdrant.UseTLS = getEnv("QDRANT_USE_TLS", fmt.Sprint(c.Store.Qdrant.UseTLS)) == "true"
	c.Store.SQLite.Path = getEnv("RAG_SQLITE_PATH", c.Store.SQLite.Path)

	c.Embedding.Provider = getEnv("RAG_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.ModelDir = getEnv("RAG_MODEL_DIR", c.Embedding.ModelDir)
	c.Embedding.Dimension = getEnvInt("RAG_DIMENSION", c.Embedding.Dimension)
	c.Embedding.Workers = getEnvInt("RAG_WORKERS", c.Embedding.Workers)
	c.Embedding.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.Embedding.OpenAI.APIKey)
	c.Embedding.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.Embedding.OpenAI.BaseURL)

	c.Chunking.Size = getEnvInt("RAG_CHUNK_SIZE", c.Chunking.Size)
	c.Chunking.Overlap = getEnvInt("RAG_CHUNK_OVERLAP", c.Chunking.Overlap)
	c.Ingest.BatchSize = getEnvInt("RAG_BATCH_SIZE", c.Ingest.BatchSize)
	c.Query.TopK = getEnvInt("RAG_TOP_K", c.Query.TopK)
	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)
	c.Log.Level = getEnv("RAG_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("RAG_LOG_FORMAT", c.Log.Format)
}

// Validate checks settings that would otherwise fail deep inside a run.
// Every problem is reported, joined into one rag.ErrConfiguration error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store.Backend {
	case BackendQdrant:
		if c.Store.Qdrant.Host == "" || c.Store.Qdrant.Port <= 0 {
			add("store.qdrant: host and port are required")
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			add("store.sqlite.path is required")
		}
	case BackendMemory:
	default:
		add("store.backend %q must be one of qdrant, sqlite, memory", c.Store.Backend)
	}
	if err := storage.ValidateBucketName(c.Store.Bucket); err != nil {
		errs = append(errs, err)
	}
	if err := storage.ValidateIndexName(c.Store.Index); err != nil {
		errs = append(errs, err)
	}
	if _, err := storage.ParseDistanceMetric(c.Store.Metric); err != nil {
		errs = append(errs, err)
	}

	switch c.Embedding.Provider {
	case ProviderLocal:
		if c.Embedding.ModelDir == "" {
			add("embedding.model_dir is required for the local provider")
		}
	case ProviderOpenAI:
		if c.Embedding.OpenAI.APIKey == "" {
			add("OPENAI_API_KEY is required for the openai provider")
		}
	default:
		add("embedding.provider %q must be local or openai", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 1 || c.Embedding.Dimension > storage.MaxDimension {
		add("embedding.dimension %d must be between 1 and %d", c.Embedding.Dimension, storage.MaxDimension)
	}

	if _, err := chunker.New(c.Chunking.Size, c.Chunking.Overlap); err != nil {
		errs = append(errs, err)
	}
	if c.Query.TopK < 1 {
		add("query.top_k must be at least 1")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", rag.ErrConfiguration, errors.Join(errs...))
}

// RetryPolicy converts the retry settings for the store client.
func (c *Config) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{
		InitialInterval: c.Store.Retry.InitialInterval,
		MaxInterval:     c.Store.Retry.MaxInterval,
		MaxRetries:      c.Store.Retry.MaxRetries,
	}
}

// Save writes the config to path, creating directories as needed. Secrets
// are not written.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	clean := *cfg
	clean.Store.Qdrant.APIKey = ""
	clean.Embedding.OpenAI.APIKey = ""
	clean.GitHub.Token = ""
	data, err := yaml.Marshal(&clean)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// String renders the configuration as YAML with secrets redacted.
func (c *Config) String() string {
	shown := *c
	redact(&shown.Store.Qdrant.APIKey)
	redact(&shown.Embedding.OpenAI.APIKey)
	redact(&shown.GitHub.Token)
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
