package config

import (
	"fmt"
	"log/slog"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/chunker"
	"github.com/bull/vector-rag/internal/embedding"
	"github.com/bull/vector-rag/internal/indexer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/storage"
)

// OpenStore connects the configured backend behind a retrying client.
func (c *Config) OpenStore(logger *slog.Logger) (*storage.Client, error) {
	var backend storage.Backend
	switch c.Store.Backend {
	case BackendQdrant:
		q, err := storage.NewQdrantStorage(storage.QdrantConfig{
			Host:   c.Store.Qdrant.Host,
			Port:   c.Store.Qdrant.Port,
			APIKey: c.Store.Qdrant.APIKey,
			UseTLS: c.Store.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", c.Store.Qdrant.Host, c.Store.Qdrant.Port, err)
		}
		backend = q
	case BackendSQLite:
		s, err := storage.NewSQLiteStorage(c.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite store %s: %w", c.Store.SQLite.Path, err)
		}
		backend = s
	case BackendMemory:
		backend = storage.NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return storage.NewClient(backend, c.RetryPolicy(), logger), nil
}

// IndexSpec describes the configured index.
func (c *Config) IndexSpec() (storage.IndexSpec, error) {
	metric, err := storage.ParseDistanceMetric(c.Store.Metric)
	if err != nil {
		return storage.IndexSpec{}, err
	}
	return storage.IndexSpec{
		Bucket:    c.Store.Bucket,
		Name:      c.Store.Index,
		Dimension: c.Embedding.Dimension,
		Metric:    metric,
	}, nil
}

// OpenAIClient returns a client for the configured API, or nil when no key
// is set.
func (c *Config) OpenAIClient() (*embedding.Client, error) {
	if c.Embedding.OpenAI.APIKey == "" {
		return nil, nil
	}
	return embedding.NewClient(c.Embedding.OpenAI.APIKey, c.Embedding.OpenAI.BaseURL)
}

// ModelCache builds one encoder slot per worker for the configured provider.
func (c *Config) ModelCache(workers int, logger *slog.Logger) (*embedding.ModelCache, error) {
	if workers <= 0 {
		workers = c.Embedding.Workers
	}
	switch c.Embedding.Provider {
	case ProviderLocal:
		return embedding.NewModelCache(embedding.LocalFactory(c.Embedding.ModelDir, logger), workers, logger), nil
	case ProviderOpenAI:
		client, err := c.OpenAIClient()
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		enc := embedding.NewOpenAIEncoder(client, c.Embedding.OpenAI.Model, c.Embedding.Dimension, c.Embedding.BatchSize)
		return embedding.NewModelCache(embedding.OpenAIFactory(enc), workers, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
}

// Coordinator builds the ingestion coordinator for the configured index.
func (c *Config) Coordinator(store *storage.Client, workers int, logger *slog.Logger) (*indexer.Coordinator, error) {
	models, err := c.ModelCache(workers, logger)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(c.Chunking.Size, c.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	return indexer.New(store, models, ch, indexer.Config{
		Bucket:         c.Store.Bucket,
		Index:          c.Store.Index,
		Dimension:      c.Embedding.Dimension,
		BatchSize:      c.Ingest.BatchSize,
		EmbedBatchSize: c.Embedding.BatchSize,
	}, logger)
}

// QueryEngine loads a single encoder and builds the query engine.
func (c *Config) QueryEngine(store *storage.Client, logger *slog.Logger) (*query.Engine, error) {
	models, err := c.ModelCache(1, logger)
	if err != nil {
		return nil, err
	}
	enc, err := models.Get(0)
	if err != nil {
		return nil, err
	}
	return query.NewEngine(store, enc, query.Config{
		Bucket:    c.Store.Bucket,
		Index:     c.Store.Index,
		Dimension: c.Embedding.Dimension,
	}, logger), nil
}

// Answerer uses the chat completions API when a key is configured and the
// deterministic template otherwise.
func (c *Config) Answerer(logger *slog.Logger) (answer.Answerer, error) {
	client, err := c.OpenAIClient()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return answer.Template{}, nil
	}
	return answer.NewGenerator(client.Client(), c.Answer.Model, c.Answer.MaxTokens, logger), nil
}
