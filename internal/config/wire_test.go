package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/embedding/modeltest"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/source"
)

func TestWiring_IngestThenQuery(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Store.Backend = BackendMemory
	cfg.Embedding.ModelDir = modeltest.Write(t, modeltest.Options{Dimension: 8})
	cfg.Embedding.Dimension = 8
	cfg.Embedding.Workers = 2
	require.NoError(t, cfg.Validate())

	store, err := cfg.OpenStore(nil)
	require.NoError(t, err)
	defer store.Close()

	spec, err := cfg.IndexSpec()
	require.NoError(t, err)
	_, err = store.EnsureIndex(ctx, spec)
	require.NoError(t, err)

	engine, err := cfg.QueryEngine(store, nil)
	require.NoError(t, err)
	_, err = engine.Search(ctx, "the fox", query.Options{TopK: 3})
	assert.ErrorIs(t, err, rag.ErrEmptyIndex)

	coord, err := cfg.Coordinator(store, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, coord.Workers())

	fox := "The quick brown fox jumps over the lazy dog."
	docs := []rag.Document{
		source.NewDocument("fox.txt", "/corpus/fox.txt", []byte(fox)),
		source.NewDocument("store.txt", "/corpus/store.txt", []byte("Vector store search index.")),
	}
	report, err := coord.Ingest(ctx, docs)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, 2, report.TotalVectorsUploaded)

	rc, err := engine.Search(ctx, fox, query.Options{TopK: 3})
	require.NoError(t, err)
	require.Len(t, rc.Snippets, 2)
	assert.Equal(t, "fox.txt", rc.Snippets[0].DocumentID)
	assert.InDelta(t, 1.0, *rc.Snippets[0].Score, 1e-4)

	ans, err := cfg.Answerer(nil)
	require.NoError(t, err)
	assert.IsType(t, answer.Template{}, ans, "no API key selects the template answerer")
}

func TestModelCache_OpenAIRequiresKey(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Provider = ProviderOpenAI
	_, err := cfg.ModelCache(1, nil)
	assert.Error(t, err)

	cfg.Embedding.OpenAI.APIKey = "sk-test"
	models, err := cfg.ModelCache(3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, models.Slots())
}
