package query

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

// axisEncoder maps a text to the unit vector of the axis named by its first
// character, so the closest stored record is predictable.
type axisEncoder struct{ dim int }

func (e axisEncoder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dim)
		v[int(text[0]-'a')%e.dim] = 1
		out[i] = v
	}
	return out, nil
}

func (e axisEncoder) Dimension() int { return e.dim }
func (e axisEncoder) Name() string   { return "axis" }

func newStore(t *testing.T, records int) *storage.Client {
	t.Helper()
	store := storage.NewClient(storage.NewMemoryStorage(), storage.DefaultRetryPolicy(), nil)
	_, err := store.EnsureIndex(context.Background(), storage.IndexSpec{
		Bucket: "test-bucket", Name: "test-index", Dimension: 4, Metric: storage.DistanceCosine,
	})
	require.NoError(t, err)

	var batch []storage.VectorRecord
	for i := range records {
		vec := []float32{0.1, 0.1, 0.1, 0.1}
		vec[i%4] = float32(i + 1)
		batch = append(batch, storage.VectorRecord{
			Key:  rag.ChunkKey("doc.md", i),
			Data: vec,
			Metadata: map[string]any{
				rag.MetaText:       fmt.Sprintf("chunk text %d", i),
				rag.MetaDocumentID: "doc.md",
				rag.MetaChunkIndex: i,
				rag.MetaSourcePath: "/corpus/doc.md",
			},
		})
	}
	if len(batch) > 0 {
		require.NoError(t, store.PutVectors(context.Background(), "test-bucket", "test-index", batch))
	}
	return store
}

func newEngine(store *storage.Client, dim int) *Engine {
	return NewEngine(store, axisEncoder{dim: dim}, Config{Bucket: "test-bucket", Index: "test-index", Dimension: 4}, nil)
}

func TestSearch_TopFiveBestFirst(t *testing.T) {
	engine := newEngine(newStore(t, 12), 4)

	rc, err := engine.Search(context.Background(), "a question", Options{TopK: 5})
	require.NoError(t, err)

	require.NotEmpty(t, rc.Snippets)
	assert.LessOrEqual(t, len(rc.Snippets), 5)
	for i := 1; i < len(rc.Snippets); i++ {
		assert.LessOrEqual(t, *rc.Snippets[i-1].Distance, *rc.Snippets[i].Distance)
		assert.Equal(t, i+1, rc.Snippets[i].Rank)
	}

	best := rc.Snippets[0]
	assert.Equal(t, "doc.md", best.DocumentID)
	assert.Equal(t, 0, best.ChunkIndex%4, "axis 0 records should rank first")
	assert.True(t, strings.HasPrefix(best.Text, "chunk text"))
	require.NotNil(t, best.Score)
	assert.InDelta(t, 1-*best.Distance, *best.Score, 1e-6)
}

func TestSearch_WithoutMetadata(t *testing.T) {
	engine := newEngine(newStore(t, 4), 4)

	rc, err := engine.Search(context.Background(), "b question", Options{TopK: 2, OmitMetadata: true, OmitDistance: true})
	require.NoError(t, err)

	require.Len(t, rc.Snippets, 2)
	for _, s := range rc.Snippets {
		assert.NotEmpty(t, s.Key)
		assert.Empty(t, s.Text)
		assert.Nil(t, s.Metadata)
		assert.Nil(t, s.Distance)
	}
	assert.Contains(t, rc.Assemble(), rc.Snippets[0].Key)
}

func TestSearch_Filter(t *testing.T) {
	engine := newEngine(newStore(t, 8), 4)

	rc, err := engine.Search(context.Background(), "c", Options{
		TopK:   5,
		Filter: storage.Filter{rag.MetaChunkIndex: 3},
	})
	require.NoError(t, err)
	require.Len(t, rc.Snippets, 1)
	assert.Equal(t, "doc.md-chunk-3", rc.Snippets[0].Key)
}

func TestSearch_EmptyIndex(t *testing.T) {
	engine := newEngine(newStore(t, 0), 4)

	_, err := engine.Search(context.Background(), "anything", Options{TopK: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrEmptyIndex)
	assert.True(t, IsEmptyIndex(err))
}

func TestSearch_NoMatchesIsNotAnError(t *testing.T) {
	engine := newEngine(newStore(t, 4), 4)

	rc, err := engine.Search(context.Background(), "a", Options{TopK: 3, Filter: storage.Filter{rag.MetaDocumentID: "other.md"}})
	require.NoError(t, err)
	assert.True(t, rc.Empty())
	assert.Empty(t, rc.Assemble())
}

func TestSearch_InvalidInput(t *testing.T) {
	engine := newEngine(newStore(t, 4), 4)

	tests := []struct {
		name string
		text string
		topK int
	}{
		{"empty text", "  ", 5},
		{"zero top k", "a", 0},
		{"negative top k", "a", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tt.text, Options{TopK: tt.topK})
			assert.ErrorIs(t, err, rag.ErrConfiguration)
		})
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	engine := newEngine(newStore(t, 4), 8)

	_, err := engine.Search(context.Background(), "a", Options{TopK: 1})
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestRetrievalContext_Assemble(t *testing.T) {
	rc := &RetrievalContext{Snippets: []Snippet{
		{Rank: 1, Key: "a.md-chunk-0", SourcePath: "/docs/a.md", Text: "Alpha."},
		{Rank: 2, Key: "b.txt-chunk-3", DocumentID: "b.txt", Text: "Beta."},
	}}

	want := "[Document 1] (/docs/a.md)\nAlpha.\n\n[Document 2] (b.txt)\nBeta.\n"
	assert.Equal(t, want, rc.Assemble())
}
