package embedding

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/embedding/modeltest"
	"github.com/bull/vector-rag/internal/rag"
)

func TestLoadLocalModel(t *testing.T) {
	dir := modeltest.Write(t, modeltest.Options{Dimension: 12, MaxSeqLength: 16})

	model, err := LoadLocalModel(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, 12, model.Dimension())
	assert.Equal(t, 16, model.MaxSequenceLength())
	assert.Equal(t, "tiny-encoder", model.Name())
}

func TestLocalModel_EmbedIsDeterministic(t *testing.T) {
	dir := modeltest.Write(t, modeltest.Options{Dimension: 8})
	first, err := LoadLocalModel(dir, nil)
	require.NoError(t, err)
	second, err := LoadLocalModel(dir, nil)
	require.NoError(t, err)

	texts := []string{"the quick brown fox", "lazy dog", ""}
	a, err := first.Embed(context.Background(), texts)
	require.NoError(t, err)
	b, err := second.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, a, len(texts))
	assert.Equal(t, a, b)
	for _, vec := range a {
		assert.Len(t, vec, 8)
		for _, v := range vec {
			assert.False(t, math.IsNaN(float64(v)))
		}
	}
	assert.NotEqual(t, a[0], a[1])
}

func TestLocalModel_ConcurrentEmbed(t *testing.T) {
	model, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{}), nil)
	require.NoError(t, err)

	want, err := model.Embed(context.Background(), []string{"vector store search"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := model.Embed(context.Background(), []string{"vector store search"})
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestLocalModel_CountsTruncations(t *testing.T) {
	model, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{MaxSeqLength: 6}), nil)
	require.NoError(t, err)

	_, err = model.Embed(context.Background(), []string{
		"fox",
		strings.Repeat("fox ", 50),
		strings.Repeat("dog ", 50),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, model.Truncations())
}

func TestLocalModel_ClsPooling(t *testing.T) {
	mean, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{}), nil)
	require.NoError(t, err)
	cls, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{Pooling: "cls"}), nil)
	require.NoError(t, err)

	a, err := cls.Embed(context.Background(), []string{"the fox"})
	require.NoError(t, err)
	b, err := cls.Embed(context.Background(), []string{"lazy dog"})
	require.NoError(t, err)
	// [CLS] is the same input token for every text; only attention over the
	// rest of the sequence can tell the two apart.
	assert.NotEqual(t, a, b)

	c, err := mean.Embed(context.Background(), []string{"the fox"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLocalModel_RunsEveryLayer(t *testing.T) {
	shallow, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{Layers: 1}), nil)
	require.NoError(t, err)
	deep, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{Layers: 3}), nil)
	require.NoError(t, err)

	a, err := shallow.Embed(context.Background(), []string{"vector search"})
	require.NoError(t, err)
	b, err := deep.Embed(context.Background(), []string{"vector search"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLocalModel_WordOrderMatters(t *testing.T) {
	model, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{}), nil)
	require.NoError(t, err)

	vecs, err := model.Embed(context.Background(), []string{"fox jumps over dog", "dog jumps over fox"})
	require.NoError(t, err)
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestLoadLocalModel_MissingLayerWeights(t *testing.T) {
	dir := modeltest.Write(t, modeltest.Options{Layers: 2})
	cfgPath := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, []byte(strings.Replace(string(data), `"num_hidden_layers":2`, `"num_hidden_layers":3`, 1)), 0o644))

	_, err = LoadLocalModel(dir, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrModelLoad)
	assert.Contains(t, err.Error(), "encoder.layer.2")
}

func TestLoadLocalModel_RejectsBadArchitecture(t *testing.T) {
	tests := map[string]string{
		"no layers":          `{"hidden_size":8,"num_attention_heads":2}`,
		"uneven heads":       `{"hidden_size":8,"num_hidden_layers":2,"num_attention_heads":3}`,
		"unknown activation": `{"hidden_size":8,"num_hidden_layers":2,"num_attention_heads":2,"hidden_act":"swish"}`,
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			dir := modeltest.Write(t, modeltest.Options{})
			require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(cfg), 0o644))

			_, err := LoadLocalModel(dir, nil)
			assert.ErrorIs(t, err, rag.ErrModelLoad)
		})
	}
}

func TestLoadLocalModel_MissingFiles(t *testing.T) {
	for _, file := range []string{ConfigFile, VocabFile, WeightsFile} {
		t.Run(file, func(t *testing.T) {
			dir := modeltest.Write(t, modeltest.Options{})
			require.NoError(t, os.Remove(filepath.Join(dir, file)))

			_, err := LoadLocalModel(dir, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, rag.ErrModelLoad)
		})
	}
}

func TestLoadLocalModel_CorruptWeights(t *testing.T) {
	dir := modeltest.Write(t, modeltest.Options{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, WeightsFile), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}, 0o644))

	_, err := LoadLocalModel(dir, nil)
	assert.ErrorIs(t, err, rag.ErrModelLoad)
}

func TestLocalModel_EmbedHonorsCancellation(t *testing.T) {
	model, err := LoadLocalModel(modeltest.Write(t, modeltest.Options{}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = model.Embed(ctx, []string{"fox"})
	assert.ErrorIs(t, err, context.Canceled)
}
