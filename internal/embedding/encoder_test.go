package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/rag"
)

type stubEncoder struct{ dim int }

func (s stubEncoder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s stubEncoder) Dimension() int { return s.dim }
func (s stubEncoder) Name() string   { return "stub" }

func TestModelCache_LoadsEachSlotOnce(t *testing.T) {
	cache := NewModelCache(func() (Encoder, error) { return stubEncoder{dim: 4}, nil }, 3, nil)

	var wg sync.WaitGroup
	for slot := range cache.Slots() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				enc, err := cache.Get(slot)
				assert.NoError(t, err)
				assert.Equal(t, 4, enc.Dimension())
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 3, cache.Loads())
}

func TestModelCache_UnusedSlotsNeverLoad(t *testing.T) {
	cache := NewModelCache(func() (Encoder, error) { return stubEncoder{dim: 4}, nil }, 8, nil)

	_, err := cache.Get(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cache.Loads())
}

func TestModelCache_FailureIsSticky(t *testing.T) {
	cache := NewModelCache(func() (Encoder, error) { return nil, errors.New("weights missing") }, 1, nil)

	_, err := cache.Get(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrModelLoad)

	_, err = cache.Get(0)
	assert.ErrorIs(t, err, rag.ErrModelLoad)
	assert.EqualValues(t, 1, cache.Loads())
}

func TestModelCache_SlotOutOfRange(t *testing.T) {
	cache := NewModelCache(func() (Encoder, error) { return stubEncoder{dim: 4}, nil }, 2, nil)

	_, err := cache.Get(2)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
	_, err = cache.Get(-1)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

type truncatingEncoder struct {
	stubEncoder
	count int64
}

func (e *truncatingEncoder) Truncations() int64 { return e.count }

func TestModelCache_Truncations(t *testing.T) {
	shared := &truncatingEncoder{stubEncoder: stubEncoder{dim: 4}, count: 3}
	cache := NewModelCache(func() (Encoder, error) { return shared, nil }, 3, nil)
	assert.Zero(t, cache.Truncations(), "nothing loaded yet")

	_, err := cache.Get(0)
	require.NoError(t, err)
	_, err = cache.Get(2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cache.Truncations(), "a shared encoder counts once")

	var n int64
	perSlot := NewModelCache(func() (Encoder, error) {
		n++
		return &truncatingEncoder{stubEncoder: stubEncoder{dim: 4}, count: n}, nil
	}, 2, nil)
	_, err = perSlot.Get(0)
	require.NoError(t, err)
	_, err = perSlot.Get(1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, perSlot.Truncations())

	plain := NewModelCache(func() (Encoder, error) { return stubEncoder{dim: 4}, nil }, 1, nil)
	_, err = plain.Get(0)
	require.NoError(t, err)
	assert.Zero(t, plain.Truncations())
}
