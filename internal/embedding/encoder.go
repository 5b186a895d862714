// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bull/vector-rag/internal/rag"
)

// Encoder embeds texts. Output order matches input order and every vector
// has length Dimension().
type Encoder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// TruncationCounter is implemented by encoders that silently shorten
// inputs longer than their sequence limit.
type TruncationCounter interface {
	Truncations() int64
}

// Factory loads a fresh Encoder.
type Factory func() (Encoder, error)

// ModelCache holds one lazily loaded Encoder per worker slot. A slot loads
// at most once; a failed load is remembered so the slot is never retried.
type ModelCache struct {
	factory Factory
	slots   []*modelSlot
	loads   atomic.Int64
	logger  *slog.Logger
}

type modelSlot struct {
	once    sync.Once
	done    atomic.Bool
	encoder Encoder
	err     error
}

// NewModelCache creates a cache with n slots. A nil logger uses slog.Default().
func NewModelCache(factory Factory, n int, logger *slog.Logger) *ModelCache {
	if logger == nil {
		logger = slog.Default()
	}
	slots := make([]*modelSlot, max(n, 1))
	for i := range slots {
		slots[i] = &modelSlot{}
	}
	return &ModelCache{factory: factory, slots: slots, logger: logger}
}

// Slots returns the number of worker slots.
func (c *ModelCache) Slots() int { return len(c.slots) }

// Loads returns how many times the factory has been invoked.
func (c *ModelCache) Loads() int64 { return c.loads.Load() }

// Get returns the Encoder for slot i, loading it on first use. Each slot
// must be used by one goroutine at a time.
func (c *ModelCache) Get(i int) (Encoder, error) {
	if i < 0 || i >= len(c.slots) {
		return nil, fmt.Errorf("%w: model slot %d out of range [0, %d)", rag.ErrConfiguration, i, len(c.slots))
	}
	s := c.slots[i]
	s.once.Do(func() {
		defer s.done.Store(true)
		start := time.Now()
		c.loads.Add(1)
		s.encoder, s.err = c.factory()
		if s.err != nil {
			if !errors.Is(s.err, rag.ErrModelLoad) {
				s.err = fmt.Errorf("%w: %w", rag.ErrModelLoad, s.err)
			}
			c.logger.Error("Failed to load embedding model", "slot", i, "error", s.err)
			return
		}
		c.logger.Debug("Loaded embedding model", "slot", i,
			"model", s.encoder.Name(), "dimension", s.encoder.Dimension(), "duration", time.Since(start))
	})
	return s.encoder, s.err
}

// Truncations sums the truncation counts of the loaded encoders that keep
// one. Slots that have not loaded, or failed to load, contribute nothing.
// Slots that share one encoder are counted once.
func (c *ModelCache) Truncations() int64 {
	var total int64
	seen := make(map[TruncationCounter]bool, len(c.slots))
	for _, s := range c.slots {
		if !c.loaded(s) {
			continue
		}
		tc, ok := s.encoder.(TruncationCounter)
		if !ok || seen[tc] {
			continue
		}
		seen[tc] = true
		total += tc.Truncations()
	}
	return total
}

func (c *ModelCache) loaded(s *modelSlot) bool {
	return s.done.Load() && s.err == nil
}
