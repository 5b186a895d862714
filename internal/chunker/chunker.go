// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"fmt"

	"github.com/bull/vector-rag/internal/rag"
)

const (
	// DefaultChunkSize is the window length in code points.
	DefaultChunkSize = 1000

	// DefaultOverlap is how many code points consecutive windows share.
	DefaultOverlap = 100
)

// Chunker produces fixed-size windows that advance by size-overlap.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters and returns a Chunker.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", rag.ErrConfiguration, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", rag.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			rag.ErrConfiguration, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits doc into windows. Offsets and lengths count code points, so a
// multi-byte character is never split.
func (c *Chunker) Chunk(doc rag.Document) []rag.Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]rag.Chunk, 0, Count(n, c.size, c.overlap))
	for start := 0; ; start += step {
		end := min(start+c.size, n)
		chunks = append(chunks, rag.Chunk{
			DocumentID: doc.ID,
			Index:      len(chunks),
			Text:       string(runes[start:end]),
			CharOffset: start,
		})
		// The next window would only repeat the tail this one already covers.
		if start+step+c.overlap >= n {
			break
		}
	}
	return chunks
}

// Count returns how many chunks a text of length code points produces.
func Count(length, size, overlap int) int {
	if length <= 0 {
		return 0
	}
	if length <= overlap {
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}

// Chunk splits doc with the given parameters.
func Chunk(doc rag.Document, size, overlap int) ([]rag.Chunk, error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(doc), nil
}
