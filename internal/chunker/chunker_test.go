package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/rag"
)

func TestNew_RejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, rag.ErrConfiguration)
		})
	}
}

func TestChunk_EmptyText(t *testing.T) {
	c, err := New(DefaultChunkSize, DefaultOverlap)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(rag.Document{ID: "empty.txt"}))
}

func TestChunk_CountMatchesFormula(t *testing.T) {
	tests := []struct {
		length, size, overlap, want int
	}{
		{2500, 1000, 100, 3},
		{1000, 1000, 100, 1},
		{1001, 1000, 100, 2},
		{900, 1000, 100, 1},
		{100, 1000, 100, 1},
		{50, 1000, 100, 1},
		{1, 1, 0, 1},
		{10, 3, 0, 4},
		{10, 4, 2, 4},
	}

	for _, tt := range tests {
		doc := rag.Document{ID: "doc", Text: strings.Repeat("a", tt.length)}
		chunks, err := Chunk(doc, tt.size, tt.overlap)
		require.NoError(t, err)
		assert.Len(t, chunks, tt.want, "length=%d size=%d overlap=%d", tt.length, tt.size, tt.overlap)
		assert.Equal(t, tt.want, Count(tt.length, tt.size, tt.overlap))
	}
}

func TestChunk_WindowsAreSubstringsAtOffsets(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 2500; i++ {
		b.WriteByte(byte('a' + i%26))
	}
	text := b.String()

	chunks, err := Chunk(rag.Document{ID: "letters.txt", Text: text}, 1000, 100)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "letters.txt", c.DocumentID)
		assert.Equal(t, i*900, c.CharOffset)
		assert.Equal(t, text[c.CharOffset:c.CharOffset+len(c.Text)], c.Text)
	}
	assert.Len(t, chunks[0].Text, 1000)
	assert.Len(t, chunks[2].Text, 700)

	// Consecutive windows share exactly the overlap.
	assert.Equal(t, chunks[0].Text[900:], chunks[1].Text[:100])
}

func TestChunk_CountsCodePoints(t *testing.T) {
	text := strings.Repeat("日本語", 4) // 12 code points, 36 bytes

	chunks, err := Chunk(rag.Document{ID: "ja.txt", Text: text}, 5, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, []rune(text)[0:5], []rune(chunks[0].Text))
	assert.Equal(t, 4, chunks[1].CharOffset)
	assert.Equal(t, []rune(text)[8:12], []rune(chunks[2].Text))
}

func TestChunk_KeysAreStable(t *testing.T) {
	doc := rag.Document{ID: "notes/a.md", Text: strings.Repeat("x", 300)}

	first, err := Chunk(doc, 100, 10)
	require.NoError(t, err)
	second, err := Chunk(doc, 100, 10)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Key(), second[i].Key())
	}
	assert.Equal(t, "notes/a.md-chunk-0", first[0].Key())
}
