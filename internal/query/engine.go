// Package query embeds a question and retrieves the closest stored chunks.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/vector-rag/internal/embedding"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

// DefaultTopK is the number of neighbors requested when the caller does not say.
const DefaultTopK = 5

// Options controls a single search.
type Options struct {
	TopK         int
	Filter       storage.Filter
	OmitMetadata bool // Snippets then carry only key and distance
	OmitDistance bool
}

// Snippet is one retrieved chunk, best match first.
type Snippet struct {
	Rank       int            `json:"rank" yaml:"rank"`
	Key        string         `json:"key" yaml:"key"`
	Distance   *float32       `json:"distance,omitempty" yaml:"distance,omitempty"`
	Score      *float32       `json:"score,omitempty" yaml:"score,omitempty"`
	DocumentID string         `json:"document_id,omitempty" yaml:"document_id,omitempty"`
	ChunkIndex int            `json:"chunk_index" yaml:"chunk_index"`
	SourcePath string         `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	Title      string         `json:"title,omitempty" yaml:"title,omitempty"`
	Section    string         `json:"section,omitempty" yaml:"section,omitempty"`
	Text       string         `json:"text,omitempty" yaml:"text,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// RetrievalContext is the ordered result of a search.
type RetrievalContext struct {
	Query    string        `json:"query" yaml:"query"`
	TopK     int           `json:"top_k" yaml:"top_k"`
	Snippets []Snippet     `json:"snippets" yaml:"snippets"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Empty reports whether nothing was retrieved.
func (rc *RetrievalContext) Empty() bool { return len(rc.Snippets) == 0 }

// Assemble renders the snippets as numbered context blocks for a prompt.
// Snippets without text render their key instead.
func (rc *RetrievalContext) Assemble() string {
	blocks := make([]string, 0, len(rc.Snippets))
	for _, s := range rc.Snippets {
		header := fmt.Sprintf("[Document %d]", s.Rank)
		if s.SourcePath != "" {
			header += " (" + s.SourcePath + ")"
		} else if s.DocumentID != "" {
			header += " (" + s.DocumentID + ")"
		}
		body := s.Text
		if body == "" {
			body = s.Key
		}
		blocks = append(blocks, header+"\n"+body+"\n")
	}
	return strings.Join(blocks, "\n")
}

// Config names the index an Engine searches.
type Config struct {
	Bucket    string
	Index     string
	Dimension int // 0 skips the query vector length check
}

// Engine runs searches. It is safe for concurrent use when its Encoder is.
type Engine struct {
	store   *storage.Client
	encoder embedding.Encoder
	cfg     Config
	logger  *slog.Logger
}

// NewEngine creates a query engine. A nil logger uses slog.Default().
func NewEngine(store *storage.Client, encoder embedding.Encoder, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, encoder: encoder, cfg: cfg, logger: logger}
}

// Search embeds text and returns the TopK closest chunks. An empty result
// is not an error unless the index holds no vectors at all, in which case
// rag.ErrEmptyIndex is returned.
func (e *Engine) Search(ctx context.Context, text string, opts Options) (*RetrievalContext, error) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", rag.ErrConfiguration)
	}
	if opts.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", rag.ErrConfiguration, opts.TopK)
	}

	vectors, err := e.encoder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for 1 text", len(vectors))
	}
	vec := vectors[0]
	if e.cfg.Dimension > 0 && len(vec) != e.cfg.Dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, configured %d",
			rag.ErrConfiguration, len(vec), e.cfg.Dimension)
	}

	neighbors, err := e.store.QueryVectors(ctx, storage.QueryRequest{
		Bucket:         e.cfg.Bucket,
		Index:          e.cfg.Index,
		Vector:         vec,
		TopK:           opts.TopK,
		Filter:         opts.Filter,
		ReturnDistance: !opts.OmitDistance,
		ReturnMetadata: !opts.OmitMetadata,
	})
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	rc := &RetrievalContext{Query: text, TopK: opts.TopK, Snippets: make([]Snippet, 0, len(neighbors))}
	for i, n := range neighbors {
		rc.Snippets = append(rc.Snippets, NewSnippet(i+1, n))
	}

	if rc.Empty() {
		info, err := e.store.DescribeIndex(ctx, e.cfg.Bucket, e.cfg.Index)
		if err != nil {
			return nil, fmt.Errorf("describe index: %w", err)
		}
		if info.VectorCount == 0 {
			return nil, fmt.Errorf("%w: %s/%s", rag.ErrEmptyIndex, e.cfg.Bucket, e.cfg.Index)
		}
	}

	rc.Duration = time.Since(start)
	e.logger.Info("Search complete", "results", len(rc.Snippets), "top_k", opts.TopK, "duration", rc.Duration)
	return rc, nil
}

// IsEmptyIndex reports whether err means the index has nothing to search.
func IsEmptyIndex(err error) bool { return errors.Is(err, rag.ErrEmptyIndex) }

// NewSnippet decodes a neighbor and its chunk metadata. Score is 1 - distance.
func NewSnippet(rank int, n storage.Neighbor) Snippet {
	s := Snippet{Rank: rank, Key: n.Key, Distance: n.Distance, Metadata: n.Metadata}
	if n.Distance != nil {
		score := 1 - *n.Distance
		s.Score = &score
	}
	if n.Metadata == nil {
		return s
	}
	s.Text = stringField(n.Metadata, rag.MetaText)
	s.DocumentID = stringField(n.Metadata, rag.MetaDocumentID)
	s.SourcePath = stringField(n.Metadata, rag.MetaSourcePath)
	s.Title = stringField(n.Metadata, rag.MetaTitle)
	s.Section = stringField(n.Metadata, rag.MetaSection)
	s.ChunkIndex = intField(n.Metadata, rag.MetaChunkIndex)
	return s
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a number that may have round-tripped through JSON.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return 0
}
