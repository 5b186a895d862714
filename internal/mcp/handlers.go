package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

const (
	maxTopK         = 50
	defaultListSize = 100
)

const emptyIndexMessage = "The index is empty. Ingest documents before searching."

// makeSearchHandler creates the search_context tool handler.
// An empty index is reported in Message rather than as a tool error.
func makeSearchHandler(engine Searcher, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, SearchContextInput,
) (*mcp.CallToolResult, SearchContextOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchContextInput) (
		*mcp.CallToolResult, SearchContextOutput, error,
	) {
		opts := query.Options{TopK: clampTopK(input.TopK)}
		if input.DocumentID != "" {
			opts.Filter = storage.Filter{rag.MetaDocumentID: input.DocumentID}
		}

		rc, err := engine.Search(ctx, input.Query, opts)
		if query.IsEmptyIndex(err) {
			return nil, SearchContextOutput{Query: input.Query, Results: []SearchResult{}, Message: emptyIndexMessage}, nil
		}
		if err != nil {
			logger.Warn("search_context failed", "error", err)
			return nil, SearchContextOutput{}, fmt.Errorf("search failed: %w", err)
		}

		out := SearchContextOutput{Query: rc.Query, Results: make([]SearchResult, 0, len(rc.Snippets))}
		for _, s := range rc.Snippets {
			out.Results = append(out.Results, toResult(s))
		}
		if len(out.Results) == 0 {
			out.Message = "No matching chunks found. Try broader search terms."
			return nil, out, nil
		}
		out.Context = rc.Assemble()
		return nil, out, nil
	}
}

// makeAskHandler creates the ask tool handler: retrieval followed by answer
// generation over the retrieved context.
func makeAskHandler(engine Searcher, answerer answer.Answerer, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		rc, err := engine.Search(ctx, input.Question, query.Options{TopK: clampTopK(input.TopK)})
		if query.IsEmptyIndex(err) {
			return nil, AskOutput{Answer: emptyIndexMessage, Sources: []string{}}, nil
		}
		if err != nil {
			return nil, AskOutput{}, fmt.Errorf("search failed: %w", err)
		}

		text, err := answerer.Answer(ctx, rc)
		if err != nil {
			logger.Warn("ask failed", "error", err)
			return nil, AskOutput{}, fmt.Errorf("answer generation failed: %w", err)
		}

		sources := make([]string, 0, len(rc.Snippets))
		seen := make(map[string]bool)
		for _, s := range rc.Snippets {
			src := s.SourcePath
			if src == "" {
				src = s.DocumentID
			}
			if src != "" && !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
		}
		return nil, AskOutput{Answer: text, Sources: sources}, nil
	}
}

// makeListHandler creates the list_vectors tool handler.
func makeListHandler(store *storage.Client, bucket, index string) func(
	context.Context, *mcp.CallToolRequest, ListVectorsInput,
) (*mcp.CallToolResult, ListVectorsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListVectorsInput) (
		*mcp.CallToolResult, ListVectorsOutput, error,
	) {
		size := input.MaxResults
		if size <= 0 {
			size = defaultListSize
		}
		size = min(size, storage.MaxListPageSize)

		page, err := store.ListVectors(ctx, storage.ListRequest{
			Bucket:         bucket,
			Index:          index,
			MaxResults:     size,
			NextToken:      input.NextToken,
			ReturnMetadata: true,
		})
		if err != nil {
			return nil, ListVectorsOutput{}, fmt.Errorf("failed to list vectors: %w", err)
		}

		out := ListVectorsOutput{Vectors: make([]VectorSummary, 0, len(page.Vectors)), NextToken: page.NextToken}
		for _, v := range page.Vectors {
			s := query.NewSnippet(0, storage.Neighbor{Key: v.Key, Metadata: v.Metadata})
			out.Vectors = append(out.Vectors, VectorSummary{
				Key:        v.Key,
				DocumentID: s.DocumentID,
				ChunkIndex: s.ChunkIndex,
				SourcePath: s.SourcePath,
			})
		}
		out.Count = len(out.Vectors)
		return nil, out, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(store *storage.Client, bucket, index string) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		info, err := store.DescribeIndex(ctx, bucket, index)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("store_error: failed to describe index: %w", err)
		}

		out := StatusOutput{
			Bucket:      info.Bucket,
			Index:       info.Name,
			Dimension:   info.Dimension,
			Metric:      string(info.Metric),
			VectorCount: info.VectorCount,
		}
		if !info.CreatedAt.IsZero() {
			out.CreatedAt = info.CreatedAt.Format(time.RFC3339)
		}
		if info.VectorCount == 0 {
			out.Warning = emptyIndexMessage
		}
		return nil, out, nil
	}
}

func clampTopK(k int) int {
	if k <= 0 {
		return query.DefaultTopK
	}
	return min(k, maxTopK)
}

func toResult(s query.Snippet) SearchResult {
	r := SearchResult{
		Rank:       s.Rank,
		Key:        s.Key,
		DocumentID: s.DocumentID,
		ChunkIndex: s.ChunkIndex,
		SourcePath: s.SourcePath,
		Section:    s.Section,
		Text:       s.Text,
	}
	if s.Score != nil {
		r.Score = float64(*s.Score)
	}
	return r
}
