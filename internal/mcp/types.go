// Package mcp exposes retrieval over the Model Context Protocol.
package mcp

// SearchContextInput defines the input parameters for the search_context tool.
type SearchContextInput struct {
	// Query is the natural-language search text.
	Query string `json:"query" jsonschema:"The question or search text to retrieve context for"`
	// TopK is the number of chunks to return.
	TopK int `json:"top_k,omitempty" jsonschema:"Number of chunks to return (default 5, maximum 50)"`
	// DocumentID restricts results to one document.
	DocumentID string `json:"document_id,omitempty" jsonschema:"Only return chunks of this document ID"`
}

// SearchContextOutput contains the retrieved chunks, best match first.
type SearchContextOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	// Context is the results rendered as numbered blocks for a prompt.
	Context string `json:"context,omitempty"`
	// Message provides informational context (e.g., "The index is empty").
	Message string `json:"message,omitempty"`
}

// SearchResult represents a single chunk match.
type SearchResult struct {
	Rank       int     `json:"rank"`
	Key        string  `json:"key"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	SourcePath string  `json:"source_path,omitempty"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text"`
}

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"The question to answer from the indexed documents"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Number of chunks to ground the answer on (default 5)"`
}

// AskOutput contains a generated answer and the sources it was based on.
type AskOutput struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// ListVectorsInput defines the input parameters for the list_vectors tool.
type ListVectorsInput struct {
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Page size (default 100, maximum 1000)"`
	NextToken  string `json:"next_token,omitempty" jsonschema:"Token from a previous call to continue listing"`
}

// ListVectorsOutput contains one page of stored vectors.
type ListVectorsOutput struct {
	Vectors   []VectorSummary `json:"vectors"`
	Count     int             `json:"count"`
	NextToken string          `json:"next_token,omitempty"`
}

// VectorSummary describes a stored vector without its data.
type VectorSummary struct {
	Key        string `json:"key"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	SourcePath string `json:"source_path,omitempty"`
}

// StatusInput defines the input parameters for the get_index_status tool.
// This tool takes no parameters.
type StatusInput struct{}

// StatusOutput describes the served index.
type StatusOutput struct {
	Bucket      string `json:"bucket"`
	Index       string `json:"index"`
	Dimension   int    `json:"dimension"`
	Metric      string `json:"metric"`
	VectorCount int64  `json:"vector_count"`
	CreatedAt   string `json:"created_at,omitempty"`
	// Warning is set when the index cannot serve queries yet.
	Warning string `json:"warning,omitempty"`
}
