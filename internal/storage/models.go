package storage

import "time"

// DistanceMetric is the similarity measure an index is built with.
type DistanceMetric string

const (
	DistanceCosine    DistanceMetric = "cosine"
	DistanceEuclidean DistanceMetric = "euclidean"
)

// IndexSpec describes an index to create.
type IndexSpec struct {
	Bucket    string
	Name      string
	Dimension int
	Metric    DistanceMetric
}

// IndexInfo is what a backend reports about an existing index.
type IndexInfo struct {
	Bucket      string         `json:"bucket" yaml:"bucket"`
	Name        string         `json:"name" yaml:"name"`
	Dimension   int            `json:"dimension" yaml:"dimension"`
	Metric      DistanceMetric `json:"metric" yaml:"metric"`
	VectorCount int64          `json:"vector_count" yaml:"vector_count"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// VectorRecord is one stored vector. Writing a key that already exists
// replaces the previous record.
type VectorRecord struct {
	Key      string         `json:"key" yaml:"key"`
	Data     []float32      `json:"data,omitempty" yaml:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Filter restricts a query to records whose metadata equals every entry.
type Filter map[string]any

// QueryRequest is a top-k similarity search.
type QueryRequest struct {
	Bucket         string
	Index          string
	Vector         []float32
	TopK           int
	Filter         Filter
	ReturnDistance bool
	ReturnMetadata bool
}

// Neighbor is one query hit. Distance and Metadata are nil unless requested.
type Neighbor struct {
	Key      string         `json:"key" yaml:"key"`
	Distance *float32       `json:"distance,omitempty" yaml:"distance,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ListRequest pages through the records of an index, optionally restricted
// to one hash segment so several callers can list in parallel.
type ListRequest struct {
	Bucket         string
	Index          string
	MaxResults     int    // 0 means DefaultListPageSize
	NextToken      string // Empty starts from the beginning
	SegmentCount   int    // 0 disables segmentation
	SegmentIndex   int
	ReturnData     bool
	ReturnMetadata bool
}

// ListResponse is one page of records. An empty NextToken means the listing
// is complete.
type ListResponse struct {
	Vectors   []VectorRecord `json:"vectors" yaml:"vectors"`
	NextToken string         `json:"next_token,omitempty" yaml:"next_token,omitempty"`
}
