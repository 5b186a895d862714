package indexer

import (
	"time"

	"github.com/bull/vector-rag/internal/rag"
)

// Report contains statistics about an ingestion run. Every document and
// every batch is accounted for: nothing that failed is left out.
type Report struct {
	TotalDocuments       int                   `json:"total_documents" yaml:"total_documents"`
	SuccessfulDocuments  int                   `json:"successful_documents" yaml:"successful_documents"`
	TotalChunks          int                   `json:"total_chunks" yaml:"total_chunks"`
	TotalVectorsUploaded int                   `json:"total_vectors_uploaded" yaml:"total_vectors_uploaded"`
	Batches              []int                 `json:"batches" yaml:"batches"` // Sizes of submitted batches, in order
	FailedDocuments      []rag.DocumentFailure `json:"failed_documents,omitempty" yaml:"failed_documents,omitempty"`
	FailedBatches        []BatchFailure        `json:"failed_batches,omitempty" yaml:"failed_batches,omitempty"`
	TruncatedTexts       int                   `json:"truncated_texts,omitempty" yaml:"truncated_texts,omitempty"` // Chunks cut to the model's sequence limit before embedding
	Duration             time.Duration         `json:"duration" yaml:"duration"`
	Canceled             bool                  `json:"canceled,omitempty" yaml:"canceled,omitempty"`
}

// BatchFailure represents an upload batch that did not reach the store.
type BatchFailure struct {
	Batch     int      `json:"batch" yaml:"batch"` // 1-based submission number, 0 if never submitted
	Records   int      `json:"records" yaml:"records"`
	Documents []string `json:"documents" yaml:"documents"`
	Reason    string   `json:"reason" yaml:"reason"`
}

// Failed reports whether any document or batch failed.
func (r *Report) Failed() bool {
	return len(r.FailedDocuments) > 0 || len(r.FailedBatches) > 0
}
