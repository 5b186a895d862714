package rag

import "errors"

// Error kinds shared by every stage of the pipeline. Callers classify
// failures with errors.Is; concrete errors wrap one of these with %w.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrModelLoad          = errors.New("model load failed")
	ErrDocumentProcessing = errors.New("document processing failed")
	ErrStoreTransient     = errors.New("vector store temporarily unavailable")
	ErrStoreFailure       = errors.New("vector store request failed")
	ErrEmptyIndex         = errors.New("index contains no vectors")
)
