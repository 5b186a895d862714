// Package rag holds the data model shared by the ingestion and query paths.
package rag

import "fmt"

// Document is a unit of source text identified by its path relative to the
// source root.
type Document struct {
	ID         string // "guides/setup.md"
	SourcePath string // Absolute path or URL the text was read from
	Title      string
	FileType   string // "md", "txt"
	Text       string
}

// Chunk is a contiguous window of a document's text.
type Chunk struct {
	DocumentID string
	Index      int // Zero-based position within the document
	Text       string
	CharOffset int // Offset of Text in code points
}

// Key returns the vector key for the chunk. Re-ingesting a document yields
// the same keys, so uploads overwrite earlier records.
func (c Chunk) Key() string {
	return ChunkKey(c.DocumentID, c.Index)
}

// ChunkKey formats the vector key for chunk index of documentID.
func ChunkKey(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}

// Metadata keys written alongside every chunk vector.
const (
	MetaText        = "text"
	MetaDocumentID  = "document_id"
	MetaChunkIndex  = "chunk_index"
	MetaCharOffset  = "char_offset"
	MetaSourcePath  = "source_path"
	MetaTitle       = "title"
	MetaSection     = "section"
	MetaFileType    = "file_type"
	MetaTotalChunks = "total_chunks"
	MetaIndexedAt   = "indexed_at"
)

// DocumentFailure records why a document did not make it into the index.
type DocumentFailure struct {
	DocumentID string `json:"document_id" yaml:"document_id"`
	Reason     string `json:"reason" yaml:"reason"`
}
