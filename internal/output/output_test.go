package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bull/vector-rag/internal/indexer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatTable},
		{"table", FormatTable},
		{"JSON", FormatJSON},
		{" yaml ", FormatYAML},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFormat("xml")
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func sampleReport() *indexer.Report {
	return &indexer.Report{
		TotalDocuments:       3,
		SuccessfulDocuments:  2,
		TotalChunks:          1300,
		TotalVectorsUploaded: 800,
		Batches:              []int{500, 500, 300},
		FailedDocuments:      []rag.DocumentFailure{{DocumentID: "bad.txt", Reason: "invalid UTF-8"}},
		FailedBatches:        []indexer.BatchFailure{{Batch: 2, Records: 500, Documents: []string{"a.md"}, Reason: "store unavailable"}},
		Duration:             1500 * time.Millisecond,
	}
}

func TestPrint_ReportTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "completed with failures")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "3 (500, 500, 300)")
	assert.Contains(t, out, "bad.txt")
	assert.Contains(t, out, "invalid UTF-8")
	assert.Contains(t, out, "store unavailable")
	assert.Contains(t, out, "1.5s")
}

func TestPrint_ReportJSONAndYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatJSON, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.EqualValues(t, 1300, decoded["total_chunks"])
	assert.Len(t, decoded["failed_documents"], 1)

	buf.Reset()
	require.NoError(t, Print(&buf, FormatYAML, sampleReport()))
	var back map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, 800, back["total_vectors_uploaded"])
	assert.Equal(t, []any{500, 500, 300}, back["batches"])
}

func TestPrint_RetrievalTable(t *testing.T) {
	score := float32(0.875)
	rc := &query.RetrievalContext{
		Query: "fox",
		TopK:  2,
		Snippets: []query.Snippet{
			{Rank: 1, Key: "a.md-chunk-0", Score: &score, SourcePath: "docs/a.md", Section: "# Intro", Text: "The quick\nbrown fox"},
			{Rank: 2, Key: "b.txt-chunk-3", Text: strings.Repeat("x", 100)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, rc))
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "0.8750")
	assert.Contains(t, lines[1], "docs/a.md")
	assert.Contains(t, lines[1], "The quick brown fox")
	assert.Contains(t, lines[2], "b.txt-chunk-3")
	assert.Contains(t, lines[2], "...")
}

func TestPrint_EmptyTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, &query.RetrievalContext{Query: "q"}))
	assert.Equal(t, NoData+"\n", buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, []storage.VectorRecord{}))
	assert.Equal(t, NoData+"\n", buf.String())
}

func TestPrint_VectorsAndIndex(t *testing.T) {
	records := []storage.VectorRecord{{
		Key:  "a.md-chunk-0",
		Data: make([]float32, 384),
		Metadata: map[string]any{
			rag.MetaText:       "hidden",
			rag.MetaDocumentID: "a.md",
			rag.MetaChunkIndex: 0,
		},
	}}
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, records))
	assert.Contains(t, buf.String(), "384")
	assert.Contains(t, buf.String(), "chunk_index=0 document_id=a.md")
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	info := &storage.IndexInfo{Bucket: "b", Name: "i", Dimension: 384, Metric: storage.DistanceCosine, VectorCount: 42}
	require.NoError(t, Print(&buf, FormatTable, info))
	assert.Contains(t, buf.String(), "cosine")
	assert.Contains(t, buf.String(), "42")
}

func TestPrint_UnknownTypeFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, map[string]string{"status": "ok"}))
	assert.JSONEq(t, `{"status":"ok"}`, buf.String())
}

func TestPrint_ReportShowsTruncation(t *testing.T) {
	r := sampleReport()
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, r))
	assert.NotContains(t, buf.String(), "Truncated")

	r.TruncatedTexts = 7
	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, r))
	assert.Regexp(t, `Truncated chunks\s+7`, buf.String())
}

func TestPrint_PipedTablesHaveNoBorders(t *testing.T) {
	info := &storage.IndexInfo{Bucket: "b", Name: "i", Dimension: 4, Metric: storage.DistanceCosine}
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, info))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "BUCKET"))
	assert.NotContains(t, buf.String(), "│")
	assert.NotContains(t, buf.String(), "─")
}
