// Package output renders command results as a table, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/bull/vector-rag/internal/indexer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

// Format selects how results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// NoData is printed for an empty table.
const NoData = "No data found"

// ParseFormat accepts table, json or yaml in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("%w: output format %q must be table, json or yaml", rag.ErrConfiguration, s)
	}
}

// Print writes v to w. Types without a table layout fall back to JSON in
// table mode.
func Print(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	switch t := v.(type) {
	case *indexer.Report:
		return reportTable(w, t)
	case *query.RetrievalContext:
		return retrievalTable(w, t)
	case *storage.IndexInfo:
		return indexTable(w, t)
	case []storage.VectorRecord:
		return vectorsTable(w, t)
	default:
		return Print(w, FormatJSON, v)
	}
}

// newTable returns a table styled for w: rounded borders and a bold header
// on a terminal, bare aligned columns when output is piped or captured.
func newTable(w io.Writer, headers ...string) *table.Table {
	r := lipgloss.NewRenderer(w)
	t := table.New().Headers(headers...)

	if !isTerminal(w) {
		cell := r.NewStyle().PaddingRight(2)
		return t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
			BorderHeader(false).BorderColumn(false).
			StyleFunc(func(row, col int) lipgloss.Style { return cell })
	}

	header := r.NewStyle().Bold(true).Padding(0, 1)
	body := r.NewStyle().Padding(0, 1)
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(r.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow && len(headers) > 0 {
				return header
			}
			return body
		})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}

func render(w io.Writer, t *table.Table) error {
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func reportTable(w io.Writer, r *indexer.Report) error {
	status := "complete"
	switch {
	case r.Canceled:
		status = "canceled"
	case r.Failed():
		status = "completed with failures"
	}
	summary := newTable(w).Rows(
		[]string{"Status", status},
		[]string{"Documents", fmt.Sprintf("%d/%d", r.SuccessfulDocuments, r.TotalDocuments)},
		[]string{"Chunks", fmt.Sprint(r.TotalChunks)},
		[]string{"Vectors uploaded", fmt.Sprint(r.TotalVectorsUploaded)},
		[]string{"Batches", batchSizes(r.Batches)},
	)
	if r.TruncatedTexts > 0 {
		summary.Row("Truncated chunks", fmt.Sprint(r.TruncatedTexts))
	}
	summary.Row("Duration", r.Duration.Round(time.Millisecond).String())
	if err := render(w, summary); err != nil {
		return err
	}

	if len(r.FailedDocuments) > 0 {
		t := newTable(w, "FAILED DOCUMENT", "REASON")
		for _, f := range r.FailedDocuments {
			t.Row(f.DocumentID, f.Reason)
		}
		fmt.Fprintln(w)
		if err := render(w, t); err != nil {
			return err
		}
	}
	if len(r.FailedBatches) > 0 {
		t := newTable(w, "FAILED BATCH", "RECORDS", "DOCUMENTS", "REASON")
		for _, b := range r.FailedBatches {
			batch := fmt.Sprint(b.Batch)
			if b.Batch == 0 {
				batch = "-"
			}
			t.Row(batch, fmt.Sprint(b.Records), fmt.Sprint(len(b.Documents)), b.Reason)
		}
		fmt.Fprintln(w)
		if err := render(w, t); err != nil {
			return err
		}
	}
	return nil
}

func batchSizes(sizes []int) string {
	if len(sizes) == 0 {
		return "0"
	}
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%d (%s)", len(sizes), strings.Join(parts, ", "))
}

func retrievalTable(w io.Writer, rc *query.RetrievalContext) error {
	if rc.Empty() {
		_, err := fmt.Fprintln(w, NoData)
		return err
	}
	t := newTable(w, "RANK", "SCORE", "SOURCE", "SECTION", "TEXT")
	for _, s := range rc.Snippets {
		score := "-"
		if s.Score != nil {
			score = fmt.Sprintf("%.4f", *s.Score)
		}
		source := s.SourcePath
		if source == "" {
			source = s.DocumentID
		}
		if source == "" {
			source = s.Key
		}
		t.Row(fmt.Sprint(s.Rank), score, source, dash(s.Section), preview(s.Text, 60))
	}
	return render(w, t)
}

func indexTable(w io.Writer, info *storage.IndexInfo) error {
	created := "-"
	if !info.CreatedAt.IsZero() {
		created = info.CreatedAt.Format(time.RFC3339)
	}
	t := newTable(w, "BUCKET", "INDEX", "DIMENSION", "METRIC", "VECTORS", "CREATED").
		Row(info.Bucket, info.Name, fmt.Sprint(info.Dimension), string(info.Metric), fmt.Sprint(info.VectorCount), created)
	return render(w, t)
}

func vectorsTable(w io.Writer, records []storage.VectorRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, NoData)
		return err
	}
	t := newTable(w, "KEY", "DIMENSION", "METADATA")
	for _, r := range records {
		dim := "-"
		if len(r.Data) > 0 {
			dim = fmt.Sprint(len(r.Data))
		}
		t.Row(r.Key, dim, metadataSummary(r.Metadata))
	}
	return render(w, t)
}

// metadataSummary lists metadata as sorted key=value pairs, leaving out the
// chunk text.
func metadataSummary(md map[string]any) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		if k == rag.MetaText {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "-"
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, md[k])
	}
	return preview(strings.Join(parts, " "), 80)
}

// preview flattens whitespace and cuts s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return dash(s)
	}
	return string(r[:n-3]) + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
