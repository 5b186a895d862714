// Package indexer fans documents out to embedding workers and uploads the
// resulting vectors in bounded batches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bull/vector-rag/internal/chunker"
	"github.com/bull/vector-rag/internal/embedding"
	"github.com/bull/vector-rag/internal/markdown"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

// DefaultEmbedBatchSize is how many chunk texts go to the encoder at once.
const DefaultEmbedBatchSize = 32

// Config selects the target index and batching behavior.
type Config struct {
	Bucket         string
	Index          string
	Dimension      int // Expected index dimension; 0 accepts whatever the index reports
	BatchSize      int // Upload batch size, clamped to storage.MaxBatchSize
	EmbedBatchSize int
}

// Coordinator orchestrates ingestion from documents to stored vectors.
// Workers own one model slot each; the store client is shared.
type Coordinator struct {
	store   *storage.Client
	models  *embedding.ModelCache
	chunker *chunker.Chunker
	outline *markdown.Parser
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes Ingest so a model slot is never used by two runs.
	mu sync.Mutex
}

// New creates a Coordinator with one worker per model slot.
func New(store *storage.Client, models *embedding.ModelCache, ch *chunker.Chunker, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" || cfg.Index == "" {
		return nil, fmt.Errorf("%w: bucket and index are required", rag.ErrConfiguration)
	}
	if cfg.Dimension < 0 || cfg.Dimension > storage.MaxDimension {
		return nil, fmt.Errorf("%w: dimension %d outside [1, %d]", rag.ErrConfiguration, cfg.Dimension, storage.MaxDimension)
	}
	switch {
	case cfg.BatchSize <= 0:
		cfg.BatchSize = storage.MaxBatchSize
	case cfg.BatchSize > storage.MaxBatchSize:
		logger.Warn("Batch size exceeds store limit, clamping",
			"requested", cfg.BatchSize, "limit", storage.MaxBatchSize)
		cfg.BatchSize = storage.MaxBatchSize
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	return &Coordinator{
		store:   store,
		models:  models,
		chunker: ch,
		outline: markdown.NewParser(0),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// BatchSize returns the effective upload batch size.
func (c *Coordinator) BatchSize() int { return c.cfg.BatchSize }

// Workers returns the number of embedding workers.
func (c *Coordinator) Workers() int { return c.models.Slots() }

// docResult is what a worker hands back for one document.
type docResult struct {
	doc     rag.Document
	chunks  int
	records []storage.VectorRecord
	err     error
}

// Ingest chunks, embeds and uploads documents. It returns an error only when
// the target index cannot be used at all; per-document and per-batch
// failures are recorded in the report.
//
// Cancelling ctx stops workers from taking new documents and stops new
// batches from being submitted. Embedding and uploads already in progress
// run to completion.
func (c *Coordinator) Ingest(ctx context.Context, docs []rag.Document) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	info, err := c.store.DescribeIndex(ctx, c.cfg.Bucket, c.cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("describe index: %w", err)
	}
	if c.cfg.Dimension > 0 && c.cfg.Dimension != info.Dimension {
		return nil, fmt.Errorf("%w: configured dimension %d does not match index %s/%s dimension %d",
			rag.ErrConfiguration, c.cfg.Dimension, info.Bucket, info.Name, info.Dimension)
	}

	// Every worker shares one factory, so the first slot shows whether the
	// model fits the index before any document is embedded. A load failure
	// is left to the workers, which record it per document.
	if len(docs) > 0 {
		if enc, err := c.models.Get(0); err == nil && enc.Dimension() > 0 && enc.Dimension() != info.Dimension {
			return nil, fmt.Errorf("%w: model %s produces %d-dimensional vectors, index %s/%s expects %d",
				rag.ErrConfiguration, enc.Name(), enc.Dimension(), info.Bucket, info.Name, info.Dimension)
		}
	}
	truncatedBefore := c.models.Truncations()

	workers := c.models.Slots()
	c.logger.Info("Starting ingestion",
		"documents", len(docs), "workers", workers, "batch_size", c.cfg.BatchSize,
		"bucket", info.Bucket, "index", info.Name, "dimension", info.Dimension)

	tasks := make(chan rag.Document)
	results := make(chan docResult, workers)

	go func() {
		defer close(tasks)
		for _, doc := range docs {
			tasks <- doc
		}
	}()

	var wg sync.WaitGroup
	var alive atomic.Int32
	alive.Store(int32(workers))
	for slot := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, slot, info, tasks, results, &alive)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	report := &Report{TotalDocuments: len(docs)}
	b := &batcher{c: c, ctx: ctx, report: report}
	for res := range results {
		if res.err != nil {
			report.FailedDocuments = append(report.FailedDocuments, rag.DocumentFailure{
				DocumentID: res.doc.ID,
				Reason:     res.err.Error(),
			})
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				report.Canceled = true
			} else {
				c.logger.Warn("Failed to process document", "document", res.doc.ID, "error", res.err)
			}
			continue
		}
		report.SuccessfulDocuments++
		report.TotalChunks += res.chunks
		b.add(res.records)
	}
	b.flushAll()

	// Worker scheduling makes failure order arbitrary.
	sort.Slice(report.FailedDocuments, func(i, j int) bool {
		return report.FailedDocuments[i].DocumentID < report.FailedDocuments[j].DocumentID
	})

	report.TruncatedTexts = int(c.models.Truncations() - truncatedBefore)
	if report.TruncatedTexts > 0 {
		c.logger.Warn("Some chunks exceeded the model sequence limit and were truncated",
			"truncated", report.TruncatedTexts)
	}

	report.Duration = c.now().Sub(start)
	c.logger.Info("Ingestion complete",
		"successful", report.SuccessfulDocuments,
		"failed", len(report.FailedDocuments),
		"chunks", report.TotalChunks,
		"uploaded", report.TotalVectorsUploaded,
		"batches", len(report.Batches),
		"failed_batches", len(report.FailedBatches),
		"truncated", report.TruncatedTexts,
		"canceled", report.Canceled,
		"duration", report.Duration,
	)
	return report, nil
}

// worker processes documents with the model in its slot. A model that
// cannot load kills the worker; the last worker to die drains the queue so
// every remaining document is still reported.
func (c *Coordinator) worker(ctx context.Context, slot int, info *storage.IndexInfo, tasks <-chan rag.Document, results chan<- docResult, alive *atomic.Int32) {
	for doc := range tasks {
		if err := ctx.Err(); err != nil {
			results <- docResult{doc: doc, err: fmt.Errorf("canceled before processing: %w", err)}
			continue
		}

		enc, err := c.models.Get(slot)
		if err != nil {
			results <- docResult{doc: doc, err: err}
			c.logger.Error("Embedding worker stopped", "slot", slot, "error", err)
			if alive.Add(-1) == 0 {
				c.drain(ctx, tasks, results, err)
			}
			return
		}

		results <- c.process(ctx, enc, info, doc)
	}
}

func (c *Coordinator) drain(ctx context.Context, tasks <-chan rag.Document, results chan<- docResult, cause error) {
	for doc := range tasks {
		if err := ctx.Err(); err != nil {
			results <- docResult{doc: doc, err: fmt.Errorf("canceled before processing: %w", err)}
			continue
		}
		results <- docResult{doc: doc, err: fmt.Errorf("no embedding worker available: %w", cause)}
	}
}

// process turns one document into vector records.
func (c *Coordinator) process(ctx context.Context, enc embedding.Encoder, info *storage.IndexInfo, doc rag.Document) docResult {
	res := docResult{doc: doc}

	if !utf8.ValidString(doc.Text) {
		res.err = fmt.Errorf("%w: %s is not valid UTF-8", rag.ErrDocumentProcessing, doc.ID)
		return res
	}

	chunks := c.chunker.Chunk(doc)
	res.chunks = len(chunks)
	if len(chunks) == 0 {
		c.logger.Debug("Document has no text", "document", doc.ID)
		return res
	}

	title := doc.Title
	var outline *markdown.Outline
	if doc.FileType == "md" {
		o, err := c.outline.Parse([]byte(doc.Text))
		if err != nil {
			c.logger.Warn("Markdown outline failed, indexing without sections", "document", doc.ID, "error", err)
		} else {
			outline = o
			if title == "" {
				title = o.Title
			}
		}
	}

	// Embedding already started is not abandoned on cancellation.
	embedCtx := context.WithoutCancel(ctx)
	vectors := make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += c.cfg.EmbedBatchSize {
		end := min(i+c.cfg.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-i)
		for _, ch := range chunks[i:end] {
			texts = append(texts, ch.Text)
		}
		out, err := enc.Embed(embedCtx, texts)
		if err != nil {
			res.err = fmt.Errorf("%w: embed %s: %w", rag.ErrDocumentProcessing, doc.ID, err)
			return res
		}
		if len(out) != len(texts) {
			res.err = fmt.Errorf("%w: embed %s: got %d vectors for %d texts",
				rag.ErrDocumentProcessing, doc.ID, len(out), len(texts))
			return res
		}
		vectors = append(vectors, out...)
	}

	indexedAt := c.now().UTC().Format(time.RFC3339)
	records := make([]storage.VectorRecord, len(chunks))
	for i, ch := range chunks {
		if len(vectors[i]) != info.Dimension {
			res.err = fmt.Errorf("%w: model %s produces %d-dimensional vectors, index %s expects %d",
				rag.ErrConfiguration, enc.Name(), len(vectors[i]), info.Name, info.Dimension)
			return res
		}
		meta := map[string]any{
			rag.MetaText:        ch.Text,
			rag.MetaDocumentID:  doc.ID,
			rag.MetaChunkIndex:  ch.Index,
			rag.MetaCharOffset:  ch.CharOffset,
			rag.MetaSourcePath:  doc.SourcePath,
			rag.MetaTotalChunks: len(chunks),
			rag.MetaIndexedAt:   indexedAt,
		}
		if title != "" {
			meta[rag.MetaTitle] = title
		}
		if doc.FileType != "" {
			meta[rag.MetaFileType] = doc.FileType
		}
		if outline != nil {
			if section := outline.SectionAt(ch.CharOffset); section != "" {
				meta[rag.MetaSection] = section
			}
		}

		rec := storage.VectorRecord{Key: ch.Key(), Data: vectors[i], Metadata: meta}
		if err := storage.ValidateRecord(rec); err != nil {
			res.err = fmt.Errorf("%w: %w", rag.ErrDocumentProcessing, err)
			return res
		}
		records[i] = rec
	}

	c.logger.Debug("Embedded document", "document", doc.ID, "chunks", len(chunks))
	res.records = records
	return res
}

// batcher accumulates records and uploads them in batches of at most
// BatchSize. It runs on the collecting goroutine only.
type batcher struct {
	c      *Coordinator
	ctx    context.Context
	report *Report
	buf    []storage.VectorRecord
}

func (b *batcher) add(records []storage.VectorRecord) {
	b.buf = append(b.buf, records...)
	for len(b.buf) >= b.c.cfg.BatchSize {
		b.flush(b.c.cfg.BatchSize)
	}
}

func (b *batcher) flushAll() {
	if len(b.buf) > 0 {
		b.flush(len(b.buf))
	}
}

func (b *batcher) flush(n int) {
	batch := b.buf[:n:n]
	b.buf = b.buf[n:]

	if err := b.ctx.Err(); err != nil {
		b.report.Canceled = true
		b.report.FailedBatches = append(b.report.FailedBatches, BatchFailure{
			Records:   len(batch),
			Documents: documentsOf(batch),
			Reason:    fmt.Sprintf("not submitted: %v", err),
		})
		return
	}

	number := len(b.report.Batches) + 1
	b.report.Batches = append(b.report.Batches, len(batch))

	// A submitted batch is uploaded whole even if ctx is canceled meanwhile.
	err := b.c.store.PutVectors(context.WithoutCancel(b.ctx), b.c.cfg.Bucket, b.c.cfg.Index, batch)
	if err != nil {
		b.c.logger.Error("Batch upload failed", "batch", number, "records", len(batch), "error", err)
		b.report.FailedBatches = append(b.report.FailedBatches, BatchFailure{
			Batch:     number,
			Records:   len(batch),
			Documents: documentsOf(batch),
			Reason:    err.Error(),
		})
		return
	}
	b.report.TotalVectorsUploaded += len(batch)
	b.c.logger.Info("Uploaded batch", "batch", number, "records", len(batch))
}

func documentsOf(batch []storage.VectorRecord) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range batch {
		id, _ := r.Metadata[rag.MetaDocumentID].(string)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
