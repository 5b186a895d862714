package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/vector-rag/internal/indexer"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/source"
	"github.com/bull/vector-rag/internal/storage"
)

var (
	githubPath    string
	ingestWorkers int
	ingestBatch   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [directory]",
	Short: "Chunk, embed and upload documents",
	Long: `Reads every matching file from a directory (or a GitHub repository with
--github owner/repo[/path][@ref]), splits it into overlapping chunks,
embeds the chunks in parallel and uploads them in batches of at most 500.

A document that fails is reported and skipped; the rest are still indexed.
Re-ingesting a document overwrites its chunks. Ctrl+C stops taking new
documents, lets in-flight work finish and prints a partial report.

The index must exist (run rag init first).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	flags := ingestCmd.Flags()
	flags.StringVar(&githubPath, "github", "", "ingest from GitHub: owner/repo[/path][@ref]")
	flags.IntVarP(&ingestWorkers, "workers", "w", 0, "embedding workers (default: config)")
	flags.IntVar(&ingestBatch, "batch-size", 0, "upload batch size, at most 500 (default: config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if (len(args) == 1) == (githubPath != "") {
		return fmt.Errorf("%w: give either a directory or --github", rag.ErrConfiguration)
	}
	if ingestBatch > 0 {
		a.cfg.Ingest.BatchSize = ingestBatch
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	src, err := newSource(a, args)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	// Pre-flight check: the index must already exist
	if _, err := store.DescribeIndex(ctx, a.cfg.Store.Bucket, a.cfg.Store.Index); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("index %s does not exist. Run: rag init --bucket %s --index %s",
				a.target(), a.cfg.Store.Bucket, a.cfg.Store.Index)
		}
		return err
	}

	if a.table() {
		fmt.Printf("Reading documents from %s...\n", src.Name())
	}
	docs, readFailures, err := src.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("read documents: %w", err)
	}

	coord, err := a.cfg.Coordinator(store, ingestWorkers, a.logger)
	if err != nil {
		return err
	}
	if a.table() {
		fmt.Printf("Ingesting %d documents into %s (%d workers, batch size %d)...\n",
			len(docs), a.target(), coord.Workers(), coord.BatchSize())
		fmt.Println()
	}

	report, err := coord.Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	mergeReadFailures(report, readFailures)

	if a.table() {
		fmt.Println("Ingestion complete!")
	}
	if err := a.print(report); err != nil {
		return err
	}
	if a.table() {
		fmt.Println()
		fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	}

	switch {
	case report.Canceled:
		return context.Canceled
	case report.Failed():
		return fmt.Errorf("%d documents and %d batches failed", len(report.FailedDocuments), len(report.FailedBatches))
	}
	return nil
}

func newSource(a *app, args []string) (source.Source, error) {
	if githubPath == "" {
		return source.NewLocal(args[0], a.cfg.Ingest.Extensions...)
	}
	owner, repo, base, ref, err := source.ParseGitHubPath(githubPath)
	if err != nil {
		return nil, err
	}
	client, err := source.NewGitHubClient(a.cfg.GitHub.Token)
	if err != nil {
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}
	return source.NewGitHub(client, owner, repo, base, ref, a.cfg.Ingest.Extensions...), nil
}

// mergeReadFailures counts documents the source could not read as failed
// documents of the run.
func mergeReadFailures(report *indexer.Report, failures []rag.DocumentFailure) {
	if len(failures) == 0 {
		return
	}
	report.TotalDocuments += len(failures)
	report.FailedDocuments = append(report.FailedDocuments, failures...)
}
