package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

var (
	listLimit    int
	listSegments int
	listData     bool
	deleteDoc    string
	deleteChunks int
)

var vectorsCmd = &cobra.Command{
	Use:   "vectors",
	Short: "List or delete stored vectors",
}

var vectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored vectors",
	Long: `Lists the vectors of the index. --segments splits the key space into
hash segments listed in parallel.`,
	Args: cobra.NoArgs,
	RunE: runVectorsList,
}

var vectorsDeleteCmd = &cobra.Command{
	Use:   "delete [key...]",
	Short: "Delete vectors by key, or every chunk of a document",
	RunE:  runVectorsDelete,
}

func init() {
	vectorsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "stop after this many vectors (0 lists everything)")
	vectorsListCmd.Flags().IntVar(&listSegments, "segments", 0, fmt.Sprintf("parallel hash segments, at most %d", storage.MaxSegmentCount))
	vectorsListCmd.Flags().BoolVar(&listData, "data", false, "include vector data")
	vectorsDeleteCmd.Flags().StringVar(&deleteDoc, "document", "", "delete the chunks of this document ID")
	vectorsDeleteCmd.Flags().IntVar(&deleteChunks, "chunks", 0, "with --document: number of chunks (default: scan the index)")
	vectorsCmd.AddCommand(vectorsListCmd, vectorsDeleteCmd)
}

func runVectorsList(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	req := storage.ListRequest{
		Bucket:         a.cfg.Store.Bucket,
		Index:          a.cfg.Store.Index,
		ReturnData:     listData,
		ReturnMetadata: true,
	}

	var records []storage.VectorRecord
	switch {
	case listSegments > 1:
		records, err = store.ListSegmented(cmd.Context(), req, listSegments)
	case listLimit > 0:
		req.MaxResults = min(listLimit, storage.MaxListPageSize)
		var page *storage.ListResponse
		for {
			page, err = store.ListVectors(cmd.Context(), req)
			if err != nil {
				break
			}
			records = append(records, page.Vectors...)
			if page.NextToken == "" || len(records) >= listLimit {
				break
			}
			req.NextToken = page.NextToken
		}
	default:
		records, err = store.ListAll(cmd.Context(), req)
	}
	if err != nil {
		return fmt.Errorf("list vectors: %w", err)
	}
	if listLimit > 0 && len(records) > listLimit {
		records = records[:listLimit]
	}
	if records == nil {
		records = []storage.VectorRecord{}
	}
	return a.print(records)
}

func runVectorsDelete(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if (len(args) > 0) == (deleteDoc != "") {
		return fmt.Errorf("%w: give either keys or --document", rag.ErrConfiguration)
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys := args
	if deleteDoc != "" {
		if keys, err = documentKeys(cmd, a, store); err != nil {
			return err
		}
	}
	if len(keys) == 0 {
		fmt.Println("Nothing to delete")
		return nil
	}

	for start := 0; start < len(keys); start += storage.MaxBatchSize {
		end := min(start+storage.MaxBatchSize, len(keys))
		if err := store.DeleteVectors(cmd.Context(), a.cfg.Store.Bucket, a.cfg.Store.Index, keys[start:end]); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	fmt.Printf("Deleted %d vectors from %s\n", len(keys), a.target())
	return nil
}

// documentKeys returns the chunk keys of --document. Without --chunks the
// index is scanned for the document's records.
func documentKeys(cmd *cobra.Command, a *app, store *storage.Client) ([]string, error) {
	n := deleteChunks
	if n <= 0 {
		records, err := store.ListAll(cmd.Context(), storage.ListRequest{
			Bucket:         a.cfg.Store.Bucket,
			Index:          a.cfg.Store.Index,
			ReturnMetadata: true,
		})
		if err != nil {
			return nil, fmt.Errorf("list vectors: %w", err)
		}
		prefix := deleteDoc + "-chunk-"
		var keys []string
		for _, r := range records {
			if doc, _ := r.Metadata[rag.MetaDocumentID].(string); doc == deleteDoc || (doc == "" && strings.HasPrefix(r.Key, prefix)) {
				keys = append(keys, r.Key)
			}
		}
		return keys, nil
	}
	keys := make([]string, n)
	for i := range n {
		keys[i] = rag.ChunkKey(deleteDoc, i)
	}
	return keys, nil
}
