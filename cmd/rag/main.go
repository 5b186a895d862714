// Package main provides the rag CLI: index setup, document ingestion and
// retrieval over a vector store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	outputFormat string
	bucketFlag   string
	indexFlag    string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "rag",
	Short: "Retrieval-augmented generation over a vector store",
	Long: `Chunk, embed and index documents, then retrieve the most relevant chunks
for a question.

Settings come from rag.yaml (or --config / RAG_CONFIG), overridden by
environment variables and flags.

Environment variables:
  RAG_STORE_BACKEND       qdrant, sqlite or memory (default: qdrant)
  RAG_BUCKET, RAG_INDEX   Target bucket and index
  QDRANT_HOST             Qdrant hostname (default: localhost)
  QDRANT_PORT             Qdrant gRPC port (default: 6334)
  RAG_EMBEDDING_PROVIDER  local or openai (default: local)
  RAG_MODEL_DIR           Local model directory
  RAG_WORKERS             Embedding workers (default: number of CPUs)
  OPENAI_API_KEY          OpenAI API key (openai provider and answers)
  GITHUB_TOKEN            GitHub token for higher rate limits (optional)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default: ./rag.yaml)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	flags.StringVarP(&bucketFlag, "bucket", "b", "", "vector bucket (overrides config)")
	flags.StringVarP(&indexFlag, "index", "i", "", "vector index (overrides config)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(initCmd, ingestCmd, queryCmd, askCmd, shellCmd, vectorsCmd, indexCmd, modelCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
