package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bull/vector-rag/internal/embedding"
)

var (
	modelDir   string
	modelRepo  string
	forceFetch bool
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the local embedding model",
}

var modelInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the sentence encoder used by the local provider",
	Long: `Downloads the tokenizer vocabulary, configuration and safetensors weights
of a sentence-transformers model from the Hugging Face hub. HF_TOKEN is
sent when set. Files already present are kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runModelInstall,
}

func init() {
	flags := modelInstallCmd.Flags()
	flags.StringVar(&modelDir, "dir", "", "target directory (default: embedding.model_dir)")
	flags.StringVar(&modelRepo, "repo", "", "hub repository (default: embedding.model_repo)")
	flags.BoolVarP(&forceFetch, "force", "f", false, "download files that already exist")
	modelCmd.AddCommand(modelInstallCmd)
}

func runModelInstall(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dir := modelDir
	if dir == "" {
		dir = a.cfg.Embedding.ModelDir
	}
	installer := embedding.NewInstaller(a.logger)
	if modelRepo != "" {
		installer.Repo = modelRepo
	} else if a.cfg.Embedding.ModelRepo != "" {
		installer.Repo = a.cfg.Embedding.ModelRepo
	}

	fmt.Printf("Installing %s into %s...\n", installer.Repo, dir)
	files, err := installer.Install(ctx, dir, forceFetch)
	if err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}

	model, err := embedding.LoadLocalModel(dir, a.logger)
	if err != nil {
		return fmt.Errorf("verify model: %w", err)
	}
	fmt.Println()
	fmt.Printf("Model ready: %s (%d dimensions, max %d tokens)\n", model.Name(), model.Dimension(), model.MaxSequenceLength())
	if model.Dimension() != a.cfg.Embedding.Dimension {
		fmt.Printf("Warning: embedding.dimension is %d; set it to %d to use this model\n", a.cfg.Embedding.Dimension, model.Dimension())
	}
	return nil
}
