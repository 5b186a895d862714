package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bull/vector-rag/internal/config"
	"github.com/bull/vector-rag/internal/output"
	"github.com/bull/vector-rag/internal/storage"
)

// app is the per-command state shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	format output.Format
}

// setup loads configuration, applies global flags and builds the logger.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if bucketFlag != "" {
		cfg.Store.Bucket = bucketFlag
	}
	if indexFlag != "" {
		cfg.Store.Index = indexFlag
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("Loaded config", "path", path)
	}
	return &app{cfg: cfg, logger: logger, format: format}, nil
}

func (a *app) openStore() (*storage.Client, error) {
	store, err := a.cfg.OpenStore(a.logger)
	if err != nil {
		return nil, err
	}
	if a.cfg.Store.Backend == config.BackendMemory {
		a.logger.Warn("The memory backend does not persist between commands")
	}
	return store, nil
}

// print writes v in the selected format to stdout.
func (a *app) print(v any) error {
	return output.Print(os.Stdout, a.format, v)
}

// table reports whether human-readable progress lines should be printed.
func (a *app) table() bool {
	return a.format == output.FormatTable
}

func (a *app) target() string {
	return fmt.Sprintf("%s/%s", a.cfg.Store.Bucket, a.cfg.Store.Index)
}
