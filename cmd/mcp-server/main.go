// Package main provides the MCP server entry point for retrieval over the
// configured vector index.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/config"
	mcpserver "github.com/bull/vector-rag/internal/mcp"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, _, err := config.Load(os.Getenv("RAG_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// stdout carries the stdio transport, so logs go to stderr
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	port := getEnv("PORT", "8080")
	serverMode := getEnv("SERVER_MODE", "false") == "true"

	store, err := cfg.OpenStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	spec, err := cfg.IndexSpec()
	if err != nil {
		return err
	}
	if _, err := store.EnsureIndex(ctx, spec); err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}

	engine, err := cfg.QueryEngine(store, logger)
	if err != nil {
		return fmt.Errorf("failed to load query encoder: %w", err)
	}

	// The ask tool is only offered when answers come from the chat API
	var answerer answer.Answerer
	if getEnv("MCP_ENABLE_ASK", "true") == "true" {
		if a, err := cfg.Answerer(logger); err != nil {
			return err
		} else if _, isTemplate := a.(answer.Template); !isTemplate {
			answerer = a
		}
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Store:    store,
		Engine:   engine,
		Answerer: answerer,
		Bucket:   cfg.Store.Bucket,
		Index:    cfg.Store.Index,
		Logger:   logger,
	})

	health := mcpserver.NewHealthHandler(store, cfg.Store.Backend)
	mux := mcpserver.NewMux(server, health, &mcpserver.HTTPHandlerOptions{Stateless: true})
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if serverMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health",
			"bucket", cfg.Store.Bucket, "index", cfg.Store.Index)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients
	// Also start HTTP health endpoint in background for local testing
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting MCP server (stdio mode)", "bucket", cfg.Store.Bucket, "index", cfg.Store.Index)
	return server.Run(ctx)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
