package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/storage"
)

// Version is reported to MCP clients.
const Version = "v0.1.0"

// Searcher is the query engine as seen by the tool handlers.
type Searcher interface {
	Search(ctx context.Context, text string, opts query.Options) (*query.RetrievalContext, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	landing LandingInfo
}

// Config holds server dependencies.
type Config struct {
	Store    *storage.Client
	Engine   Searcher
	Answerer answer.Answerer // Optional; registers the ask tool when set
	Bucket   string
	Index    string
	Logger   *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	impl := &mcp.Implementation{
		Name:    "vector-rag",
		Version: Version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_context",
		Description: "Semantic search over the indexed documents. Returns the most similar chunks with their source and a ready-to-use context block.",
	}, makeSearchHandler(cfg.Engine, logger))

	if cfg.Answerer != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "ask",
			Description: "Answer a question using only the indexed documents as context.",
		}, makeAskHandler(cfg.Engine, cfg.Answerer, logger))
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_vectors",
		Description: "List stored chunk vectors page by page. Returns keys and document metadata, not vector data.",
	}, makeListHandler(cfg.Store, cfg.Bucket, cfg.Index))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get the dimension, distance metric and vector count of the served index.",
	}, makeStatusHandler(cfg.Store, cfg.Bucket, cfg.Index))

	tools := []string{"search_context", "list_vectors", "get_index_status"}
	if cfg.Answerer != nil {
		tools = append(tools, "ask")
	}
	return &Server{
		server:  server,
		landing: LandingInfo{Bucket: cfg.Bucket, Index: cfg.Index, Tools: tools},
	}
}

// Landing describes the server for the landing page.
func (s *Server) Landing() LandingInfo {
	return s.landing
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
