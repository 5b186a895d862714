package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. The retrieval tools never call
	// back into the client, so cmd/mcp-server runs stateless by default.
	Stateless bool
}

// NewHTTPHandler serves the server over Streamable HTTP. Mount it at /mcp:
//
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", mcp.NewHTTPHandler(server, &mcp.HTTPHandlerOptions{Stateless: true}))
//	mux.HandleFunc("/health", mcp.NewHealthHandler(store, "qdrant"))
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: opts.Stateless})
}

// NewMux mounts the landing page, the health check and the MCP endpoint.
func NewMux(server *Server, health http.HandlerFunc, opts *HTTPHandlerOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", NewLandingHandler(server.Landing()))
	mux.HandleFunc("/health", health)
	mux.Handle("/mcp", NewHTTPHandler(server, opts))
	return mux
}
