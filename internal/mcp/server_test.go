package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
)

const (
	testBucket = "test-bucket"
	testIndex  = "test-index"
)

type fakeSearcher struct {
	err      error
	lastOpts query.Options
}

func (f *fakeSearcher) Search(_ context.Context, text string, opts query.Options) (*query.RetrievalContext, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	score := float32(0.9)
	rc := &query.RetrievalContext{Query: text, TopK: opts.TopK}
	for i := range min(opts.TopK, 2) {
		rc.Snippets = append(rc.Snippets, query.Snippet{
			Rank: i + 1, Key: rag.ChunkKey("guide.md", i), Score: &score,
			DocumentID: "guide.md", ChunkIndex: i, SourcePath: "docs/guide.md",
			Text: fmt.Sprintf("chunk %d", i),
		})
	}
	return rc, nil
}

type echoAnswerer struct{}

func (echoAnswerer) Answer(_ context.Context, rc *query.RetrievalContext) (string, error) {
	return "answer to " + rc.Query, nil
}

func newTestStore(t *testing.T, records int) *storage.Client {
	t.Helper()
	ctx := context.Background()
	store := storage.NewClient(storage.NewMemoryStorage(), storage.DefaultRetryPolicy(), nil)
	_, err := store.EnsureIndex(ctx, storage.IndexSpec{Bucket: testBucket, Name: testIndex, Dimension: 2, Metric: storage.DistanceCosine})
	require.NoError(t, err)
	var batch []storage.VectorRecord
	for i := range records {
		batch = append(batch, storage.VectorRecord{
			Key:  rag.ChunkKey("guide.md", i),
			Data: []float32{1, float32(i)},
			Metadata: map[string]any{
				rag.MetaDocumentID: "guide.md",
				rag.MetaChunkIndex: i,
				rag.MetaSourcePath: "docs/guide.md",
			},
		})
	}
	if len(batch) > 0 {
		require.NoError(t, store.PutVectors(ctx, testBucket, testIndex, batch))
	}
	return store
}

// connect runs the server over in-memory transports and returns a client session.
func connect(t *testing.T, cfg *Config) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(cfg)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := server.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool[T any](t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	var out T
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if res.IsError {
		return out, res
	}
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	return out, res
}

func TestSearchContext(t *testing.T) {
	searcher := &fakeSearcher{}
	cs := connect(t, &Config{Store: newTestStore(t, 0), Engine: searcher, Bucket: testBucket, Index: testIndex})

	out, _ := callTool[SearchContextOutput](t, cs, "search_context", map[string]any{
		"query": "how do I install", "top_k": 500, "document_id": "guide.md",
	})

	assert.Equal(t, maxTopK, searcher.lastOpts.TopK)
	assert.Equal(t, storage.Filter{rag.MetaDocumentID: "guide.md"}, searcher.lastOpts.Filter)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "guide.md-chunk-0", out.Results[0].Key)
	assert.InDelta(t, 0.9, out.Results[0].Score, 1e-6)
	assert.Contains(t, out.Context, "[Document 1] (docs/guide.md)")
}

func TestSearchContext_EmptyIndexIsNotAnError(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("search: %w", rag.ErrEmptyIndex)}
	cs := connect(t, &Config{Store: newTestStore(t, 0), Engine: searcher, Bucket: testBucket, Index: testIndex})

	out, res := callTool[SearchContextOutput](t, cs, "search_context", map[string]any{"query": "anything"})
	assert.False(t, res.IsError)
	assert.Empty(t, out.Results)
	assert.Equal(t, emptyIndexMessage, out.Message)
	assert.Equal(t, query.DefaultTopK, searcher.lastOpts.TopK)
}

func TestSearchContext_FailureIsToolError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("store offline")}
	cs := connect(t, &Config{Store: newTestStore(t, 0), Engine: searcher, Bucket: testBucket, Index: testIndex})

	_, res := callTool[SearchContextOutput](t, cs, "search_context", map[string]any{"query": "anything"})
	assert.True(t, res.IsError)
}

func TestAsk_RegisteredOnlyWithAnswerer(t *testing.T) {
	store := newTestStore(t, 0)

	cs := connect(t, &Config{Store: store, Engine: &fakeSearcher{}, Bucket: testBucket, Index: testIndex})
	tools, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search_context", "list_vectors", "get_index_status"}, names)

	cs = connect(t, &Config{Store: store, Engine: &fakeSearcher{}, Answerer: echoAnswerer{}, Bucket: testBucket, Index: testIndex})
	out, _ := callTool[AskOutput](t, cs, "ask", map[string]any{"question": "what is it"})
	assert.Equal(t, "answer to what is it", out.Answer)
	assert.Equal(t, []string{"docs/guide.md"}, out.Sources)
}

func TestListVectors_Pages(t *testing.T) {
	cs := connect(t, &Config{Store: newTestStore(t, 5), Engine: &fakeSearcher{}, Bucket: testBucket, Index: testIndex})

	seen := map[string]bool{}
	token := ""
	for range 5 {
		args := map[string]any{"max_results": 2}
		if token != "" {
			args["next_token"] = token
		}
		out, res := callTool[ListVectorsOutput](t, cs, "list_vectors", args)
		require.False(t, res.IsError)
		assert.LessOrEqual(t, out.Count, 2)
		for _, v := range out.Vectors {
			seen[v.Key] = true
			assert.Equal(t, "guide.md", v.DocumentID)
		}
		token = out.NextToken
		if token == "" {
			break
		}
	}
	assert.Len(t, seen, 5)
}

func TestGetIndexStatus(t *testing.T) {
	cs := connect(t, &Config{Store: newTestStore(t, 3), Engine: &fakeSearcher{}, Bucket: testBucket, Index: testIndex})
	out, _ := callTool[StatusOutput](t, cs, "get_index_status", map[string]any{})
	assert.Equal(t, int64(3), out.VectorCount)
	assert.Equal(t, 2, out.Dimension)
	assert.Equal(t, "cosine", out.Metric)
	assert.Empty(t, out.Warning)

	cs = connect(t, &Config{Store: newTestStore(t, 0), Engine: &fakeSearcher{}, Bucket: testBucket, Index: testIndex})
	out, _ = callTool[StatusOutput](t, cs, "get_index_status", map[string]any{})
	assert.Equal(t, emptyIndexMessage, out.Warning)
}

type healthFunc func(context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(healthFunc(func(context.Context) error { return nil }), "memory")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "memory", resp.Backend)

	rec = httptest.NewRecorder()
	NewHealthHandler(healthFunc(func(context.Context) error { return errors.New("down") }), "qdrant")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "disconnected", resp.Store)
}

func TestMux_LandingPage(t *testing.T) {
	server := NewServer(&Config{Store: newTestStore(t, 0), Engine: &fakeSearcher{}, Bucket: testBucket, Index: testIndex})
	mux := NewMux(server, NewHealthHandler(healthFunc(func(context.Context) error { return nil }), "memory"), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-bucket/test-index")
	assert.Contains(t, rec.Body.String(), "search_context")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
