// Package answer turns a retrieval context into a response for the user.
package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"

	"github.com/bull/vector-rag/internal/query"
)

// DefaultMaxTokens is the maximum context length before truncation (in tokens).
const DefaultMaxTokens = 16000

// NoResults is the response for a query that retrieved nothing.
const NoResults = "No relevant documents found for your query."

// Answerer produces a response from retrieved context.
type Answerer interface {
	Answer(ctx context.Context, rc *query.RetrievalContext) (string, error)
}

// Generator answers with an OpenAI chat model grounded on the context.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates an answer generator with the given OpenAI client.
// An empty model uses GPT-4o; maxTokens <= 0 uses DefaultMaxTokens.
func NewGenerator(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *Generator {
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, model: model, maxTokens: maxTokens, logger: logger}
}

// Answer asks the model to answer rc.Query from the assembled context.
func (g *Generator) Answer(ctx context.Context, rc *query.RetrievalContext) (string, error) {
	if rc.Empty() {
		return NoResults, nil
	}

	prompt := fmt.Sprintf(`Answer the question using only the numbered documents below.
Cite the documents you used as [Document N]. If the documents do not contain
the answer, say so.

Question: %s

Documents:
%s`, rc.Query, g.truncateContent(rc.Assemble()))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a retrieval-augmented assistant. Be concise and factual."),
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	if len(content) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating context",
		"from_chars", len(content), "to_chars", maxChars, "max_tokens", g.maxTokens)

	// Back up to a rune boundary so the prompt stays valid UTF-8.
	cut := maxChars
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
