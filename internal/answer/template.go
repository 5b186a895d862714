package answer

import (
	"context"
	"fmt"

	"github.com/bull/vector-rag/internal/query"
)

// Template renders the retrieved context without calling a model. It is
// used when no chat model is configured.
type Template struct{}

// Answer formats the query and context blocks.
func (Template) Answer(_ context.Context, rc *query.RetrievalContext) (string, error) {
	if rc.Empty() {
		return NoResults, nil
	}
	return fmt.Sprintf("Based on the retrieved context, here's a response to your query:\n\n"+
		"Query: %s\n\n"+
		"Context Summary:\n%s\n\n"+
		"[Note: configure an OpenAI API key to generate an answer from this context.]",
		rc.Query, rc.Assemble()), nil
}
