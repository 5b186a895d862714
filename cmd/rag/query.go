package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/query"
	"github.com/bull/vector-rag/internal/rag"
	"github.com/bull/vector-rag/internal/storage"
	"github.com/bull/vector-rag/internal/tui"
)

var (
	topKFlag     int
	filterDoc    string
	showContext  bool
	useTemplate  bool
	shellAnswers bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the chunks most similar to a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the retrieved chunks",
	Long: `Retrieves the most similar chunks and answers the question with them as
context. With OPENAI_API_KEY set the answer is generated by the chat
completions API; otherwise (or with --template) the retrieved context is
returned in a fixed layout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive query shell",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, askCmd, shellCmd} {
		c.Flags().IntVarP(&topKFlag, "top-k", "k", 0, "number of chunks to retrieve (default: config)")
	}
	queryCmd.Flags().StringVar(&filterDoc, "document", "", "only search chunks of this document ID")
	queryCmd.Flags().BoolVar(&showContext, "context", false, "print the assembled prompt context instead of a table")
	askCmd.Flags().BoolVar(&useTemplate, "template", false, "do not call the chat API")
	shellCmd.Flags().BoolVar(&shellAnswers, "answer", false, "generate an answer for every query")
}

// newEngine opens the store and builds the query engine.
func newEngine(a *app) (*query.Engine, *storage.Client, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	engine, err := a.cfg.QueryEngine(store, a.logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, store, nil
}

func (a *app) topK() int {
	if topKFlag > 0 {
		return topKFlag
	}
	return a.cfg.Query.TopK
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	engine, store, err := newEngine(a)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := query.Options{TopK: a.topK()}
	if filterDoc != "" {
		opts.Filter = storage.Filter{rag.MetaDocumentID: filterDoc}
	}
	rc, err := engine.Search(cmd.Context(), strings.Join(args, " "), opts)
	if err != nil {
		return emptyIndexHint(a, err)
	}
	if showContext {
		fmt.Println(rc.Assemble())
		return nil
	}
	return a.print(rc)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	engine, store, err := newEngine(a)
	if err != nil {
		return err
	}
	defer store.Close()

	var answerer answer.Answerer = answer.Template{}
	if !useTemplate {
		if answerer, err = a.cfg.Answerer(a.logger); err != nil {
			return err
		}
	}

	rc, err := engine.Search(cmd.Context(), strings.Join(args, " "), query.Options{TopK: a.topK()})
	if err != nil {
		return emptyIndexHint(a, err)
	}
	text, err := answerer.Answer(cmd.Context(), rc)
	if err != nil {
		return fmt.Errorf("generate answer: %w", err)
	}

	if a.table() {
		fmt.Println(text)
		return nil
	}
	return a.print(struct {
		Question string                  `json:"question" yaml:"question"`
		Answer   string                  `json:"answer" yaml:"answer"`
		Context  *query.RetrievalContext `json:"context" yaml:"context"`
	}{rc.Query, text, rc})
}

func runShell(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	engine, store, err := newEngine(a)
	if err != nil {
		return err
	}
	defer store.Close()

	var answerer answer.Answerer
	if shellAnswers {
		if answerer, err = a.cfg.Answerer(a.logger); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%s  (%s, top %d)", a.target(), a.cfg.Store.Backend, a.topK())
	model := tui.New(cmd.Context(), engine, answerer, a.topK(), summary)
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}

func emptyIndexHint(a *app, err error) error {
	if query.IsEmptyIndex(err) {
		return fmt.Errorf("index %s is empty. Run: rag ingest <directory>", a.target())
	}
	return err
}
