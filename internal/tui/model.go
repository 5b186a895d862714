// Package tui is the interactive query shell.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bull/vector-rag/internal/answer"
	"github.com/bull/vector-rag/internal/query"
)

// Searcher is the shell-facing subset of the query engine.
type Searcher interface {
	Search(ctx context.Context, text string, opts query.Options) (*query.RetrievalContext, error)
}

// Model is the Bubble Tea model for the query shell.
type Model struct {
	ctx      context.Context
	searcher Searcher
	answerer answer.Answerer // nil disables answers
	topK     int

	input    textinput.Model
	viewport viewport.Model
	result   *query.RetrievalContext
	answer   string
	summary  string
	status   string
	cursor   int
	busy     bool
	ready    bool
}

// searchDoneMsg carries the outcome of a search started from Update.
type searchDoneMsg struct {
	result *query.RetrievalContext
	answer string
	err    error
}

// New creates the shell. summary is shown under the header.
func New(ctx context.Context, searcher Searcher, answerer answer.Answerer, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if topK < 1 {
		topK = query.DefaultTopK
	}
	return Model{
		ctx:      ctx,
		searcher: searcher,
		answerer: answerer,
		topK:     topK,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready. Type a query, up/down to browse results, Ctrl+C to quit.",
	}
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and search events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil

	case searchDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			if query.IsEmptyIndex(msg.err) {
				m.status = "The index is empty. Run rag ingest first."
			}
			m.result, m.answer = nil, ""
		} else {
			m.result, m.answer, m.cursor = msg.result, msg.answer, 0
			m.status = fmt.Sprintf("%d results for %q in %s", len(msg.result.Snippets), msg.result.Query, msg.result.Duration.Round(time.Millisecond))
		}
		m.viewport.SetContent(m.renderCurrent())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Searching..."
			return m, m.search(q)
		case "down":
			if m.result != nil && len(m.result.Snippets) > 0 {
				m.cursor = (m.cursor + 1) % len(m.result.Snippets)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if m.result != nil && len(m.result.Snippets) > 0 {
				m.cursor = (m.cursor - 1 + len(m.result.Snippets)) % len(m.result.Snippets)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// search runs retrieval, and the answerer if one is set, off the UI loop.
func (m Model) search(q string) tea.Cmd {
	ctx, searcher, answerer, topK := m.ctx, m.searcher, m.answerer, m.topK
	return func() tea.Msg {
		rc, err := searcher.Search(ctx, q, query.Options{TopK: topK})
		if err != nil {
			return searchDoneMsg{err: err}
		}
		if answerer == nil {
			return searchDoneMsg{result: rc}
		}
		text, err := answerer.Answer(ctx, rc)
		if err != nil {
			return searchDoneMsg{err: fmt.Errorf("generate answer: %w", err)}
		}
		return searchDoneMsg{result: rc, answer: text}
	}
}

// View renders the layout and the current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Query Shell")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if m.result == nil || m.result.Empty() {
		return "No results yet."
	}
	s := m.result.Snippets[m.cursor]

	var b strings.Builder
	if m.answer != "" {
		b.WriteString(answerStyle.Render(m.answer))
		b.WriteString("\n\n")
	}
	title := fmt.Sprintf("Result %d/%d", m.cursor+1, len(m.result.Snippets))
	if s.Score != nil {
		title += fmt.Sprintf("  score=%.3f", *s.Score)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteByte('\n')
	source := s.SourcePath
	if source == "" {
		source = s.Key
	}
	b.WriteString(sourceStyle.Render(source))
	if s.Section != "" {
		b.WriteString(sourceStyle.Render("  " + s.Section))
	}
	b.WriteString("\n\n")
	b.WriteString(highlightBestSentence(s.Text, m.result.Query))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	titleStyle     = lipgloss.NewStyle().Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	wordRe         = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence sharing the most words
// with the query.
func highlightBestSentence(text, q string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(q)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func overlap(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range wordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
