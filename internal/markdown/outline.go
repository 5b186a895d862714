// Package markdown derives titles and header outlines from markdown
// documents so chunks can carry the section they were cut from.
package markdown

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Section is a headed region of a markdown document.
type Section struct {
	Index      int    // Position in document (0, 1, 2...)
	Level      int    // Heading level, 1 for "#"
	Title      string // Heading text
	HeaderPath string // Hierarchy: "# Doc Title > ## Section Name"
	Start      int    // Code point offset of the heading line
	Content    string // Section text up to the next heading of the same or higher level
}

// Outline is the ordered list of sections of one document.
type Outline struct {
	Title    string
	Sections []Section
}

// Parser builds outlines with a goldmark parser.
type Parser struct {
	md       goldmark.Markdown
	maxDepth int
}

// NewParser creates a parser that tracks headings up to maxDepth (H1..H3
// when maxDepth is 0).
func NewParser(maxDepth int) *Parser {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Parser{md: md, maxDepth: maxDepth}
}

// Parse builds the outline of source. Documents without headings yield an
// empty section list; the title then falls back to the first non-empty line.
func (p *Parser) Parse(source []byte) (*Outline, error) {
	reader := text.NewReader(source)
	doc := p.md.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(p.maxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	out := &Outline{}
	p.collectSections(doc, source, tree.Items, nil, &out.Sections)

	if len(out.Sections) > 0 {
		out.Title = out.Sections[0].Title
	} else {
		out.Title = firstLine(source)
	}
	return out, nil
}

// SectionAt returns the header path covering the given code point offset,
// or "" when the offset precedes the first heading.
func (o *Outline) SectionAt(offset int) string {
	i := sort.Search(len(o.Sections), func(i int) bool {
		return o.Sections[i].Start > offset
	})
	if i == 0 {
		return ""
	}
	return o.Sections[i-1].HeaderPath
}

// collectSections recursively walks TOC items in document order.
func (p *Parser) collectSections(doc ast.Node, source []byte, items toc.Items, ancestors []*ast.Heading, sections *[]Section) {
	for i, item := range items {
		node := findHeaderByID(doc, string(item.ID))
		if node == nil || node.Lines().Len() == 0 {
			continue
		}
		heading := node.(*ast.Heading)
		path := append(ancestors[:len(ancestors):len(ancestors)], heading)

		start := lineStart(source, heading.Lines().At(0).Start)
		var end int
		if i+1 < len(items) {
			if next := findHeaderByID(doc, string(items[i+1].ID)); next != nil && next.Lines().Len() > 0 {
				end = lineStart(source, next.Lines().At(0).Start)
			}
		} else {
			end = findNextHeaderBoundary(doc, source, heading)
		}
		if end <= start {
			end = len(source)
		}

		*sections = append(*sections, Section{
			Index:      len(*sections),
			Level:      heading.Level,
			Title:      string(item.Title),
			HeaderPath: formatHeaderPath(path, source),
			Start:      utf8.RuneCount(source[:start]),
			Content:    strings.TrimSpace(string(source[start:end])),
		})

		if len(item.Items) > 0 {
			p.collectSections(doc, source, item.Items, path, sections)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: [Installation, Prerequisites] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []*ast.Heading, source []byte) string {
	parts := make([]string, 0, len(path))
	for _, h := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", h.Level), headingText(h, source)))
	}
	return strings.Join(parts, " > ")
}

func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	for i := 0; i < h.Lines().Len(); i++ {
		seg := h.Lines().At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimSpace(buf.String())
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// findNextHeaderBoundary returns the byte offset of the next heading of the
// same or higher level after current, or len(source).
func findNextHeaderBoundary(root ast.Node, source []byte, current *ast.Heading) int {
	boundary := len(source)
	foundCurrent := false

	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if !foundCurrent {
			foundCurrent = n == current
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if heading.Level <= current.Level && heading.Lines().Len() > 0 {
			boundary = lineStart(source, heading.Lines().At(0).Start)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return boundary
}

// lineStart moves a byte offset back to the start of its line, so ATX
// markers and indentation belong to the section.
func lineStart(source []byte, offset int) int {
	if i := bytes.LastIndexByte(source[:offset], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

func firstLine(source []byte) string {
	for _, line := range strings.Split(string(source), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
