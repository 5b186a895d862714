// Package source supplies documents from a directory tree or a GitHub
// repository.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bull/vector-rag/internal/rag"
)

// Source lists the documents of a corpus. Unreadable documents are reported
// as failures alongside the documents that could be read.
type Source interface {
	ListDocuments(ctx context.Context) ([]rag.Document, []rag.DocumentFailure, error)
	Name() string
}

// DefaultExtensions are the file types ingested when none are configured.
var DefaultExtensions = []string{".txt", ".md"}

var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"target":       {},
}

// Local reads documents from a directory tree.
type Local struct {
	root       string
	extensions map[string]bool
}

// NewLocal creates a source rooted at dir. An empty extension list uses
// DefaultExtensions.
func NewLocal(dir string, extensions ...string) (*Local, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: document directory: %w", rag.ErrConfiguration, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", rag.ErrConfiguration, dir)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[strings.ToLower(e)] = true
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs, extensions: exts}, nil
}

// Name returns the root directory.
func (l *Local) Name() string { return l.root }

// ListDocuments walks the tree and reads every matching file, sorted by ID.
// Document IDs are slash-separated paths relative to the root.
func (l *Local) ListDocuments(ctx context.Context) ([]rag.Document, []rag.DocumentFailure, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == l.root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && p != l.root {
				return filepath.SkipDir
			}
			return nil
		}
		if l.extensions[strings.ToLower(filepath.Ext(p))] {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	sort.Strings(paths)

	docs := make([]rag.Document, 0, len(paths))
	var failures []rag.DocumentFailure
	for _, p := range paths {
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return nil, nil, err
		}
		id := filepath.ToSlash(rel)

		data, err := os.ReadFile(p)
		if err != nil {
			failures = append(failures, rag.DocumentFailure{
				DocumentID: id,
				Reason:     fmt.Errorf("%w: read: %w", rag.ErrDocumentProcessing, err).Error(),
			})
			continue
		}
		docs = append(docs, NewDocument(id, p, data))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, failures, nil
}

// NewDocument builds a document from raw bytes. The file type is the
// extension without its dot; text files are titled by their base name.
func NewDocument(id, sourcePath string, data []byte) rag.Document {
	ext := strings.ToLower(path.Ext(id))
	doc := rag.Document{
		ID:         id,
		SourcePath: sourcePath,
		FileType:   strings.TrimPrefix(ext, "."),
		Text:       string(data),
	}
	if doc.FileType != "md" {
		doc.Title = strings.TrimSuffix(path.Base(id), path.Ext(id))
	}
	return doc
}
