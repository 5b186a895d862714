package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"

	"github.com/bull/vector-rag/internal/rag"
)

// NewGitHubClient creates a GitHub API client with rate limiting support.
// If token is empty, GITHUB_TOKEN is used when set.
// Rate limiting is automatically handled by waiting out the limit window.
func NewGitHubClient(token string) (*github.Client, error) {
	// Handles both primary rate limits (5000 req/hour authenticated, 60 unauthenticated)
	// and secondary rate limits (abuse detection) with automatic retry
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(rateLimiter)
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}

// GitHub reads documents from a directory of a GitHub repository.
type GitHub struct {
	client     *github.Client
	owner      string
	repo       string
	basePath   string
	ref        string
	extensions map[string]bool
}

// ParseGitHubPath splits "owner/repo[/path][@ref]".
func ParseGitHubPath(spec string) (owner, repo, basePath, ref string, err error) {
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		spec, ref = spec[:at], spec[at+1:]
	}
	parts := strings.SplitN(strings.Trim(spec, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", "", fmt.Errorf("%w: GitHub source %q must look like owner/repo[/path][@ref]",
			rag.ErrConfiguration, spec)
	}
	if len(parts) == 3 {
		basePath = parts[2]
	}
	return parts[0], parts[1], basePath, ref, nil
}

// NewGitHub creates a source for owner/repo under basePath. An empty ref
// reads the default branch.
func NewGitHub(client *github.Client, owner, repo, basePath, ref string, extensions ...string) *GitHub {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &GitHub{
		client:     client,
		owner:      owner,
		repo:       repo,
		basePath:   strings.Trim(basePath, "/"),
		ref:        ref,
		extensions: exts,
	}
}

// Name returns owner/repo/path.
func (g *GitHub) Name() string {
	return path.Join(g.owner, g.repo, g.basePath)
}

// ListDocuments lists matching files recursively and fetches each one.
func (g *GitHub) ListDocuments(ctx context.Context) ([]rag.Document, []rag.DocumentFailure, error) {
	paths, err := g.listRecursive(ctx, g.basePath, "")
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)

	docs := make([]rag.Document, 0, len(paths))
	var failures []rag.DocumentFailure
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		doc, err := g.fetch(ctx, rel)
		if err != nil {
			failures = append(failures, rag.DocumentFailure{
				DocumentID: rel,
				Reason:     fmt.Errorf("%w: %w", rag.ErrDocumentProcessing, err).Error(),
			})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failures, nil
}

// listRecursive traverses directories to find all matching files.
func (g *GitHub) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	_, dirContents, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, fullPath, g.options())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	var docs []string
	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}
		itemRelPath := path.Join(relativePath, *item.Name)

		switch *item.Type {
		case "file":
			if g.extensions[strings.ToLower(path.Ext(*item.Name))] {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := g.listRecursive(ctx, path.Join(fullPath, *item.Name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}
	return docs, nil
}

// fetch downloads one file. The document's source path is its raw URL.
func (g *GitHub) fetch(ctx context.Context, relativePath string) (rag.Document, error) {
	fullPath := path.Join(g.basePath, relativePath)

	fileContent, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, fullPath, g.options())
	if err != nil {
		return rag.Document{}, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return rag.Document{}, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return rag.Document{}, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	ref := g.ref
	if ref == "" {
		ref = "HEAD"
	}
	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", g.owner, g.repo, ref, fullPath)
	return NewDocument(relativePath, rawURL, []byte(content)), nil
}

func (g *GitHub) options() *github.RepositoryContentGetOptions {
	if g.ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: g.ref}
}
