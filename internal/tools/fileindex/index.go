package fileindex

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve"
)

// maxIndexedBytes caps how much of a file gets indexed.
const maxIndexedBytes = 256 * 1024

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".go": true, ".js": true,
	".ts": true, ".sh": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".csv": true, ".html": true, ".css": true, ".sql": true,
	".rb": true, ".rs": true, ".c": true, ".h": true, ".java": true,
}

type document struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Hit is one file matching a search.
type Hit struct {
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	Fragment string  `json:"fragment"`
}

// Index is a full-text index over the text files in a workspace directory.
type Index struct {
	root   string
	idx    bleve.Index
	logger *log.Logger
}

// Open creates or reuses a bleve index stored under root/.localmind-index.
func Open(root string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(abs, ".localmind-index")
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening file index: %w", err)
	}
	return &Index{root: abs, idx: idx, logger: log.New(log.Writer(), "[INDEX] ", log.LstdFlags)}, nil
}

// OpenMemory builds an in-memory index over root, for tests and one-shot runs.
func OpenMemory(root string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("opening file index: %w", err)
	}
	return &Index{root: abs, idx: idx, logger: log.New(log.Writer(), "[INDEX] ", log.LstdFlags)}, nil
}

// Close releases the underlying index.
func (x *Index) Close() error { return x.idx.Close() }

// Reindex walks the workspace and (re)indexes every text file, then drops
// entries for files that no longer exist. Hidden directories and oversized
// files are skipped.
func (x *Index) Reindex(ctx context.Context) (int, error) {
	seen := make(map[string]bool)
	count := 0
	err := filepath.Walk(x.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := info.Name()
		if info.IsDir() {
			if strings.HasPrefix(name, ".") && path != x.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !textExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if info.Size() > maxIndexedBytes {
			return nil
		}
		rel, err := filepath.Rel(x.root, path)
		if err != nil {
			return nil
		}
		if err := x.IndexFile(rel); err != nil {
			x.logger.Printf("indexing %s: %v", rel, err)
			return nil
		}
		seen[rel] = true
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	if err := x.prune(ctx, seen); err != nil {
		x.logger.Printf("pruning stale entries: %v", err)
	}
	return count, nil
}

// prune removes index entries whose files vanished since the last walk.
func (x *Index) prune(ctx context.Context, seen map[string]bool) error {
	total, err := x.idx.DocCount()
	if err != nil {
		return err
	}
	if int(total) <= len(seen) {
		return nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(total), 0, false)
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return err
	}
	for _, h := range res.Hits {
		if !seen[h.ID] {
			if err := x.Remove(h.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// IndexFile adds or refreshes a single file by its workspace-relative path.
func (x *Index) IndexFile(rel string) error {
	data, err := os.ReadFile(filepath.Join(x.root, rel))
	if err != nil {
		return err
	}
	return x.idx.Index(rel, document{Path: rel, Name: filepath.Base(rel), Content: string(data)})
}

// Remove drops a file from the index.
func (x *Index) Remove(rel string) error { return x.idx.Delete(rel) }

// Search runs a query string search and returns up to limit hits with
// content fragments.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Highlight = bleve.NewHighlight()
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		fragment := ""
		if frags, ok := h.Fragments["content"]; ok && len(frags) > 0 {
			fragment = frags[0]
		}
		hits = append(hits, Hit{Path: h.ID, Score: h.Score, Fragment: fragment})
	}
	return hits, nil
}
