package fts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/logger"
)

// Index wraps a Bleve index of book documents.
//
// All methods are safe for concurrent use. The mutex keeps readers off the
// index while Rebuild swaps it.
type Index struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Options configures Open.
type Options struct {
	// Dir holds the index and its version file.
	Dir    string
	Logger *slog.Logger
}

// DefaultDir is where the index of a library is kept.
func DefaultDir(libraryPath string) string {
	return filepath.Join(libraryPath, backend.StateDir, "fts")
}

// mappingVersion changes whenever buildIndexMapping does. An index with
// another version is rebuilt on open.
const mappingVersion = "1"

// Open opens the index under opts.Dir, creating it when missing. An
// unreadable index or one with an old mapping is dropped and recreated;
// the caller is expected to reconcile it afterwards.
func Open(opts Options) (*Index, error) {
	log := logger.OrDiscard(opts.Logger)
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	indexPath := filepath.Join(opts.Dir, "books.bleve")
	versionPath := filepath.Join(opts.Dir, "books.version")

	var index bleve.Index
	needsRebuild := false
	_, statErr := os.Stat(indexPath)
	exists := statErr == nil

	if exists {
		v, err := os.ReadFile(versionPath)
		if err != nil || string(v) != mappingVersion {
			log.Info("full-text mapping changed, rebuilding",
				"old_version", string(v),
				"new_version", mappingVersion,
			)
			needsRebuild = true
		}
	}
	if exists && !needsRebuild {
		var err error
		if index, err = bleve.Open(indexPath); err != nil {
			log.Warn("failed to open full-text index, recreating", "path", indexPath, "error", err)
			needsRebuild = true
		}
	}
	if needsRebuild {
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("remove old index: %w", err)
		}
		index = nil
	}

	if index == nil {
		var err error
		if index, err = bleve.New(indexPath, buildIndexMapping()); err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
			log.Warn("failed to write full-text version file", "error", err)
		}
		log.Info("created full-text index", "path", indexPath, "mapping_version", mappingVersion)
	} else {
		log.Debug("opened full-text index", "path", indexPath)
	}

	return &Index{index: index, path: indexPath, logger: log}, nil
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}

// Upsert indexes documents in batches.
func (x *Index) Upsert(docs ...*Document) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	const batchSize = 200
	for i := 0; i < len(docs); i += batchSize {
		end := min(i+batchSize, len(docs))
		batch := x.index.NewBatch()
		for _, d := range docs[i:end] {
			if err := batch.Index(docID(d.BookID), d.toMap()); err != nil {
				return fmt.Errorf("batch index %d: %w", d.BookID, err)
			}
		}
		if err := x.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// Delete removes books from the index.
func (x *Index) Delete(bookIDs ...int64) error {
	if len(bookIDs) == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	batch := x.index.NewBatch()
	for _, id := range bookIDs {
		batch.Delete(docID(id))
	}
	return x.index.Batch(batch)
}

// DocCount returns the number of indexed books.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

// BookIDs returns every indexed book.
func (x *Index) BookIDs() ([]int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n, err := x.index.DocCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	ids := make([]int64, 0, len(res.Hits))
	for _, h := range res.Hits {
		if id, ok := parseDocID(h.ID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Rebuild drops every document.
func (x *Index) Rebuild() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.RemoveAll(x.path); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}
	index, err := bleve.New(x.path, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	x.index = index
	x.logger.Info("rebuilt full-text index", "path", x.path)
	return nil
}
