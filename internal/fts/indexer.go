package fts

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/logger"
)

// Source is the part of the cache the indexer reads from.
type Source interface {
	AllBookIDs(ctx context.Context) cache.IDSet
	FullTextDocument(ctx context.Context, bookID int64) (*cache.Document, error)
	SetChangeListener(ctx context.Context, fn func(cache.Change)) error
}

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	// Debounce collects changes for this long before indexing them.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Indexer keeps an Index in step with a library.
//
// Change notifications arrive under the library write lock, so the
// listener only records ids. A background goroutine later reads the books
// through the normal read API and indexes them.
type Indexer struct {
	idx    *Index
	src    Source
	opts   IndexerOptions
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int64]bool // true: reindex, false: delete
	notify  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIndexer creates an indexer. Call Start to follow changes.
func NewIndexer(idx *Index, src Source, opts IndexerOptions) *Indexer {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Indexer{
		idx:     idx,
		src:     src,
		opts:    opts,
		logger:  logger.OrDiscard(opts.Logger),
		pending: make(map[int64]bool),
		notify:  make(chan struct{}, 1),
	}
}

// Start subscribes to library changes and indexes them in the background.
func (ix *Indexer) Start(ctx context.Context) error {
	if err := ix.src.SetChangeListener(ctx, ix.enqueue); err != nil {
		return err
	}
	ctx, ix.cancel = context.WithCancel(ctx)
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ix.run(ctx)
	}()
	return nil
}

// Stop ends the background loop after indexing what is pending.
func (ix *Indexer) Stop() {
	if ix.cancel == nil {
		return
	}
	ix.cancel()
	ix.wg.Wait()
	ix.cancel = nil
	if err := ix.Flush(context.Background()); err != nil {
		ix.logger.Warn("final full-text flush failed", "error", err)
	}
}

func (ix *Indexer) enqueue(ch cache.Change) {
	ix.mu.Lock()
	for id := range ch.Dirtied {
		ix.pending[id] = true
	}
	for id := range ch.Removed {
		ix.pending[id] = false
	}
	ix.mu.Unlock()
	select {
	case ix.notify <- struct{}{}:
	default:
	}
}

func (ix *Indexer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.notify:
		}
		t := time.NewTimer(ix.opts.Debounce)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if err := ix.Flush(ctx); err != nil && ctx.Err() == nil {
			ix.logger.Warn("full-text indexing failed", "error", err)
		}
	}
}

// Pending returns the number of books waiting to be indexed.
func (ix *Indexer) Pending() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.pending)
}

// Flush indexes every pending change now.
func (ix *Indexer) Flush(ctx context.Context) error {
	ix.mu.Lock()
	work := ix.pending
	ix.pending = make(map[int64]bool)
	ix.mu.Unlock()
	if len(work) == 0 {
		return nil
	}

	var upsert []int64
	var remove []int64
	for _, id := range slices.Sorted(maps.Keys(work)) {
		if work[id] {
			upsert = append(upsert, id)
		} else {
			remove = append(remove, id)
		}
	}
	gone, err := ix.index(ctx, upsert)
	if err != nil {
		return err
	}
	if err := ix.idx.Delete(append(remove, gone...)...); err != nil {
		return err
	}
	ix.logger.Debug("full-text index updated", "indexed", len(upsert)-len(gone), "removed", len(remove)+len(gone))
	return nil
}

// index upserts books and returns those that no longer exist.
func (ix *Indexer) index(ctx context.Context, ids []int64) ([]int64, error) {
	docs := make([]*Document, 0, len(ids))
	var gone []int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := ix.src.FullTextDocument(ctx, id)
		if errors.Is(err, errors.ErrNotFound) {
			gone = append(gone, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, BuildDocument(src))
	}
	return gone, ix.idx.Upsert(docs...)
}

// Reconcile makes the index hold exactly the books of the library. It
// returns how many books were indexed and how many stale documents were
// dropped.
func (ix *Indexer) Reconcile(ctx context.Context) (int, int, error) {
	books := ix.src.AllBookIDs(ctx)
	indexed, err := ix.idx.BookIDs()
	if err != nil {
		return 0, 0, err
	}
	var stale []int64
	for _, id := range indexed {
		if !books.Has(id) {
			stale = append(stale, id)
		}
	}
	gone, err := ix.index(ctx, books.Sorted())
	if err != nil {
		return 0, 0, err
	}
	stale = append(stale, gone...)
	if err := ix.idx.Delete(stale...); err != nil {
		return 0, 0, err
	}
	n := len(books) - len(gone)
	ix.logger.Info("full-text index reconciled", "indexed", n, "removed", len(stale))
	return n, len(stale), nil
}
