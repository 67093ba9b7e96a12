package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/fts"
	"github.com/listenupapp/folio/internal/logger"
)

// FullTextHandle owns the full-text index and the indexer feeding it.
type FullTextHandle struct {
	*fts.Index
	Indexer *fts.Indexer
}

// Shutdown implements do.Shutdownable.
func (h *FullTextHandle) Shutdown() error {
	h.Indexer.Stop()
	return h.Close()
}

// ProvideFullText opens the index and starts following library changes.
func ProvideFullText(i do.Injector) (*FullTextHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	lib := do.MustInvoke[*CacheHandle](i)

	ftsLog := log.WithComponent("fts").Logger
	index, err := fts.Open(fts.Options{Dir: fts.DefaultDir(cfg.Library.Path), Logger: ftsLog})
	if err != nil {
		return nil, err
	}

	ix := fts.NewIndexer(index, lib.Cache, fts.IndexerOptions{Logger: ftsLog})
	if err := ix.Start(context.Background()); err != nil {
		_ = index.Close()
		return nil, err
	}

	docCount, _ := index.DocCount()
	log.Info("Full-text index initialized", "documents", docCount)

	return &FullTextHandle{Index: index, Indexer: ix}, nil
}
