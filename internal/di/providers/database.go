package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/collate"
	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/logger"
)

// CacheHandle wraps the library cache with shutdown capability.
type CacheHandle struct {
	*cache.Cache
}

// Shutdown implements do.Shutdownable.
func (h *CacheHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Close(ctx)
}

// ProvideCache opens the configured library.
func ProvideCache(i do.Injector) (*CacheHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	c, err := cache.Open(context.Background(), CacheOptions(cfg, log))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	log.Info("Library opened",
		"path", cfg.Library.Path,
		"books", len(c.AllBookIDs(ctx)),
		"dirty", c.DirtyQueueLength(ctx),
	)

	return &CacheHandle{Cache: c}, nil
}

// CacheOptions builds cache options from the configuration. The CLI uses it
// to open a library without a container.
func CacheOptions(cfg *config.Config, log *logger.Logger) cache.Options {
	opts := cache.Options{
		LibraryPath: cfg.Library.Path,
		Locale:      cfg.Library.Locale,
		Logger:      log.WithLibrary(cfg.Library.Path).WithComponent("cache").Logger,
	}
	if !cfg.Library.UsePrimaryCollation {
		opts.Collator = collate.NewStub()
	}
	return opts
}
