// Package di provides dependency injection configuration for the Folio daemon.
package di

import (
	"context"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/di/providers"
	"github.com/listenupapp/folio/internal/logger"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer(o config.Overrides) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig(o))
	do.Provide(injector, providers.ProvideLogger)

	// Library
	do.Provide(injector, providers.ProvideCache)
	do.Provide(injector, providers.ProvideFullText)

	// Workers
	do.Provide(injector, providers.ProvideBackupWorker)
	do.Provide(injector, providers.ProvideAutoAdd)
	do.Provide(injector, providers.ProvideMaintenanceJob)

	return injector
}

// Bootstrap opens the library and starts the enabled workers. The workers
// come up in parallel once the library is open.
func Bootstrap(ctx context.Context, injector *do.RootScope) error {
	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return err
	}
	log, err := do.Invoke[*logger.Logger](injector)
	if err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.CacheHandle](injector); err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	if cfg.Search.FullText {
		g.Go(func() error {
			ft, err := do.Invoke[*providers.FullTextHandle](injector)
			if err != nil {
				return err
			}
			// An index created or rebuilt on open starts empty.
			go func() {
				if _, _, err := ft.Indexer.Reconcile(context.Background()); err != nil {
					log.WithError(err).Error("Initial full-text reconcile failed")
				}
			}()
			return nil
		})
	}
	if cfg.Backup.Enabled {
		g.Go(func() error {
			_, err := do.Invoke[*providers.BackupWorkerHandle](injector)
			return err
		})
	}
	if cfg.AutoAdd.Path != "" {
		g.Go(func() error {
			_, err := do.Invoke[*providers.AutoAddHandle](injector)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if cfg.Maintenance.Schedule != "" {
		if _, err := do.Invoke[*providers.MaintenanceJob](injector); err != nil {
			return err
		}
	}
	return nil
}
