package providers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/do/v2"

	"github.com/listenupapp/folio/internal/autoadd"
	"github.com/listenupapp/folio/internal/backup"
	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/logger"
	"github.com/listenupapp/folio/internal/metadata"
)

// shutdownTimeout bounds how long a handle waits for its work to stop.
const shutdownTimeout = 30 * time.Second

// BackupWorkerHandle wraps the OPF backup worker with shutdown capability.
type BackupWorkerHandle struct {
	*backup.Worker
	log *logger.Logger
}

// Shutdown implements do.Shutdownable. Books still dirty are written before
// the worker returns.
func (h *BackupWorkerHandle) Shutdown() error {
	h.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	n, err := h.Drain(ctx)
	if n > 0 {
		h.log.Info("Wrote remaining metadata backups", "count", n)
	}
	return err
}

// ProvideBackupWorker provides the OPF backup worker and starts it.
func ProvideBackupWorker(i do.Injector) (*BackupWorkerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	lib := do.MustInvoke[*CacheHandle](i)

	w := backup.New(lib.Cache, backup.Options{
		Interval:           cfg.Backup.Interval,
		SchedulingInterval: cfg.Backup.SchedulingInterval,
		Serialize:          metadata.ToOPF,
		Logger:             log.WithComponent("backup").Logger,
	})
	w.Start(context.Background())

	log.Info("Metadata backup worker started", "interval", cfg.Backup.Interval)

	return &BackupWorkerHandle{Worker: w, log: log}, nil
}

// AutoAddHandle wraps the auto-add folder watcher with shutdown capability.
type AutoAddHandle struct {
	*autoadd.Adder
}

// Shutdown implements do.Shutdownable.
func (h *AutoAddHandle) Shutdown() error {
	return h.Stop()
}

// ProvideAutoAdd provides the auto-add folder watcher and starts it.
func ProvideAutoAdd(i do.Injector) (*AutoAddHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	lib := do.MustInvoke[*CacheHandle](i)

	a, err := autoadd.New(lib.Cache, autoadd.Options{
		Dir:             cfg.AutoAdd.Path,
		AllowDuplicates: cfg.AutoAdd.AllowDuplicates,
		SettleDelay:     cfg.AutoAdd.SettleDelay,
		ApplyDefaults:   true,
		Logger:          log.WithComponent("autoadd").Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop()
		return nil, err
	}

	log.Info("Auto-add folder watched", "path", cfg.AutoAdd.Path)

	return &AutoAddHandle{Adder: a}, nil
}

// MaintenanceJob runs periodic library upkeep on a cron schedule.
type MaintenanceJob struct {
	cron *cron.Cron
}

// Shutdown implements do.Shutdownable. It waits for a running job.
func (j *MaintenanceJob) Shutdown() error {
	select {
	case <-j.cron.Stop().Done():
	case <-time.After(shutdownTimeout):
	}
	return nil
}

// ProvideMaintenanceJob provides the periodic maintenance job: database
// optimization, followed by a full-text reconcile when the index is enabled.
func ProvideMaintenanceJob(i do.Injector) (*MaintenanceJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	lib := do.MustInvoke[*CacheHandle](i)

	var ft *FullTextHandle
	if cfg.Search.FullText {
		ft = do.MustInvoke[*FullTextHandle](i)
	}

	run := func() {
		ctx := context.Background()
		start := time.Now()
		if err := lib.Optimize(ctx); err != nil {
			log.Warn("Library optimize failed", "error", err)
		}
		if ft != nil {
			if _, _, err := ft.Indexer.Reconcile(ctx); err != nil {
				log.Warn("Full-text reconcile failed", "error", err)
			}
		}
		log.Info("Maintenance completed", "duration", time.Since(start))
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Maintenance.Schedule, run); err != nil {
		return nil, err
	}
	c.Start()

	log.Info("Maintenance job scheduled", "schedule", cfg.Maintenance.Schedule)

	return &MaintenanceJob{cron: c}, nil
}
