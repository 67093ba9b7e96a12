package cli

import (
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/di"
	"github.com/listenupapp/folio/internal/logger"
)

func (a *app) newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Keep the library maintained in the background",
		Long: `Run until interrupted, writing OPF backups of changed books, keeping the
full-text index current, importing files dropped into the auto-add folder
and running scheduled maintenance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			injector := di.NewContainer(a.overrides)
			if err := di.Bootstrap(ctx, injector); err != nil {
				_ = injector.Shutdown()
				return err
			}
			log := do.MustInvoke[*logger.Logger](injector)
			log.Info("Folio is running, press Ctrl+C to stop")

			<-ctx.Done()

			log.Info("Shutting down gracefully...")
			if err := injector.Shutdown(); err != nil {
				log.Error("Shutdown error", "error", err)
			}
			log.Info("Library closed")
			return nil
		},
	}
	f := c.Flags()
	f.StringVar(&a.overrides.AutoAddPath, "auto-add", "", "Folder to import dropped books from (env AUTO_ADD_PATH)")
	f.BoolVar(&a.overrides.NoBackup, "no-backup", false, "Do not write OPF backups")
	f.BoolVar(&a.overrides.NoFullText, "no-fts", false, "Do not maintain the full-text index")
	return c
}
