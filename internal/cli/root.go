// Package cli implements the folio command line.
//
// Every command except serve opens the library, does its work and closes
// it again. serve hands the library to the daemon container instead.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/di/providers"
	"github.com/listenupapp/folio/internal/logger"
)

// app holds the global flags shared by all commands.
type app struct {
	overrides config.Overrides
	output    string
}

// NewRootCmd builds the folio command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "folio",
		Short:         "Ebook library metadata cache",
		Long:          `Manage an ebook library folder: its metadata database, book files, OPF backups and full-text index.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(outputFormats, a.output) {
				return fmt.Errorf("invalid output format: %s (valid: %v)", a.output, outputFormats)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.overrides.LibraryPath, "library", "l", "", "Library folder (env LIBRARY_PATH)")
	pf.StringVar(&a.overrides.EnvFile, "env-file", "", "Environment file (default .env)")
	pf.StringVar(&a.overrides.Environment, "env", "", "Environment: development, staging or production")
	pf.StringVar(&a.overrides.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&a.overrides.Locale, "locale", "", "Collation locale (env LIBRARY_LOCALE)")
	pf.StringVarP(&a.output, "output", "o", formatTable, "Output format: table, json or yaml")

	root.AddCommand(
		a.newListCmd(),
		a.newSearchCmd(),
		a.newAddCmd(),
		a.newRemoveCmd(),
		a.newSetMetadataCmd(),
		a.newShowMetadataCmd(),
		a.newAddFormatCmd(),
		a.newRemoveFormatCmd(),
		a.newCustomColumnsCmd(),
		a.newAddCustomColumnCmd(),
		a.newRemoveCustomColumnCmd(),
		a.newBackupMetadataCmd(),
		a.newRestoreMetadataCmd(),
		a.newFullTextSearchCmd(),
		a.newServeCmd(),
	)
	return root
}

// Execute runs the command line with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return err
}

// load reads the configuration and builds a logger writing to the
// command's error stream.
func (a *app) load(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(a.overrides)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Writer:      cmd.ErrOrStderr(),
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})
	return cfg, log, nil
}

// withLibrary opens the configured library for the duration of fn.
func (a *app) withLibrary(cmd *cobra.Command, fn func(context.Context, *cache.Cache) error) error {
	cfg, log, err := a.load(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireLibrary(); err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := cache.Open(ctx, providers.CacheOptions(cfg, log))
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	err = fn(ctx, c)
	if closeErr := c.Close(ctx); closeErr != nil && err == nil {
		err = fmt.Errorf("close library: %w", closeErr)
	}
	return err
}

func (a *app) printer(cmd *cobra.Command) *printer {
	return &printer{w: cmd.OutOrStdout(), format: a.output}
}
