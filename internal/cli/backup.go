package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/backup"
	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/metadata"
)

type backupResult struct {
	Written int     `json:"written" yaml:"written"`
	Failed  []int64 `json:"failed,omitempty" yaml:"failed,omitempty"`
}

func (a *app) newBackupMetadataCmd() *cobra.Command {
	var all bool
	c := &cobra.Command{
		Use:   "backup-metadata [ID...]",
		Short: "Write the OPF backups of books",
		Long: `Write the metadata.opf file in each book folder. This normally happens in
the background while folio serve runs. Without arguments the books whose
backup is out of date are written; --all rewrites every book.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int64
			if len(args) > 0 {
				var err error
				if ids, err = parseIDs(args); err != nil {
					return err
				}
			}
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				res := backupResult{}
				var err error
				switch {
				case ids == nil && !all:
					res.Written, err = backup.New(c, backup.Options{}).Drain(ctx)
				default:
					if all {
						ids = c.AllBookIDs(ctx).Sorted()
					}
					err = c.DumpMetadata(ctx, ids, true, func(id int64, _ *metadata.Metadata, ok bool) {
						if ok {
							res.Written++
						} else {
							res.Failed = append(res.Failed, id)
						}
					})
				}
				if err != nil {
					return err
				}
				return a.printer(cmd).print(res, func(tw *tabwriter.Writer) {
					row(tw, "Backups written:", display(res.Written))
					if len(res.Failed) > 0 {
						row(tw, "Not written:", fmt.Sprint(res.Failed))
					}
				})
			})
		},
	}
	c.Flags().BoolVar(&all, "all", false, "Rewrite the backup of every book")
	return c
}

func (a *app) newRestoreMetadataCmd() *cobra.Command {
	var opts backup.RestoreOptions
	c := &cobra.Command{
		Use:   "restore-metadata [ID...]",
		Short: "Restore book metadata from the OPF backups",
		Long:  `Apply the metadata.opf file of each book, or of the given books, to the library database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int64
			if len(args) > 0 {
				var err error
				if ids, err = parseIDs(args); err != nil {
					return err
				}
			}
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				res, err := backup.NewRestoreService(c, nil).Restore(ctx, ids, opts)
				if err != nil {
					return err
				}
				return a.printer(cmd).print(res, func(tw *tabwriter.Writer) {
					row(tw, "Restored:", display(res.Restored))
					row(tw, "Without backup:", display(res.Missing))
					for _, e := range res.Errors {
						row(tw, fmt.Sprintf("Book %d:", e.BookID), e.Error)
					}
				})
			})
		},
	}
	c.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Read the backups without changing the library")
	c.Flags().BoolVar(&opts.Force, "force", false, "Clear fields the backup leaves empty")
	return c
}
