package cli

import (
	"context"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/fts"
)

func (a *app) newFullTextSearchCmd() *cobra.Command {
	var (
		limit   int
		reindex bool
	)
	c := &cobra.Command{
		Use:   "fts-search TEXT...",
		Short: "Search the text of books",
		Long: `Rank books by how well their metadata, comments and text match the
words given. The index is brought up to date first when it is empty or
--reindex is given; folio serve keeps it current otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				idx, err := fts.Open(fts.Options{Dir: fts.DefaultDir(c.LibraryPath(ctx))})
				if err != nil {
					return err
				}
				defer idx.Close()

				n, err := idx.DocCount()
				if err != nil {
					return err
				}
				if n == 0 || reindex {
					if _, _, err := fts.NewIndexer(idx, c, fts.IndexerOptions{}).Reconcile(ctx); err != nil {
						return err
					}
				}

				hits, err := idx.Search(ctx, q, limit)
				if err != nil {
					return err
				}
				return a.printer(cmd).print(hits, func(tw *tabwriter.Writer) {
					row(tw, "ID", "SCORE", "TITLE", "AUTHORS")
					for _, h := range hits {
						row(tw, formatID(h.BookID), strconvScore(h.Score), truncate(h.Title, 50), truncate(h.Authors, 40))
					}
				})
			})
		},
	}
	c.Flags().IntVar(&limit, "limit", fts.DefaultLimit, "Show at most this many books")
	c.Flags().BoolVar(&reindex, "reindex", false, "Bring the index up to date before searching")
	return c
}
