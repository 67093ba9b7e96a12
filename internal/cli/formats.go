package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/errors"
)

func (a *app) newAddFormatCmd() *cobra.Command {
	var (
		noReplace bool
		as        string
	)
	c := &cobra.Command{
		Use:   "add-format ID FILE",
		Short: "Add a book file to an existing book",
		Long:  `Add FILE as a format of book ID. The format is taken from the file extension unless --as is given.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			id, path := ids[0], args[1]
			format := as
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			format = strings.ToUpper(format)
			if format == "" {
				return errors.Validationf("cannot tell the format of %s (use --as)", path)
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				if !c.HasBook(ctx, id) {
					return errors.NotFoundf("no book with id %d", id)
				}
				added, err := c.AddFormat(ctx, id, format, f, !noReplace)
				if err != nil {
					return err
				}
				res := map[string]any{"book_id": id, "format": format, "added": added}
				if !added {
					return a.printer(cmd).message(res, "Book %d already has a %s file", id, format)
				}
				return a.printer(cmd).message(res, "Added %s to book %d", format, id)
			})
		},
	}
	c.Flags().BoolVar(&noReplace, "dont-replace", false, "Keep an existing file of the same format")
	c.Flags().StringVar(&as, "as", "", "Format to store the file as")
	return c
}

func (a *app) newRemoveFormatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-format ID FORMAT...",
		Short: "Remove book files from a book",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			id := ids[0]
			formats := make([]string, 0, len(args)-1)
			for _, f := range args[1:] {
				formats = append(formats, strings.ToUpper(strings.TrimPrefix(f, ".")))
			}
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				for _, f := range formats {
					if !c.HasFormat(ctx, id, f) {
						return errors.NoSuchFormatf("book %d has no %s file", id, f)
					}
				}
				if err := c.RemoveFormats(ctx, map[int64][]string{id: formats}); err != nil {
					return err
				}
				res := map[string]any{"book_id": id, "removed": formats}
				return a.printer(cmd).message(res, "Removed %s from book %d", strings.Join(formats, ", "), id)
			})
		},
	}
}
