package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/autoadd"
	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/metadata"
)

// parseIDs reads book ids given as separate arguments or comma lists.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.Validationf("%q is not a book id", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.Validation("no book ids given")
	}
	return ids, nil
}

// parseSort reads "key,-key2" into sort specs. A leading minus sorts
// descending.
func parseSort(s string) []cache.SortSpec {
	var specs []cache.SortSpec
	for _, key := range strings.Split(s, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		spec := cache.SortSpec{Key: key, Ascending: true}
		if strings.HasPrefix(key, "-") {
			spec.Key, spec.Ascending = key[1:], false
		}
		specs = append(specs, spec)
	}
	return specs
}

func (a *app) newListCmd() *cobra.Command {
	var (
		query  string
		sortBy string
		fields []string
		limit  int
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List books",
		Long:  `List the books matching a search, showing the chosen fields.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				for _, f := range fields {
					if _, err := c.FieldMetadata(ctx, f); err != nil {
						return err
					}
				}
				found, err := c.Search(ctx, query)
				if err != nil {
					return err
				}
				ids := found.Sorted()
				if specs := parseSort(sortBy); len(specs) > 0 {
					if ids, err = c.Multisort(ctx, specs, ids); err != nil {
						return err
					}
				}
				if limit > 0 && len(ids) > limit {
					ids = ids[:limit]
				}

				rows := make([]map[string]any, 0, len(ids))
				for _, id := range ids {
					r := map[string]any{"id": id}
					for _, f := range fields {
						v, err := c.FieldFor(ctx, f, id, nil)
						if err != nil {
							return err
						}
						r[f] = v
					}
					rows = append(rows, r)
				}

				return a.printer(cmd).print(rows, func(tw *tabwriter.Writer) {
					header := []string{"ID"}
					for _, f := range fields {
						header = append(header, strings.ToUpper(f))
					}
					row(tw, header...)
					for _, r := range rows {
						cells := []string{display(r["id"])}
						for _, f := range fields {
							cells = append(cells, truncate(display(r[f]), 60))
						}
						row(tw, cells...)
					}
				})
			})
		},
	}
	c.Flags().StringVarP(&query, "search", "s", "", "Only list books matching this query")
	c.Flags().StringVar(&sortBy, "sort", "", "Comma separated sort keys, prefix with - for descending")
	c.Flags().StringSliceVarP(&fields, "fields", "f", []string{"title", "authors"}, "Fields to show")
	c.Flags().IntVar(&limit, "limit", 0, "Show at most this many books")
	return c
}

func (a *app) newSearchCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "search QUERY",
		Short: "Print the ids of books matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				found, err := c.Search(ctx, args[0])
				if err != nil {
					return err
				}
				ids := found.Sorted()
				if limit > 0 && len(ids) > limit {
					ids = ids[:limit]
				}
				if len(ids) == 0 {
					return errors.NotFoundf("no books match %q", args[0])
				}
				strs := make([]string, len(ids))
				for i, id := range ids {
					strs[i] = formatID(id)
				}
				return a.printer(cmd).message(ids, "%s", strings.Join(strs, ","))
			})
		},
	}
	c.Flags().IntVar(&limit, "limit", 0, "Print at most this many ids")
	return c
}

type addResult struct {
	Added      []int64  `json:"added" yaml:"added"`
	Duplicates []string `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
}

func (a *app) newAddCmd() *cobra.Command {
	var (
		title      string
		authors    string
		tags       []string
		series     string
		index      float64
		languages  []string
		identifier []string
		cover      string
		empty      bool
		duplicates bool
	)
	c := &cobra.Command{
		Use:   "add [FILE...]",
		Short: "Add books to the library",
		Long: `Add one book per file. Title and authors come from the flags, or from
file names of the form "Title - Author.ext". With --empty a book without
files is created from the flags alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !empty && len(args) == 0 {
				return errors.Validation("no files given (use --empty to add a book without files)")
			}
			build := func(fallbackTitle string, fallbackAuthors []string) *metadata.Metadata {
				mi := metadata.New(fallbackTitle, fallbackAuthors...)
				if title != "" {
					mi.Title = title
				}
				if authors != "" {
					mi.Authors = metadata.StringToAuthors(authors)
				}
				mi.Tags = tags
				mi.Series = series
				if cmd.Flags().Changed("series-index") {
					mi.SeriesIndex = &index
				}
				mi.Languages = languages
				for _, pair := range identifier {
					if typ, val, ok := strings.Cut(pair, ":"); ok {
						if mi.Identifiers == nil {
							mi.Identifiers = map[string]string{}
						}
						mi.Identifiers[typ] = val
					}
				}
				return mi
			}

			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				res := addResult{}
				if empty {
					id, err := c.CreateBookEntry(ctx, build(metadata.Unknown, nil), cache.CreateOptions{ApplyDefaults: true})
					if err != nil {
						return err
					}
					res.Added = append(res.Added, id)
				} else {
					entries := make([]cache.BookEntry, 0, len(args))
					for _, path := range args {
						if _, err := os.Stat(path); err != nil {
							return fmt.Errorf("stat %s: %w", path, err)
						}
						t, au := autoadd.ParseFileName(filepath.Base(path))
						format := strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))
						entries = append(entries, cache.BookEntry{
							Metadata: build(t, au),
							Formats:  map[string]string{format: path},
						})
					}
					ids, dups, err := c.AddBooks(ctx, entries, cache.AddOptions{
						AddDuplicates: duplicates,
						CreateOptions: cache.CreateOptions{ApplyDefaults: true},
					})
					if err != nil {
						return err
					}
					res.Added = ids
					for _, i := range dups {
						res.Duplicates = append(res.Duplicates, args[i])
					}
				}

				if cover != "" && len(res.Added) > 0 {
					data, err := os.ReadFile(cover)
					if err != nil {
						return fmt.Errorf("read cover: %w", err)
					}
					covers := make(map[int64][]byte, len(res.Added))
					for _, id := range res.Added {
						covers[id] = data
					}
					if _, err := c.SetCover(ctx, covers); err != nil {
						return err
					}
				}

				return a.printer(cmd).print(res, func(tw *tabwriter.Writer) {
					if len(res.Added) > 0 {
						strs := make([]string, len(res.Added))
						for i, id := range res.Added {
							strs[i] = formatID(id)
						}
						row(tw, "Added book ids:", strings.Join(strs, ", "))
					}
					for _, d := range res.Duplicates {
						row(tw, "Already in library:", d)
					}
				})
			})
		},
	}
	f := c.Flags()
	f.StringVarP(&title, "title", "t", "", "Title of the added books")
	f.StringVarP(&authors, "authors", "a", "", "Authors, separated by &")
	f.StringSliceVarP(&tags, "tags", "T", nil, "Comma separated tags")
	f.StringVarP(&series, "series", "s", "", "Series")
	f.Float64VarP(&index, "series-index", "S", 1, "Position in the series")
	f.StringSliceVarP(&languages, "languages", "L", nil, "Comma separated language codes")
	f.StringArrayVarP(&identifier, "identifier", "I", nil, "Identifier as type:value, repeatable")
	f.StringVarP(&cover, "cover", "c", "", "Cover image for the added books")
	f.BoolVarP(&empty, "empty", "e", false, "Add a book without files")
	f.BoolVarP(&duplicates, "duplicates", "d", false, "Add books even if they are already in the library")
	return c
}

func (a *app) newRemoveCmd() *cobra.Command {
	var permanent bool
	c := &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove books from the library",
		Long:  `Remove books. Their folders go to the library trash unless --permanent is given.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				var missing []int64
				for _, id := range ids {
					if !c.HasBook(ctx, id) {
						missing = append(missing, id)
					}
				}
				if len(missing) > 0 {
					return errors.NotFoundf("no books with ids %v", missing)
				}
				if err := c.RemoveBooks(ctx, ids, permanent); err != nil {
					return err
				}
				return a.printer(cmd).message(map[string]any{"removed": ids}, "Removed %d book(s)", len(ids))
			})
		},
	}
	c.Flags().BoolVar(&permanent, "permanent", false, "Delete the book files instead of moving them to the trash")
	return c
}
