package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/metadata"
)

// bookView is the printable form of a book's metadata.
type bookView struct {
	ID           int64             `json:"id" yaml:"id"`
	Title        string            `json:"title" yaml:"title"`
	TitleSort    string            `json:"title_sort" yaml:"title_sort"`
	Authors      []string          `json:"authors" yaml:"authors"`
	AuthorSort   string            `json:"author_sort" yaml:"author_sort"`
	Series       string            `json:"series,omitempty" yaml:"series,omitempty"`
	SeriesIndex  *float64          `json:"series_index,omitempty" yaml:"series_index,omitempty"`
	Tags         []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Publisher    string            `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	PubDate      *time.Time        `json:"pubdate,omitempty" yaml:"pubdate,omitempty"`
	Timestamp    time.Time         `json:"timestamp" yaml:"timestamp"`
	LastModified time.Time         `json:"last_modified" yaml:"last_modified"`
	Rating       *int64            `json:"rating,omitempty" yaml:"rating,omitempty"`
	Languages    []string          `json:"languages,omitempty" yaml:"languages,omitempty"`
	Identifiers  map[string]string `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`
	Comments     string            `json:"comments,omitempty" yaml:"comments,omitempty"`
	UUID         string            `json:"uuid" yaml:"uuid"`
	Path         string            `json:"path" yaml:"path"`
	Formats      []string          `json:"formats,omitempty" yaml:"formats,omitempty"`
	Size         int64             `json:"size" yaml:"size"`
	Custom       map[string]any    `json:"custom,omitempty" yaml:"custom,omitempty"`
}

func newBookView(mi *metadata.Metadata) bookView {
	v := bookView{
		ID:           mi.BookID,
		Title:        mi.Title,
		TitleSort:    mi.TitleSort,
		Authors:      mi.Authors,
		AuthorSort:   mi.AuthorSort,
		Series:       mi.Series,
		Tags:         mi.Tags,
		Publisher:    mi.Publisher,
		Timestamp:    mi.Timestamp,
		LastModified: mi.LastModified,
		Rating:       mi.Rating,
		Languages:    mi.Languages,
		Identifiers:  mi.Identifiers,
		Comments:     mi.Comments,
		UUID:         mi.UUID,
		Path:         mi.Path,
		Formats:      mi.Formats,
		Size:         mi.Size,
	}
	if mi.Series != "" {
		v.SeriesIndex = mi.SeriesIndex
	}
	if !mi.PubDate.IsZero() {
		t := mi.PubDate
		v.PubDate = &t
	}
	for key, uf := range mi.UserMetadata {
		if uf == nil || uf.Value == nil {
			continue
		}
		if v.Custom == nil {
			v.Custom = map[string]any{}
		}
		v.Custom[key] = uf.Value
	}
	return v
}

func (v bookView) table(tw *tabwriter.Writer) {
	field := func(name string, val any) {
		if s := display(val); s != "" {
			row(tw, name+":", s)
		}
	}
	field("ID", v.ID)
	field("Title", v.Title)
	field("Title sort", v.TitleSort)
	field("Authors", strings.Join(v.Authors, " & "))
	field("Author sort", v.AuthorSort)
	if v.Series != "" {
		field("Series", fmt.Sprintf("%s #%s", v.Series, display(v.SeriesIndex)))
	}
	field("Tags", v.Tags)
	field("Publisher", v.Publisher)
	if v.PubDate != nil {
		field("Published", *v.PubDate)
	}
	field("Added", v.Timestamp)
	field("Modified", v.LastModified)
	field("Rating", v.Rating)
	field("Languages", v.Languages)
	field("Identifiers", v.Identifiers)
	field("Formats", v.Formats)
	field("Size", displaySize(v.Size))
	field("UUID", v.UUID)
	field("Path", v.Path)
	for _, key := range slices.Sorted(maps.Keys(v.Custom)) {
		field(key, v.Custom[key])
	}
	field("Comments", truncate(v.Comments, 200))
}

func (a *app) newShowMetadataCmd() *cobra.Command {
	var asOPF bool
	c := &cobra.Command{
		Use:   "show-metadata ID",
		Short: "Show the metadata of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				mi, err := c.GetMetadata(ctx, ids[0], false)
				if err != nil {
					return err
				}
				if asOPF {
					raw, err := metadata.ToOPF(mi)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(raw)
					return err
				}
				v := newBookView(mi)
				return a.printer(cmd).print(v, v.table)
			})
		},
	}
	c.Flags().BoolVar(&asOPF, "as-opf", false, "Print the metadata as an OPF document")
	return c
}

// parseFieldAssignment splits "name:value".
func parseFieldAssignment(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", errors.Validationf("%q is not of the form field:value", s)
	}
	return name, value, nil
}

func (a *app) newSetMetadataCmd() *cobra.Command {
	var fields []string
	c := &cobra.Command{
		Use:   "set-metadata ID [OPF_FILE]",
		Short: "Change the metadata of a book",
		Long: `Change the metadata of a book from an OPF file, from --field assignments,
or both. Assignments are applied after the OPF file, in order. List fields
take comma separated values (authors are separated by &).

  folio set-metadata 12 --field tags:fiction,classic --field rating:8`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			id := ids[0]
			if len(args) == 1 && len(fields) == 0 {
				return errors.Validation("nothing to change: give an OPF file or --field")
			}
			var opf *metadata.Metadata
			if len(args) == 2 {
				raw, err := os.ReadFile(args[1])
				if err != nil {
					return fmt.Errorf("read OPF: %w", err)
				}
				if opf, err = metadata.FromOPF(raw); err != nil {
					return err
				}
				opf.Cover = ""
			}
			type assignment struct{ name, value string }
			assignments := make([]assignment, 0, len(fields))
			for _, f := range fields {
				name, value, err := parseFieldAssignment(f)
				if err != nil {
					return err
				}
				assignments = append(assignments, assignment{name, value})
			}

			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				if !c.HasBook(ctx, id) {
					return errors.NotFoundf("no book with id %d", id)
				}
				if opf != nil {
					if err := c.SetMetadata(ctx, id, opf, cache.SetMetadataOptions{}); err != nil {
						return err
					}
				}
				for _, as := range assignments {
					if _, err := c.SetField(ctx, as.name, map[int64]any{id: as.value}, cache.SetFieldOptions{}); err != nil {
						return fmt.Errorf("set %s: %w", as.name, err)
					}
				}
				mi, err := c.GetMetadata(ctx, id, false)
				if err != nil {
					return err
				}
				v := newBookView(mi)
				return a.printer(cmd).print(v, v.table)
			})
		},
	}
	c.Flags().StringArrayVarP(&fields, "field", "f", nil, "Field assignment as name:value, repeatable")
	return c
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
