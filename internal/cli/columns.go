package cli

import (
	"context"
	"encoding/json"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

func (a *app) newCustomColumnsCmd() *cobra.Command {
	var details bool
	c := &cobra.Command{
		Use:   "custom-columns",
		Short: "List the custom columns of the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				cols, err := c.CustomColumns(ctx)
				if err != nil {
					return err
				}
				return a.printer(cmd).print(cols, func(tw *tabwriter.Writer) {
					if details {
						row(tw, "LABEL", "NAME", "TYPE", "MULTIPLE", "EDITABLE", "DISPLAY")
					} else {
						row(tw, "LABEL", "NAME", "TYPE")
					}
					for _, col := range cols {
						if !details {
							row(tw, col.Label, col.Name, string(col.Datatype))
							continue
						}
						disp, _ := json.Marshal(col.Display)
						row(tw, col.Label, col.Name, string(col.Datatype),
							display(col.IsMultiple), display(col.Editable), string(disp))
					}
				})
			})
		},
	}
	c.Flags().BoolVarP(&details, "details", "d", false, "Show every column property")
	return c
}

func (a *app) newAddCustomColumnCmd() *cobra.Command {
	var (
		isMultiple bool
		displayArg string
	)
	c := &cobra.Command{
		Use:   "add-custom-column LABEL NAME DATATYPE",
		Short: "Create a custom column",
		Long: `Create a custom column. LABEL is the machine name (lower case letters,
digits and underscores), NAME the display name. DATATYPE is one of text,
comments, series, datetime, int, float, bool, rating, enumeration or
composite. --display takes a JSON object, for example
'{"composite_template": "{title} ({pubdate})"}' or '{"enum_values": ["a", "b"]}'.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			col := fieldmeta.CustomColumn{
				Label:      args[0],
				Name:       args[1],
				Datatype:   fieldmeta.Datatype(args[2]),
				IsMultiple: isMultiple,
				Editable:   true,
			}
			if displayArg != "" {
				if err := json.Unmarshal([]byte(displayArg), &col.Display); err != nil {
					return errors.Validationf("--display is not a JSON object: %v", err)
				}
			}
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				created, err := c.CreateCustomColumn(ctx, col)
				if err != nil {
					return err
				}
				return a.printer(cmd).message(created, "Created column %s (%s)", created.Key(), created.Datatype)
			})
		},
	}
	c.Flags().BoolVar(&isMultiple, "is-multiple", false, "Column holds many values, like tags")
	c.Flags().StringVar(&displayArg, "display", "", "Display settings as a JSON object")
	return c
}

func (a *app) newRemoveCustomColumnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-custom-column LABEL",
		Short: "Delete a custom column and all its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLibrary(cmd, func(ctx context.Context, c *cache.Cache) error {
				if err := c.DeleteCustomColumn(ctx, strings.TrimPrefix(args[0], "#")); err != nil {
					return err
				}
				return a.printer(cmd).message(map[string]string{"removed": args[0]}, "Removed column #%s", args[0])
			})
		},
	}
}
