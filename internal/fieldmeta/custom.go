package fieldmeta

import (
	"fmt"
	"maps"

	"github.com/listenupapp/folio/internal/errors"
)

// CustomColumn is the persisted definition of a user-defined column.
type CustomColumn struct {
	ID         int64          `json:"id"`
	Label      string         `json:"label" validate:"required,column_label,max=64"`
	Name       string         `json:"name" validate:"required,max=128"`
	Datatype   Datatype       `json:"datatype" validate:"required,oneof=text comments series datetime int float bool rating enumeration composite"`
	IsMultiple bool           `json:"is_multiple"`
	Editable   bool           `json:"editable"`
	Display    map[string]any `json:"display"`
}

// Key returns the field key of the column.
func (c CustomColumn) Key() string { return "#" + c.Label }

// Normalized reports whether values live in an item table shared between
// books rather than directly on a per-book row.
func (c CustomColumn) Normalized() bool {
	switch c.Datatype {
	case Text, Series, Enumeration, Rating:
		return true
	}
	return false
}

// ItemTable is the name of the column's value table.
func (c CustomColumn) ItemTable() string { return fmt.Sprintf("custom_column_%d", c.ID) }

// LinkTable is the name of the column's book link table.
func (c CustomColumn) LinkTable() string { return fmt.Sprintf("books_custom_column_%d_link", c.ID) }

func (c CustomColumn) field() (*Field, error) {
	if !c.Datatype.Valid() {
		return nil, errors.Schemaf("invalid datatype %q for custom column %s", c.Datatype, c.Label)
	}
	if c.IsMultiple && c.Datatype != Text && c.Datatype != Composite {
		return nil, errors.Schemaf("only text columns may hold multiple values (%s)", c.Label)
	}
	f := &Field{
		Key:         c.Key(),
		Name:        c.Name,
		Datatype:    c.Datatype,
		IsCustom:    true,
		IsEditable:  c.Editable && c.Datatype != Composite,
		Label:       c.Label,
		ColNum:      c.ID,
		Normalized:  c.Normalized(),
		Display:     maps.Clone(c.Display),
		SearchTerms: []string{c.Key()},
	}
	if f.Display == nil {
		f.Display = map[string]any{}
	}
	switch {
	case c.Datatype == Composite:
		f.Kind = CompositeKind
		f.IsCategory = f.DisplayBool("make_category")
		if c.IsMultiple {
			f.IsMultiple = tagsMultiple
		}
	case !f.Normalized:
		f.Kind = OneOne
	case c.IsMultiple:
		f.Kind = ManyMany
		f.IsCategory = true
		if f.DisplayBool("is_names") {
			f.IsMultiple = &Multiple{CacheToList: "|", UIToList: "&", ListToUI: " & "}
		} else {
			f.IsMultiple = &Multiple{CacheToList: "|", UIToList: ",", ListToUI: ", "}
		}
	default:
		f.Kind = ManyOne
		f.IsCategory = true
	}
	f.Table = c.ItemTable()
	return f, nil
}
