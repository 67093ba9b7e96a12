package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/listenupapp/folio/internal/fieldmeta"
)

// LinkSpec names the tables behind one many-valued field.
type LinkSpec struct {
	Key       string
	ItemTable string
	ValueCol  string
	LinkTable string
	LinkCol   string
	// HasSort marks item tables with a sort column (authors).
	HasSort bool
	// OrderCol orders a book's links; empty means insertion order.
	OrderCol string
	// HasExtra marks link tables carrying a series index.
	HasExtra bool
	// IntValues marks integer item values (ratings).
	IntValues bool
}

// BuiltinLinks returns the specs of the built-in many-valued fields.
func BuiltinLinks() []LinkSpec {
	return []LinkSpec{
		{Key: "authors", ItemTable: "authors", ValueCol: "name", LinkTable: "books_authors_link", LinkCol: "author", HasSort: true},
		{Key: "tags", ItemTable: "tags", ValueCol: "name", LinkTable: "books_tags_link", LinkCol: "tag"},
		{Key: "series", ItemTable: "series", ValueCol: "name", LinkTable: "books_series_link", LinkCol: "series"},
		{Key: "publisher", ItemTable: "publishers", ValueCol: "name", LinkTable: "books_publishers_link", LinkCol: "publisher"},
		{Key: "rating", ItemTable: "ratings", ValueCol: "rating", LinkTable: "books_ratings_link", LinkCol: "rating", IntValues: true},
		{Key: "languages", ItemTable: "languages", ValueCol: "lang_code", LinkTable: "books_languages_link", LinkCol: "lang_code", OrderCol: "item_order"},
	}
}

// CustomLinkSpec returns the spec of a normalized custom column.
func CustomLinkSpec(col fieldmeta.CustomColumn) LinkSpec {
	return LinkSpec{
		Key:       col.Key(),
		ItemTable: col.ItemTable(),
		ValueCol:  "value",
		LinkTable: col.LinkTable(),
		LinkCol:   "value",
		HasExtra:  true,
		IntValues: col.Datatype == fieldmeta.Rating,
	}
}

// InsertItem adds a value to an item table and returns its id.
func (s LinkSpec) InsertItem(ctx context.Context, c Conn, value any, sort string) (int64, error) {
	if s.HasSort {
		return c.InsertID(ctx, fmt.Sprintf("INSERT INTO %s(%s, sort) VALUES(?, ?)", s.ItemTable, s.ValueCol), value, sort)
	}
	return c.InsertID(ctx, fmt.Sprintf("INSERT INTO %s(%s) VALUES(?)", s.ItemTable, s.ValueCol), value)
}

// RenameItem changes the stored value of an item.
func (s LinkSpec) RenameItem(ctx context.Context, c Conn, id int64, value any) error {
	_, err := c.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s=? WHERE id=?", s.ItemTable, s.ValueCol), value, id)
	return err
}

// SetItemSort changes the sort string of an item.
func (s LinkSpec) SetItemSort(ctx context.Context, c Conn, id int64, sort string) error {
	if !s.HasSort {
		return fmt.Errorf("%s has no sort column", s.ItemTable)
	}
	_, err := c.Exec(ctx, fmt.Sprintf("UPDATE %s SET sort=? WHERE id=?", s.ItemTable), sort, id)
	return err
}

// SetItemLink changes the link of an item.
func (s LinkSpec) SetItemLink(ctx context.Context, c Conn, id int64, link string) error {
	_, err := c.Exec(ctx, fmt.Sprintf("UPDATE %s SET link=? WHERE id=?", s.ItemTable), link, id)
	return err
}

// DeleteItems removes items and any links still pointing at them.
func (s LinkSpec) DeleteItems(ctx context.Context, c Conn, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id}
	}
	if err := c.ExecMany(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s=?", s.LinkTable, s.LinkCol), rows); err != nil {
		return err
	}
	return c.ExecMany(ctx, fmt.Sprintf("DELETE FROM %s WHERE id=?", s.ItemTable), rows)
}

// ReplaceLinks sets the items of a book, in order. extra is stored on
// every link of tables that carry one.
func (s LinkSpec) ReplaceLinks(ctx context.Context, c Conn, book int64, items []int64, extra *float64) error {
	if _, err := c.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE book=?", s.LinkTable), book); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	cols := []string{"book", s.LinkCol}
	if s.OrderCol != "" {
		cols = append(cols, s.OrderCol)
	}
	if s.HasExtra {
		cols = append(cols, "extra")
	}
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", s.LinkTable,
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	rows := make([][]any, len(items))
	for i, item := range items {
		args := []any{book, item}
		if s.OrderCol != "" {
			args = append(args, i)
		}
		if s.HasExtra {
			args = append(args, floatOrNil(extra))
		}
		rows[i] = args
	}
	return c.ExecMany(ctx, q, rows)
}

// SetExtra updates the series index stored on a book's links.
func (s LinkSpec) SetExtra(ctx context.Context, c Conn, book int64, extra *float64) error {
	if !s.HasExtra {
		return fmt.Errorf("%s has no extra column", s.LinkTable)
	}
	_, err := c.Exec(ctx, fmt.Sprintf("UPDATE %s SET extra=? WHERE book=?", s.LinkTable), floatOrNil(extra), book)
	return err
}

// MergeItem moves every link of from onto into and deletes from. Books
// already linked to into keep a single link.
func (s LinkSpec) MergeItem(ctx context.Context, c Conn, from, into int64) error {
	if _, err := c.Exec(ctx, fmt.Sprintf("UPDATE OR IGNORE %s SET %s=? WHERE %s=?",
		s.LinkTable, s.LinkCol, s.LinkCol), into, from); err != nil {
		return err
	}
	return s.DeleteItems(ctx, c, []int64{from})
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// bookColumns are the books columns that field writers may set.
//
//nolint:gochecknoglobals // Static allowlist
var bookColumns = map[string]bool{
	"title": true, "sort": true, "author_sort": true, "uuid": true, "path": true,
	"timestamp": true, "pubdate": true, "last_modified": true, "series_index": true,
	"has_cover": true,
}

// SetBookColumn writes one books column for several books. Values are
// converted with EncodeValue.
func SetBookColumn(ctx context.Context, c Conn, column string, vals map[int64]any) error {
	if !bookColumns[column] {
		return fmt.Errorf("unknown books column %q", column)
	}
	rows := make([][]any, 0, len(vals))
	for id, v := range vals {
		rows = append(rows, []any{EncodeValue(v), id})
	}
	return c.ExecMany(ctx, fmt.Sprintf("UPDATE books SET %s=? WHERE id=?", column), rows)
}

// SetOneOneTable upserts or deletes per-book values of a (book, value)
// table: comments or a non-normalized custom column. nil deletes.
func SetOneOneTable(ctx context.Context, c Conn, table, valueCol string, vals map[int64]any) error {
	var dels, ups [][]any
	for id, v := range vals {
		if v == nil {
			dels = append(dels, []any{id})
			continue
		}
		ups = append(ups, []any{id, EncodeValue(v)})
	}
	if err := c.ExecMany(ctx, fmt.Sprintf("DELETE FROM %s WHERE book=?", table), dels); err != nil {
		return err
	}
	return c.ExecMany(ctx, fmt.Sprintf(
		"INSERT INTO %s(book, %s) VALUES(?, ?) ON CONFLICT(book) DO UPDATE SET %s=excluded.%s",
		table, valueCol, valueCol, valueCol), ups)
}

// SetIdentifiers replaces the identifiers of a book.
func SetIdentifiers(ctx context.Context, c Conn, book int64, ids map[string]string) error {
	if _, err := c.Exec(ctx, "DELETE FROM identifiers WHERE book=?", book); err != nil {
		return err
	}
	rows := make([][]any, 0, len(ids))
	for typ, val := range ids {
		rows = append(rows, []any{book, typ, val})
	}
	return c.ExecMany(ctx, "INSERT INTO identifiers(book, type, val) VALUES(?, ?, ?)", rows)
}
