package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/listenupapp/folio/internal/fieldmeta"
)

// BookRow is one row of the books table.
type BookRow struct {
	ID           int64
	Title        string
	Sort         string
	AuthorSort   string
	UUID         string
	Path         string
	Timestamp    time.Time
	PubDate      time.Time
	LastModified time.Time
	SeriesIndex  float64
	HasCover     bool
}

// Item is an interned value of a many-valued field. Value is a string,
// or an int64 for ratings.
type Item struct {
	ID    int64
	Value any
	Sort  string
	Link  string
}

// Link ties a book to an item. Links of one book are returned in link
// order. Extra carries the series index of custom series columns.
type Link struct {
	Book  int64
	Item  int64
	Extra *float64
}

// ItemTable is an item table and its book links.
type ItemTable struct {
	Items []Item
	Links []Link
}

// Format is one row of the data table.
type Format struct {
	Format string
	Name   string
	Size   int64
}

// Snapshot is the whole persistent state of a library, read in one pass
// when a cache is built.
type Snapshot struct {
	Books []BookRow
	// Items is keyed by field key (authors, tags, #genre, ...).
	Items map[string]*ItemTable
	// OneOne holds per-book values of comments and non-normalized custom
	// columns, keyed by field key.
	OneOne        map[string]map[int64]any
	Identifiers   map[int64]map[string]string
	Formats       map[int64][]Format
	CustomColumns []fieldmeta.CustomColumn
	Dirtied       []int64
}

// ReadTables loads every table.
func (b *Backend) ReadTables(ctx context.Context) (*Snapshot, error) {
	c := b.Conn()
	s := &Snapshot{
		Items:       make(map[string]*ItemTable),
		OneOne:      make(map[string]map[int64]any),
		Identifiers: make(map[int64]map[string]string),
		Formats:     make(map[int64][]Format),
	}

	var err error
	if s.Books, err = readBooks(ctx, c); err != nil {
		return nil, err
	}
	if s.CustomColumns, err = b.CustomColumns(ctx); err != nil {
		return nil, err
	}

	for _, spec := range BuiltinLinks() {
		t, err := readItemTable(ctx, c, spec)
		if err != nil {
			return nil, err
		}
		s.Items[spec.Key] = t
	}

	comments, err := readOneOne(ctx, c, "comments", "book", "text", fieldmeta.Comments)
	if err != nil {
		return nil, err
	}
	s.OneOne["comments"] = comments

	for _, col := range s.CustomColumns {
		switch {
		case col.Datatype == fieldmeta.Composite:
		case col.Normalized():
			t, err := readItemTable(ctx, c, CustomLinkSpec(col))
			if err != nil {
				return nil, err
			}
			s.Items[col.Key()] = t
		default:
			vals, err := readOneOne(ctx, c, col.ItemTable(), "book", "value", col.Datatype)
			if err != nil {
				return nil, err
			}
			s.OneOne[col.Key()] = vals
		}
	}

	if s.Identifiers, err = readIdentifiers(ctx, c); err != nil {
		return nil, err
	}
	if s.Formats, err = readFormats(ctx, c); err != nil {
		return nil, err
	}
	if s.Dirtied, err = b.DirtiedBooks(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func readBooks(ctx context.Context, c Conn) ([]BookRow, error) {
	rows, err := c.Query(ctx, `
		SELECT id, title, sort, author_sort, uuid, path, timestamp, pubdate,
		       last_modified, series_index, has_cover
		FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read books: %w", err)
	}
	defer rows.Close()

	var books []BookRow
	for rows.Next() {
		var (
			r            BookRow
			ts, pd       sql.NullString
			lastModified string
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Sort, &r.AuthorSort, &r.UUID, &r.Path,
			&ts, &pd, &lastModified, &r.SeriesIndex, &r.HasCover); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		r.Timestamp = parseNullTime(ts)
		r.PubDate = parseNullTime(pd)
		r.LastModified = parseTime(lastModified)
		books = append(books, r)
	}
	return books, rows.Err()
}

func readItemTable(ctx context.Context, c Conn, spec LinkSpec) (*ItemTable, error) {
	t := &ItemTable{}

	sortCol := "''"
	if spec.HasSort {
		sortCol = "sort"
	}
	rows, err := c.Query(ctx, fmt.Sprintf(
		"SELECT id, %s, %s, link FROM %s ORDER BY id", spec.ValueCol, sortCol, spec.ItemTable))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", spec.ItemTable, err)
	}
	for rows.Next() {
		var (
			it  Item
			raw any
		)
		if err := rows.Scan(&it.ID, &raw, &it.Sort, &it.Link); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan %s: %w", spec.ItemTable, err)
		}
		it.Value = itemValue(raw, spec.IntValues)
		t.Items = append(t.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	extraCol := "NULL"
	if spec.HasExtra {
		extraCol = "extra"
	}
	order := "book, id"
	if spec.OrderCol != "" {
		order = "book, " + spec.OrderCol + ", id"
	}
	rows, err = c.Query(ctx, fmt.Sprintf(
		"SELECT book, %s, %s FROM %s ORDER BY %s", spec.LinkCol, extraCol, spec.LinkTable, order))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", spec.LinkTable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l     Link
			extra sql.NullFloat64
		)
		if err := rows.Scan(&l.Book, &l.Item, &extra); err != nil {
			return nil, fmt.Errorf("scan %s: %w", spec.LinkTable, err)
		}
		if extra.Valid {
			v := extra.Float64
			l.Extra = &v
		}
		t.Links = append(t.Links, l)
	}
	return t, rows.Err()
}

func itemValue(raw any, intValues bool) any {
	switch v := raw.(type) {
	case int64:
		if intValues {
			return v
		}
		return fmt.Sprint(v)
	case float64:
		if intValues {
			return int64(v)
		}
		return fmt.Sprint(v)
	case []byte:
		return string(v)
	case string:
		return v
	}
	return fmt.Sprint(raw)
}

func readOneOne(ctx context.Context, c Conn, table, bookCol, valueCol string, dt fieldmeta.Datatype) (map[int64]any, error) {
	rows, err := c.Query(ctx, fmt.Sprintf("SELECT %s, %s FROM %s", bookCol, valueCol, table))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[int64]any)
	for rows.Next() {
		var (
			book int64
			raw  any
		)
		if err := rows.Scan(&book, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if v := DecodeValue(raw, dt); v != nil {
			out[book] = v
		}
	}
	return out, rows.Err()
}

// DecodeValue converts a stored column value to the in-memory type of dt.
func DecodeValue(raw any, dt fieldmeta.Datatype) any {
	if raw == nil {
		return nil
	}
	switch dt {
	case fieldmeta.Int, fieldmeta.Rating:
		switch v := raw.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
	case fieldmeta.Float:
		switch v := raw.(type) {
		case int64:
			return float64(v)
		case float64:
			return v
		}
	case fieldmeta.Bool:
		switch v := raw.(type) {
		case int64:
			return v != 0
		case bool:
			return v
		}
	case fieldmeta.Datetime:
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		}
		if t := parseTime(s); !t.IsZero() {
			return t
		}
		return nil
	default:
		switch v := raw.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		}
		return fmt.Sprint(raw)
	}
	return nil
}

// EncodeValue converts an in-memory value to its stored form.
func EncodeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return nullTime(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func readIdentifiers(ctx context.Context, c Conn) (map[int64]map[string]string, error) {
	rows, err := c.Query(ctx, "SELECT book, type, val FROM identifiers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("read identifiers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]string)
	for rows.Next() {
		var (
			book     int64
			typ, val string
		)
		if err := rows.Scan(&book, &typ, &val); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		if out[book] == nil {
			out[book] = make(map[string]string)
		}
		out[book][typ] = val
	}
	return out, rows.Err()
}

func readFormats(ctx context.Context, c Conn) (map[int64][]Format, error) {
	rows, err := c.Query(ctx, "SELECT book, format, name, uncompressed_size FROM data ORDER BY book, id")
	if err != nil {
		return nil, fmt.Errorf("read formats: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Format)
	for rows.Next() {
		var (
			book int64
			f    Format
		)
		if err := rows.Scan(&book, &f.Format, &f.Name, &f.Size); err != nil {
			return nil, fmt.Errorf("scan format: %w", err)
		}
		out[book] = append(out[book], f)
	}
	return out, rows.Err()
}
