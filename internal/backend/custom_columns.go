package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

// CustomColumns returns the column definitions in id order.
func (b *Backend) CustomColumns(ctx context.Context) ([]fieldmeta.CustomColumn, error) {
	rows, err := b.Conn().Query(ctx, `
		SELECT id, label, name, datatype, is_multiple, editable, display
		FROM custom_columns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read custom columns: %w", err)
	}
	defer rows.Close()

	var cols []fieldmeta.CustomColumn
	for rows.Next() {
		var (
			col     fieldmeta.CustomColumn
			display string
		)
		if err := rows.Scan(&col.ID, &col.Label, &col.Name, &col.Datatype,
			&col.IsMultiple, &col.Editable, &display); err != nil {
			return nil, fmt.Errorf("scan custom column: %w", err)
		}
		if err := json.Unmarshal([]byte(display), &col.Display); err != nil {
			b.logger.Warn("ignoring unreadable custom column display",
				"label", col.Label, "error", err)
			col.Display = map[string]any{}
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// CreateCustomColumn stores the definition and creates its tables. The
// returned column carries its assigned id.
func (b *Backend) CreateCustomColumn(ctx context.Context, col fieldmeta.CustomColumn) (fieldmeta.CustomColumn, error) {
	display, err := json.Marshal(col.Display)
	if err != nil {
		return col, fmt.Errorf("encode display: %w", err)
	}
	if col.Display == nil {
		display = []byte("{}")
	}

	err = b.WithTx(ctx, func(c Conn) error {
		var exists int
		if err := c.QueryRow(ctx, "SELECT COUNT(*) FROM custom_columns WHERE label=?", col.Label).Scan(&exists); err != nil {
			return fmt.Errorf("check label: %w", err)
		}
		if exists > 0 {
			return errors.Validationf("custom column %q already exists", col.Label)
		}
		id, err := c.InsertID(ctx, `
			INSERT INTO custom_columns(label, name, datatype, is_multiple, editable, display, normalized)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			col.Label, col.Name, string(col.Datatype), col.IsMultiple, col.Editable, string(display), col.Normalized())
		if err != nil {
			return err
		}
		col.ID = id
		for _, stmt := range customColumnDDL(col) {
			if _, err := c.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create tables for %s: %w", col.Label, err)
			}
		}
		return nil
	})
	return col, err
}

// DeleteCustomColumn drops a column and its tables.
func (b *Backend) DeleteCustomColumn(ctx context.Context, label string) error {
	return b.WithTx(ctx, func(c Conn) error {
		var id int64
		if err := c.QueryRow(ctx, "SELECT id FROM custom_columns WHERE label=?", label).Scan(&id); err != nil {
			return errors.NotFoundf("no custom column %q", label)
		}
		col := fieldmeta.CustomColumn{ID: id, Label: label}
		for _, stmt := range []string{
			"DROP TABLE IF EXISTS " + col.LinkTable(),
			"DROP TABLE IF EXISTS " + col.ItemTable(),
		} {
			if _, err := c.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := c.Exec(ctx, "DELETE FROM custom_columns WHERE id=?", id)
		return err
	})
}

func sqlType(dt fieldmeta.Datatype) string {
	switch dt {
	case fieldmeta.Int, fieldmeta.Rating, fieldmeta.Bool:
		return "INTEGER"
	case fieldmeta.Float:
		return "REAL"
	}
	return "TEXT"
}

func customColumnDDL(col fieldmeta.CustomColumn) []string {
	if col.Datatype == fieldmeta.Composite {
		return nil
	}
	items, links := col.ItemTable(), col.LinkTable()
	if !col.Normalized() {
		return []string{fmt.Sprintf(`CREATE TABLE %s (
			id    INTEGER PRIMARY KEY,
			book  INTEGER NOT NULL UNIQUE REFERENCES books(id) ON DELETE CASCADE,
			value %s NOT NULL
		)`, items, sqlType(col.Datatype))}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id    INTEGER PRIMARY KEY,
			value %s NOT NULL UNIQUE,
			link  TEXT NOT NULL DEFAULT ''
		)`, items, sqlType(col.Datatype)),
		fmt.Sprintf(`CREATE TABLE %s (
			id    INTEGER PRIMARY KEY,
			book  INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			value INTEGER NOT NULL REFERENCES %s(id),
			extra REAL,
			UNIQUE(book, value)
		)`, links, items),
		fmt.Sprintf("CREATE INDEX idx_%s_value ON %s(value)", links, links),
	}
}
