package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewBook is the initial state of a created book row.
type NewBook struct {
	Title       string
	Sort        string
	AuthorSort  string
	Timestamp   time.Time
	PubDate     time.Time
	SeriesIndex float64
	// UUID is generated when empty.
	UUID string
}

// InsertBook adds a row to books and returns the full row as stored.
// The path is filled in later by UpdatePath.
func (b *Backend) InsertBook(ctx context.Context, c Conn, nb NewBook) (BookRow, error) {
	if nb.UUID == "" {
		nb.UUID = uuid.NewString()
	}
	if nb.Timestamp.IsZero() {
		nb.Timestamp = b.Now()
	}
	now := b.Now()
	id, err := c.InsertID(ctx, `
		INSERT INTO books(title, sort, author_sort, timestamp, pubdate, series_index, uuid, last_modified)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		nb.Title, nb.Sort, nb.AuthorSort, formatTime(nb.Timestamp), nullTime(nb.PubDate),
		nb.SeriesIndex, nb.UUID, formatTime(now))
	if err != nil {
		return BookRow{}, fmt.Errorf("insert book: %w", err)
	}
	return BookRow{
		ID:           id,
		Title:        nb.Title,
		Sort:         nb.Sort,
		AuthorSort:   nb.AuthorSort,
		UUID:         nb.UUID,
		Timestamp:    nb.Timestamp.UTC(),
		PubDate:      nb.PubDate,
		LastModified: now,
		SeriesIndex:  nb.SeriesIndex,
	}, nil
}

// DeleteBookRows removes books. Link tables, comments, identifiers, data
// rows and the dirtied entry go with them through cascades.
func DeleteBookRows(ctx context.Context, c Conn, ids []int64) error {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id}
	}
	return c.ExecMany(ctx, "DELETE FROM books WHERE id=?", rows)
}

// UpdateLastModified stamps books with t.
func UpdateLastModified(ctx context.Context, c Conn, ids []int64, t time.Time) error {
	rows := make([][]any, len(ids))
	ts := formatTime(t)
	for i, id := range ids {
		rows[i] = []any{ts, id}
	}
	return c.ExecMany(ctx, "UPDATE books SET last_modified=? WHERE id=?", rows)
}
