package backend

import (
	"context"
	"fmt"
)

// DirtiedBooks returns the ids queued for an OPF backup.
func (b *Backend) DirtiedBooks(ctx context.Context) ([]int64, error) {
	rows, err := b.Conn().Query(ctx, "SELECT book FROM metadata_dirtied ORDER BY book")
	if err != nil {
		return nil, fmt.Errorf("read dirtied: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dirtied: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkDirtied queues books for backup. Already queued books are left alone.
func MarkDirtied(ctx context.Context, c Conn, ids []int64) error {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id}
	}
	return c.ExecMany(ctx, "INSERT OR IGNORE INTO metadata_dirtied(book) VALUES(?)", rows)
}

// ClearDirtied removes books from the backup queue.
func ClearDirtied(ctx context.Context, c Conn, ids ...int64) error {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id}
	}
	return c.ExecMany(ctx, "DELETE FROM metadata_dirtied WHERE book=?", rows)
}
