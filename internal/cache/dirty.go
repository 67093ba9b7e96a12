package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/metadata"
)

// CoverFileName is the cover reference written into every OPF backup.
const CoverFileName = "cover.jpg"

// GetADirtiedBook returns any book waiting for a metadata backup.
func (c *Cache) GetADirtiedBook(ctx context.Context) (int64, bool) {
	_, release := c.readAPI(ctx, "GetADirtiedBook")
	defer release()
	for id := range c.dirtied {
		return id, true
	}
	return 0, false
}

// DirtiedBooks returns the ids of every book waiting for a backup, in
// ascending order.
func (c *Cache) DirtiedBooks(ctx context.Context) []int64 {
	_, release := c.readAPI(ctx, "DirtiedBooks")
	defer release()
	ids := make([]int64, 0, len(c.dirtied))
	for id := range c.dirtied {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DirtyQueueLength returns the number of books waiting for a backup.
func (c *Cache) DirtyQueueLength(ctx context.Context) int {
	_, release := c.readAPI(ctx, "DirtyQueueLength")
	defer release()
	return len(c.dirtied)
}

// DirtySequence returns the dirty sequence of a queued book.
func (c *Cache) DirtySequence(ctx context.Context, bookID int64) (uint64, bool) {
	_, release := c.readAPI(ctx, "DirtySequence")
	defer release()
	seq, ok := c.dirtied[bookID]
	return seq, ok
}

// GetMetadataForDump returns what a backup of the book should contain and
// the dirty sequence it reflects. The metadata is nil when the book is
// gone or has no folder yet; the sequence is zero when the book is not
// queued.
func (c *Cache) GetMetadataForDump(ctx context.Context, bookID int64) (*metadata.Metadata, uint64) {
	_, release := c.readAPI(ctx, "GetMetadataForDump")
	defer release()
	return c.metadataForDump(bookID)
}

func (c *Cache) metadataForDump(bookID int64) (*metadata.Metadata, uint64) {
	seq := c.dirtied[bookID]
	if c.bookPath(bookID) == "" {
		return nil, seq
	}
	mi, err := c.getMetadata(bookID, false)
	if err != nil {
		return nil, seq
	}
	mi.Cover = CoverFileName
	return mi, seq
}

// ClearDirtied drops a book from the backup queue, but only when its dirty
// sequence is still seq. A book changed again since seq was read stays
// queued.
func (c *Cache) ClearDirtied(ctx context.Context, bookID int64, seq uint64) error {
	ctx, release, err := c.writeAPI(ctx, "ClearDirtied")
	if err != nil {
		return err
	}
	defer release()
	return c.clearDirtied(ctx, bookID, seq)
}

func (c *Cache) clearDirtied(ctx context.Context, bookID int64, seq uint64) error {
	cur, ok := c.dirtied[bookID]
	if !ok || cur != seq {
		return nil
	}
	if err := c.backend.WithTx(ctx, func(conn backend.Conn) error {
		return backend.ClearDirtied(ctx, conn, bookID)
	}); err != nil {
		return fmt.Errorf("clear dirtied %d: %w", bookID, err)
	}
	delete(c.dirtied, bookID)
	return nil
}

// ReadBackup returns the OPF backup of a book.
func (c *Cache) ReadBackup(ctx context.Context, bookID int64) ([]byte, error) {
	_, release := c.readAPI(ctx, "ReadBackup")
	defer release()
	if !c.hasBook(bookID) {
		return nil, errors.NotFoundf("book %d not found", bookID)
	}
	raw, err := c.backend.ReadBackup(c.bookPath(bookID))
	if err != nil {
		return nil, errors.NotFoundf("no backup for book %d", bookID).WithCause(err)
	}
	return raw, nil
}

// WriteBackup stores raw as the OPF backup of a book.
func (c *Cache) WriteBackup(ctx context.Context, bookID int64, raw []byte) error {
	_, release, err := c.writeAPI(ctx, "WriteBackup")
	if err != nil {
		return err
	}
	defer release()
	return c.writeBackup(bookID, raw)
}

func (c *Cache) writeBackup(bookID int64, raw []byte) error {
	if !c.hasBook(bookID) {
		return errors.NotFoundf("book %d not found", bookID)
	}
	return c.backend.WriteBackup(c.bookPath(bookID), raw)
}

// DumpMetadata writes the OPF backup of books in one go, nil meaning every
// queued book. With clear the books leave the queue. progress, when set,
// is called for each book with whether its backup was written.
func (c *Cache) DumpMetadata(ctx context.Context, bookIDs []int64, clear bool, progress ProgressFunc) error {
	ctx, release, err := c.writeAPI(ctx, "DumpMetadata")
	if err != nil {
		return err
	}
	defer release()
	if bookIDs == nil {
		for id := range c.dirtied {
			bookIDs = append(bookIDs, id)
		}
	}
	var errs []error
	for _, id := range bookIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		mi, err := c.dumpOne(ctx, id, clear)
		if err != nil {
			errs = append(errs, err)
		}
		if progress != nil {
			progress(id, mi, err == nil && mi != nil)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) dumpOne(ctx context.Context, bookID int64, clear bool) (*metadata.Metadata, error) {
	mi, seq := c.metadataForDump(bookID)
	if mi == nil {
		if clear {
			return nil, c.clearDirtied(ctx, bookID, seq)
		}
		return nil, nil
	}
	raw, err := metadata.ToOPF(mi)
	if err != nil {
		return mi, fmt.Errorf("serialise book %d: %w", bookID, err)
	}
	if err := c.writeBackup(bookID, raw); err != nil {
		return mi, fmt.Errorf("write backup of book %d: %w", bookID, err)
	}
	if clear {
		return mi, c.clearDirtied(ctx, bookID, seq)
	}
	return mi, nil
}
