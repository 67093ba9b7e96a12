package cache

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/metadata"
)

// CreateOptions tune CreateBookEntry.
type CreateOptions struct {
	// PreserveUUID keeps mi.UUID instead of generating a new one.
	PreserveUUID bool
	// ApplyDefaults adds the new_book_tags preference to books without
	// tags.
	ApplyDefaults bool
}

// newEntry is the validated input of a new book row.
type newEntry struct {
	Title string `validate:"max=4096"`
	UUID  string `validate:"omitempty,uuid"`
}

// CreateBookEntry adds a book without any format files and returns its id.
func (c *Cache) CreateBookEntry(ctx context.Context, mi *metadata.Metadata, opts CreateOptions) (int64, error) {
	ctx, release, err := c.writeAPI(ctx, "CreateBookEntry")
	if err != nil {
		return 0, err
	}
	defer release()
	return c.createBookEntry(ctx, mi, opts)
}

func (c *Cache) createBookEntry(ctx context.Context, mi *metadata.Metadata, opts CreateOptions) (int64, error) {
	mi = mi.Clone()
	mi.Title = strings.TrimSpace(mi.Title)
	if mi.Title == "" {
		mi.Title = metadata.Unknown
	}
	if len(mi.Authors) == 0 {
		mi.Authors = []string{metadata.Unknown}
	}
	if !opts.PreserveUUID {
		mi.UUID = ""
	}
	if err := c.validate.Validate(newEntry{Title: mi.Title, UUID: mi.UUID}); err != nil {
		return 0, err
	}

	lang := ""
	if len(mi.Languages) > 0 {
		lang = mi.Languages[0]
	}
	nb := backend.NewBook{
		Title:       mi.Title,
		Sort:        mi.TitleSort,
		AuthorSort:  mi.AuthorSort,
		Timestamp:   mi.Timestamp,
		PubDate:     mi.PubDate,
		SeriesIndex: 1,
		UUID:        mi.UUID,
	}
	if nb.Sort == "" {
		nb.Sort = metadata.TitleSort(mi.Title, lang)
	}
	if nb.AuthorSort == "" {
		nb.AuthorSort = c.authorSortFromAuthors(mi.Authors)
	}
	if nb.Timestamp.IsZero() {
		nb.Timestamp = c.backend.Now()
	}
	if mi.SeriesIndex != nil {
		nb.SeriesIndex = *mi.SeriesIndex
	}

	var row backend.BookRow
	_, err := c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		var err error
		if row, err = c.backend.InsertBook(ctx, wc.Conn, nb); err != nil {
			return nil, err
		}
		wc.OnCommit(func() {
			fs := c.fields
			fs.Title.Set(row.ID, row.Title)
			fs.Sort.Set(row.ID, row.Sort)
			fs.AuthorSort.Set(row.ID, row.AuthorSort)
			fs.UUID.Set(row.ID, row.UUID)
			fs.SeriesIndex.Set(row.ID, row.SeriesIndex)
			fs.Cover.Set(row.ID, false)
			fs.Path.Set(row.ID, "")
			fs.Timestamp.Set(row.ID, row.Timestamp)
			if !row.PubDate.IsZero() {
				fs.PubDate.Set(row.ID, row.PubDate)
			}
		})
		return field.NewIDSet(row.ID), nil
	})
	if err != nil {
		return 0, err
	}

	if opts.ApplyDefaults && len(mi.Tags) == 0 {
		mi.Tags = c.backend.Prefs.GetStrings(backend.PrefNewBookTags)
	}
	// Title, sort and dates are already on the row.
	mi.TitleSort = ""
	mi.Timestamp = row.Timestamp
	if err := c.setMetadata(ctx, row.ID, mi, SetMetadataOptions{IgnoreErrors: true}); err != nil {
		return row.ID, err
	}
	c.logger.Debug("book created", "book_id", row.ID, "title", mi.Title)
	return row.ID, nil
}

// ProgressFunc reports one book of a bulk operation.
type ProgressFunc func(bookID int64, mi *metadata.Metadata, ok bool)

// BookEntry is one book handed to AddBooks.
type BookEntry struct {
	Metadata *metadata.Metadata
	// Formats maps each format to the file to copy in.
	Formats map[string]string
}

// AddOptions tune AddBooks.
type AddOptions struct {
	// AddDuplicates adds books even when an identical one exists.
	AddDuplicates bool
	CreateOptions
	// Progress is called after each entry. A skipped duplicate reports
	// book id 0 and ok false.
	Progress ProgressFunc
}

// AddBooks creates books and copies their format files in. It returns the
// ids of the created books and the indexes of the entries skipped as
// duplicates of existing books.
func (c *Cache) AddBooks(ctx context.Context, entries []BookEntry, opts AddOptions) ([]int64, []int, error) {
	ctx, release, err := c.writeAPI(ctx, "AddBooks")
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var (
		ids        []int64
		duplicates []int
	)
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return ids, duplicates, err
		}
		mi := e.Metadata
		if mi == nil {
			mi = metadata.New(metadata.Unknown)
		}
		if !opts.AddDuplicates && len(c.findIdentical(mi)) > 0 {
			duplicates = append(duplicates, i)
			if opts.Progress != nil {
				opts.Progress(0, mi, false)
			}
			continue
		}
		id, err := c.createBookEntry(ctx, mi, opts.CreateOptions)
		if err != nil {
			return ids, duplicates, err
		}
		ids = append(ids, id)
		for _, format := range slices.Sorted(maps.Keys(e.Formats)) {
			if err := c.addFormatFile(ctx, id, format, e.Formats[format]); err != nil {
				return ids, duplicates, err
			}
		}
		if opts.Progress != nil {
			opts.Progress(id, mi, true)
		}
	}
	c.logger.Info("books added",
		"added", len(ids),
		"duplicates", len(duplicates),
	)
	return ids, duplicates, nil
}

func (c *Cache) addFormatFile(ctx context.Context, bookID int64, format, path string) error {
	f, err := os.Open(path) //#nosec G304 -- caller supplied import file
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	_, err = c.addFormat(ctx, bookID, format, f, true)
	return err
}

// findIdentical returns the books with the same title, ignoring case and
// accents, that share at least one author with mi.
func (c *Cache) findIdentical(mi *metadata.Metadata) IDSet {
	out := IDSet{}
	authors := make(map[string]bool, len(mi.Authors))
	for _, a := range mi.Authors {
		authors[c.coll.Lower(strings.TrimSpace(a))] = true
	}
	for id := range c.fields.BookIDs() {
		title, _ := c.fields.Title.ForBook(id, "").(string)
		if !c.coll.PrimaryEqual(title, mi.Title) {
			continue
		}
		for _, a := range c.fields.Authors.Strings(id) {
			if authors[c.coll.Lower(a)] {
				out.Add(id)
				break
			}
		}
	}
	return out
}

// RemoveBooks deletes books. Without permanent their folders go to the
// library trash. Items no longer used by any book are deleted too.
func (c *Cache) RemoveBooks(ctx context.Context, bookIDs []int64, permanent bool) error {
	ctx, release, err := c.writeAPI(ctx, "RemoveBooks")
	if err != nil {
		return err
	}
	defer release()

	paths := make(map[int64]string, len(bookIDs))
	for _, id := range bookIDs {
		if c.hasBook(id) {
			paths[id] = c.bookPath(id)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	fileErr := c.backend.RemoveBooks(ctx, paths, permanent)
	if fileErr != nil && !errors.Is(fileErr, backend.ErrBookFiles) {
		return fileErr
	}

	removed := IDSet{}
	for id := range paths {
		removed.Add(id)
	}
	unused := make(map[string][]int64)
	for key, f := range c.fields.All() {
		if gone := f.RemoveBooks(removed); len(gone) > 0 {
			unused[key] = gone
		}
	}
	if len(unused) > 0 {
		err := c.backend.WithTx(ctx, func(conn backend.Conn) error {
			for _, key := range slices.Sorted(maps.Keys(unused)) {
				itf, ok := c.itemField(key)
				if !ok {
					continue
				}
				if err := itf.Spec().DeleteItems(ctx, conn, unused[key]); err != nil {
					return fmt.Errorf("delete unused %s: %w", key, err)
				}
			}
			return nil
		})
		if err != nil {
			c.logger.Warn("unused items left in database", "error", err)
		}
	}
	for id := range removed {
		delete(c.dirtied, id)
		delete(c.marked, id)
	}
	c.afterWrite(nil, removed)
	c.logger.Info("books removed", "count", len(removed), "permanent", permanent)
	return fileErr
}

// SetCover sets the covers of books. Empty data removes the cover. It
// returns the books changed.
func (c *Cache) SetCover(ctx context.Context, covers map[int64][]byte) (IDSet, error) {
	ctx, release, err := c.writeAPI(ctx, "SetCover")
	if err != nil {
		return nil, err
	}
	defer release()
	return c.setCover(ctx, covers)
}

func (c *Cache) setCover(ctx context.Context, covers map[int64][]byte) (IDSet, error) {
	return c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		changed := IDSet{}
		for _, id := range slices.Sorted(maps.Keys(covers)) {
			if !c.hasBook(id) {
				continue
			}
			data := covers[id]
			if len(data) == 0 {
				data = nil
			}
			if err := c.backend.SetCover(ctx, wc.Conn, id, c.bookPath(id), data); err != nil {
				return nil, err
			}
			has := data != nil
			wc.OnCommit(func() { c.fields.Cover.Set(id, has) })
			changed.Add(id)
		}
		return changed, nil
	})
}

// AddFormat stores the contents of r as a format of a book. An existing
// file of that format is kept unless replace is set. It reports whether
// the format was written.
func (c *Cache) AddFormat(ctx context.Context, bookID int64, format string, r io.Reader, replace bool) (bool, error) {
	ctx, release, err := c.writeAPI(ctx, "AddFormat")
	if err != nil {
		return false, err
	}
	defer release()
	return c.addFormat(ctx, bookID, format, r, replace)
}

func (c *Cache) addFormat(ctx context.Context, bookID int64, format string, r io.Reader, replace bool) (bool, error) {
	format = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if err := c.validate.Var(format, `required,max=32,excludesall=/\:`); err != nil {
		return false, err
	}
	if !c.hasBook(bookID) {
		return false, errors.NotFoundf("book %d not found", bookID)
	}
	fs := c.fields
	if fs.Formats.Has(bookID, format) && !replace {
		return false, nil
	}
	name, ok := fs.Formats.Name(bookID, format)
	if !ok {
		for _, other := range fs.Formats.Names(bookID) {
			name = other
			break
		}
	}
	if name == "" {
		title, _ := fs.Title.ForBook(bookID, metadata.Unknown).(string)
		author := metadata.Unknown
		if authors := fs.Authors.Strings(bookID); len(authors) > 0 {
			author = authors[0]
		}
		name = backend.ConstructFileName(title, author, len(format)+1)
	}
	path := c.bookPath(bookID)

	_, err := c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		size, err := c.backend.AddFormat(ctx, wc.Conn, bookID, format, r, path, name)
		if err != nil {
			return nil, err
		}
		wc.OnCommit(func() { fs.Formats.Set(bookID, format, name, size) })
		return field.NewIDSet(bookID), nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFormats deletes format files of books.
func (c *Cache) RemoveFormats(ctx context.Context, formats map[int64][]string) error {
	ctx, release, err := c.writeAPI(ctx, "RemoveFormats")
	if err != nil {
		return err
	}
	defer release()
	fs := c.fields
	_, err = c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		changed := IDSet{}
		for _, id := range slices.Sorted(maps.Keys(formats)) {
			var gone []string
			for _, format := range formats[id] {
				format = strings.ToUpper(format)
				name, ok := fs.Formats.Name(id, format)
				if !ok {
					continue
				}
				if err := c.backend.RemoveFormat(ctx, wc.Conn, id, format, c.bookPath(id), name); err != nil {
					return nil, err
				}
				gone = append(gone, format)
			}
			if len(gone) == 0 {
				continue
			}
			wc.OnCommit(func() { fs.Formats.Remove(id, gone...) })
			changed.Add(id)
		}
		return changed, nil
	})
	return err
}
