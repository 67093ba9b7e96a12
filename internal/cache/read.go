package cache

import (
	"context"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
)

// alwaysSet are the fields every book holds a value for. Defaults passed
// to FieldFor are ignored for them.
//
//nolint:gochecknoglobals // Read-only set
var alwaysSet = map[string]bool{
	"title":        true,
	"sort":         true,
	"authors":      true,
	"author_sort":  true,
	"series_index": true,
}

// FieldFor returns the value of a field for one book, or def when it has
// none. Many-valued fields return an ordered []string, identifiers a
// map[string]string; both are empty rather than def when unset. Unknown
// books return def.
func (c *Cache) FieldFor(ctx context.Context, name string, bookID int64, def any) (any, error) {
	_, release := c.readAPI(ctx, "FieldFor")
	defer release()
	return c.fieldFor(name, bookID, def)
}

func (c *Cache) fieldFor(name string, bookID int64, def any) (any, error) {
	meta, err := c.resolveKey(name)
	if err != nil {
		return nil, err
	}
	f, ok := c.fields.Get(meta.Key)
	if !ok {
		return nil, errors.Schemaf("no values for field %q", name)
	}
	if !c.hasBook(bookID) {
		return def, nil
	}
	switch {
	case meta.Kind == fieldmeta.ManyMany:
		v, _ := f.ForBook(bookID, nil).([]string)
		if v == nil {
			v = []string{}
		}
		return v, nil
	case meta.Kind == fieldmeta.IdentifiersKind:
		return c.fields.Identifiers.Map(bookID), nil
	case meta.Kind == fieldmeta.FormatsKind:
		return c.fields.Formats.Formats(bookID), nil
	case alwaysSet[meta.Key]:
		return f.ForBook(bookID, nil), nil
	}
	return f.ForBook(bookID, def), nil
}

// CompositeFor renders a composite column for a book. With mi the
// template is evaluated against mi instead of the stored fields and the
// render cache is bypassed.
func (c *Cache) CompositeFor(ctx context.Context, name string, bookID int64, mi *metadata.Metadata) (string, error) {
	_, release := c.readAPI(ctx, "CompositeFor")
	defer release()
	return c.compositeFor(name, bookID, mi)
}

func (c *Cache) compositeFor(name string, bookID int64, mi *metadata.Metadata) (string, error) {
	meta, err := c.resolveKey(name)
	if err != nil {
		return "", err
	}
	f, _ := c.fields.Get(meta.Key)
	cf, ok := f.(*field.CompositeField)
	if !ok {
		return "", errors.Schemaf("field %s is not a composite", meta.Key)
	}
	if mi != nil {
		return c.tmpl.Render(cf.Template(), &metadataValues{c: c, mi: mi, stack: []string{meta.Key}}), nil
	}
	if !c.hasBook(bookID) {
		return "", nil
	}
	return cf.Value(bookID), nil
}

// FieldIDsFor returns the item ids of a book in link order.
func (c *Cache) FieldIDsFor(ctx context.Context, name string, bookID int64) ([]int64, error) {
	_, release := c.readAPI(ctx, "FieldIDsFor")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(itf.IDsForBook(bookID)), nil
}

// BooksForField returns the books linked to an item.
func (c *Cache) BooksForField(ctx context.Context, name string, itemID int64) (IDSet, error) {
	_, release := c.readAPI(ctx, "BooksForField")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	return itf.BooksFor(itemID).Clone(), nil
}

// AllBookIDs returns every book in the library.
func (c *Cache) AllBookIDs(ctx context.Context) IDSet {
	_, release := c.readAPI(ctx, "AllBookIDs")
	defer release()
	return c.fields.BookIDs()
}

// HasBook reports whether bookID exists.
func (c *Cache) HasBook(ctx context.Context, bookID int64) bool {
	_, release := c.readAPI(ctx, "HasBook")
	defer release()
	return c.hasBook(bookID)
}

// AllFieldIDs returns every item id of a many-valued field.
func (c *Cache) AllFieldIDs(ctx context.Context, name string) ([]int64, error) {
	_, release := c.readAPI(ctx, "AllFieldIDs")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	return itf.ItemIDs(), nil
}

// AllFieldNames returns every distinct value of a many-valued field.
func (c *Cache) AllFieldNames(ctx context.Context, name string) ([]string, error) {
	_, release := c.readAPI(ctx, "AllFieldNames")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	ids := itf.ItemIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if v, ok := itf.ItemValue(id); ok {
			out = append(out, fmt.Sprint(v))
		}
	}
	slices.SortFunc(out, c.coll.Compare)
	return out, nil
}

// GetUsageCountByID returns the number of books using each item.
func (c *Cache) GetUsageCountByID(ctx context.Context, name string) (map[int64]int, error) {
	_, release := c.readAPI(ctx, "GetUsageCountByID")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int)
	for _, id := range itf.ItemIDs() {
		out[id] = itf.UsageCount(id)
	}
	return out, nil
}

// GetIDMap returns item id to value.
func (c *Cache) GetIDMap(ctx context.Context, name string) (map[int64]any, error) {
	_, release := c.readAPI(ctx, "GetIDMap")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]any)
	for _, id := range itf.ItemIDs() {
		out[id], _ = itf.ItemValue(id)
	}
	return out, nil
}

// GetItemID returns the id of the item with value, ignoring case.
func (c *Cache) GetItemID(ctx context.Context, name string, value any) (int64, bool, error) {
	_, release := c.readAPI(ctx, "GetItemID")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return 0, false, err
	}
	id, ok := itf.ItemID(value, c.coll.Lower)
	return id, ok, nil
}

// GetItemIDs looks up several values at once. Missing values are left out.
func (c *Cache) GetItemIDs(ctx context.Context, name string, values []string) (map[string]int64, error) {
	_, release := c.readAPI(ctx, "GetItemIDs")
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(values))
	for _, v := range values {
		if id, ok := itf.ItemID(v, c.coll.Lower); ok {
			out[v] = id
		}
	}
	return out, nil
}

// AuthorInfo is the stored data of one author.
type AuthorInfo struct {
	Name string
	Sort string
	Link string
}

// AuthorData returns the data of the given authors, or of every author
// when ids is empty.
func (c *Cache) AuthorData(ctx context.Context, ids ...int64) map[int64]AuthorInfo {
	_, release := c.readAPI(ctx, "AuthorData")
	defer release()
	itf, _ := c.itemField("authors")
	if len(ids) == 0 {
		ids = itf.ItemIDs()
	}
	out := make(map[int64]AuthorInfo, len(ids))
	for _, id := range ids {
		v, ok := itf.ItemValue(id)
		if !ok {
			continue
		}
		name, _ := v.(string)
		out[id] = AuthorInfo{Name: name, Sort: itf.ItemSort(id), Link: itf.ItemLink(id)}
	}
	return out
}

// AuthorSortFromAuthors derives the author sort of a list of authors,
// using the stored sort of authors already in the library.
func (c *Cache) AuthorSortFromAuthors(ctx context.Context, authors []string) string {
	_, release := c.readAPI(ctx, "AuthorSortFromAuthors")
	defer release()
	return c.authorSortFromAuthors(authors)
}

func (c *Cache) authorSortFromAuthors(authors []string) string {
	itf, _ := c.itemField("authors")
	method := c.authorSortMethod()
	parts := make([]string, 0, len(authors))
	for _, a := range authors {
		if id, ok := itf.ItemID(a, c.coll.Lower); ok {
			if s := itf.ItemSort(id); s != "" {
				parts = append(parts, s)
				continue
			}
		}
		parts = append(parts, metadata.AuthorToAuthorSort(a, method))
	}
	return strings.Join(parts, " & ")
}

// GetNextSeriesNumFor returns the index a new book in series would get:
// one past the largest whole index in use, or 1 for a new series.
func (c *Cache) GetNextSeriesNumFor(ctx context.Context, name, series string) (float64, error) {
	_, release := c.readAPI(ctx, "GetNextSeriesNumFor")
	defer release()
	meta, err := c.resolveKey(name)
	if err != nil {
		return 0, err
	}
	if !meta.IsSeriesLike() {
		return 0, errors.Schemaf("field %s is not a series", meta.Key)
	}
	itf, _ := c.itemField(meta.Key)
	id, ok := itf.ItemID(series, c.coll.Lower)
	if !ok {
		return 1, nil
	}
	idxKey := meta.Key + "_index"
	if meta.Key == "series" {
		idxKey = "series_index"
	}
	idxField, _ := c.fields.Get(idxKey)
	highest := 0.0
	for book := range itf.BooksFor(id) {
		if v, ok := idxField.ForBook(book, nil).(float64); ok {
			highest = max(highest, v)
		}
	}
	return math.Floor(highest) + 1, nil
}

// Pref returns a library preference.
func (c *Cache) Pref(ctx context.Context, key string) any {
	_, release := c.readAPI(ctx, "Pref")
	defer release()
	return c.backend.Prefs.Get(key)
}

func (c *Cache) bookPath(bookID int64) string {
	p, _ := c.fields.Path.ForBook(bookID, "").(string)
	return p
}

// FormatAbsPath returns the file of a format, or "".
func (c *Cache) FormatAbsPath(ctx context.Context, bookID int64, format string) string {
	_, release := c.readAPI(ctx, "FormatAbsPath")
	defer release()
	return c.formatAbsPath(bookID, format)
}

func (c *Cache) formatAbsPath(bookID int64, format string) string {
	name, ok := c.fields.Formats.Name(bookID, format)
	if !ok {
		return ""
	}
	return c.backend.FormatAbsPath(c.bookPath(bookID), format, name)
}

// HasFormat reports whether the format file of a book exists.
func (c *Cache) HasFormat(ctx context.Context, bookID int64, format string) bool {
	_, release := c.readAPI(ctx, "HasFormat")
	defer release()
	return c.formatAbsPath(bookID, format) != ""
}

// Formats lists the formats of a book. With verify only formats whose
// file exists are listed.
func (c *Cache) Formats(ctx context.Context, bookID int64, verify bool) []string {
	_, release := c.readAPI(ctx, "Formats")
	defer release()
	fmts := c.fields.Formats.Formats(bookID)
	if !verify {
		return fmts
	}
	return slices.DeleteFunc(fmts, func(f string) bool { return c.formatAbsPath(bookID, f) == "" })
}

// FormatMetadata stats the file of a format.
func (c *Cache) FormatMetadata(ctx context.Context, bookID int64, format string) (backend.FormatInfo, error) {
	_, release := c.readAPI(ctx, "FormatMetadata")
	defer release()
	name, ok := c.fields.Formats.Name(bookID, format)
	if !ok {
		return backend.FormatInfo{}, errors.NoSuchFormatf("book %d has no %s format", bookID, strings.ToUpper(format))
	}
	return c.backend.FormatMetadata(c.bookPath(bookID), format, name)
}

// CopyFormatTo streams a format file into w.
func (c *Cache) CopyFormatTo(ctx context.Context, bookID int64, format string, w io.Writer) error {
	_, release := c.readAPI(ctx, "CopyFormatTo")
	defer release()
	name, ok := c.fields.Formats.Name(bookID, format)
	if !ok {
		return errors.NoSuchFormatf("book %d has no %s format", bookID, strings.ToUpper(format))
	}
	return c.backend.CopyFormatTo(c.bookPath(bookID), format, name, w)
}

// OpenFormat opens a format file. The caller closes the reader.
func (c *Cache) OpenFormat(ctx context.Context, bookID int64, format string) (io.ReadCloser, error) {
	_, release := c.readAPI(ctx, "OpenFormat")
	defer release()
	name, ok := c.fields.Formats.Name(bookID, format)
	if !ok {
		return nil, errors.NoSuchFormatf("book %d has no %s format", bookID, strings.ToUpper(format))
	}
	return c.backend.OpenFormat(c.bookPath(bookID), format, name)
}

// CopyCoverTo streams the cover into w. It reports false when the book has
// no cover.
func (c *Cache) CopyCoverTo(ctx context.Context, bookID int64, w io.Writer) (bool, error) {
	_, release := c.readAPI(ctx, "CopyCoverTo")
	defer release()
	if !c.hasBook(bookID) {
		return false, nil
	}
	return c.backend.CopyCoverTo(c.bookPath(bookID), w)
}

// CoverData returns the cover bytes, or nil without a cover.
func (c *Cache) CoverData(ctx context.Context, bookID int64) ([]byte, error) {
	_, release := c.readAPI(ctx, "CoverData")
	defer release()
	if !c.hasBook(bookID) {
		return nil, nil
	}
	return c.backend.CoverData(c.bookPath(bookID))
}

// GetCustomBookData returns the values stored under name for books.
func (c *Cache) GetCustomBookData(ctx context.Context, name string, bookIDs []int64, def any) (map[int64]any, error) {
	_, release := c.readAPI(ctx, "GetCustomBookData")
	defer release()
	if bookIDs == nil {
		bookIDs = c.fields.BookIDs().Sorted()
	}
	return c.backend.CustomData().Get(name, bookIDs, def)
}

// GetIDsForCustomBookData lists the books holding a value under name.
func (c *Cache) GetIDsForCustomBookData(ctx context.Context, name string) ([]int64, error) {
	_, release := c.readAPI(ctx, "GetIDsForCustomBookData")
	defer release()
	return c.backend.CustomData().IDs(name)
}

// MarkedIDs returns the marked books and their mark text.
func (c *Cache) MarkedIDs(ctx context.Context) map[int64]string {
	_, release := c.readAPI(ctx, "MarkedIDs")
	defer release()
	return maps.Clone(c.marked)
}
