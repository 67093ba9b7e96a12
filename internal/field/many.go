package field

import (
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
)

// ManyOneField links each book to at most one item: series, publisher,
// rating and single-valued normalized custom columns.
type ManyOneField struct {
	items
	// indexOf returns the series index of a book for series fields.
	indexOf func(bookID int64) float64
}

// NewManyOne returns a field over the loaded table.
func NewManyOne(meta *fieldmeta.Field, spec backend.LinkSpec, src *backend.ItemTable) *ManyOneField {
	f := &ManyOneField{items: items{
		base:  base{meta: meta},
		t:     newItemTable(spec, src),
		adapt: adapterFor(meta),
	}}
	f.indexOf = func(bookID int64) float64 {
		if v, ok := f.t.extra[bookID]; ok {
			return v
		}
		return 1
	}
	return f
}

// ForBook implements Field.
func (f *ManyOneField) ForBook(bookID int64, def any) any {
	ids := f.t.bookCol[bookID]
	if len(ids) == 0 {
		return def
	}
	return f.t.values[ids[0]]
}

// SortKeys implements Field.
func (f *ManyOneField) SortKeys(sc *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		v := f.ForBook(id, nil)
		switch f.meta.Datatype {
		case fieldmeta.Series:
			name, _ := v.(string)
			if name == "" {
				out[id] = SortKey{""}
				continue
			}
			if sc.LibraryOrder {
				name = metadata.TitleSort(name, sc.lang(id))
			}
			out[id] = SortKey{sc.textKey(name), f.indexOf(id)}
		case fieldmeta.Rating, fieldmeta.Int, fieldmeta.Float:
			out[id] = SortKey{numberKey(v)}
		default:
			s, _ := v.(string)
			out[id] = SortKey{sc.textKey(s)}
		}
	}
	return out
}

// Write implements Writer.
func (f *ManyOneField) Write(wc *WriteContext, vals map[int64]any) (IDSet, error) {
	return f.WriteIndexed(wc, vals, nil)
}

// WriteIndexed is Write for series-like fields where some books also get
// a new index. Books whose link changes are linked at indices[book] when
// present; the others keep their current index.
func (f *ManyOneField) WriteIndexed(wc *WriteContext, vals map[int64]any, indices map[int64]float64) (IDSet, error) {
	r := f.t.resolver(wc)
	plan := make(map[int64][]int64, len(vals))
	for book, raw := range vals {
		v, err := f.adapt(raw)
		if err != nil {
			return nil, err
		}
		if v == nil {
			plan[book] = nil
			continue
		}
		id, err := r.resolve(v)
		if err != nil {
			return nil, err
		}
		plan[book] = []int64{id}
	}
	var extraFor func(int64) *float64
	if f.meta.Datatype == fieldmeta.Series {
		extraFor = func(book int64) *float64 {
			v, ok := indices[book]
			if !ok {
				v = f.indexOf(book)
			}
			return &v
		}
	}
	return f.t.apply(wc, r, plan, extraFor)
}

// ManyManyField links each book to an ordered list of items: authors,
// tags, languages and multi-valued custom columns.
type ManyManyField struct {
	items
	// authorSort is kept in step with the author list when set.
	authorSort *OneOneField
}

// NewManyMany returns a field over the loaded table.
func NewManyMany(meta *fieldmeta.Field, spec backend.LinkSpec, src *backend.ItemTable) *ManyManyField {
	return &ManyManyField{items: items{
		base:  base{meta: meta},
		t:     newItemTable(spec, src),
		adapt: adaptText,
	}}
}

// ForBook returns the values of a book as a fresh []string, or def when
// it has none.
func (f *ManyManyField) ForBook(bookID int64, def any) any {
	ids := f.t.bookCol[bookID]
	if len(ids) == 0 {
		return def
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i], _ = f.t.values[id].(string)
	}
	return out
}

// Strings returns the values of a book; nil when it has none.
func (f *ManyManyField) Strings(bookID int64) []string {
	v, _ := f.ForBook(bookID, nil).([]string)
	return v
}

// AuthorSortFor joins the sort strings of a book's authors.
func (f *ManyManyField) AuthorSortFor(bookID int64, method string) string {
	ids := f.t.bookCol[bookID]
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		s := f.t.sorts[id]
		if s == "" {
			name, _ := f.t.values[id].(string)
			s = metadata.AuthorToAuthorSort(name, method)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " & ")
}

// SortKeys implements Field. Name lists keep their order and sort on each
// name's sort form; other lists sort on their sorted values.
func (f *ManyManyField) SortKeys(sc *SortContext, ids []int64) map[int64]SortKey {
	names := f.meta.IsNames()
	out := make(map[int64]SortKey, len(ids))
	for _, book := range ids {
		linked := f.t.bookCol[book]
		key := make(SortKey, 0, len(linked))
		if names {
			for _, id := range linked {
				s := f.t.sorts[id]
				if s == "" {
					name, _ := f.t.values[id].(string)
					s = metadata.AuthorToAuthorSort(name, sc.AuthorSortMethod)
				}
				key = append(key, sc.textKey(s))
			}
		} else {
			keys := make([]string, 0, len(linked))
			for _, id := range linked {
				s, _ := f.t.values[id].(string)
				keys = append(keys, sc.textKey(s))
			}
			slices.Sort(keys)
			for _, k := range keys {
				key = append(key, k)
			}
		}
		out[book] = key
	}
	return out
}

func (f *ManyManyField) adaptList(wc *WriteContext, raw any) ([]string, error) {
	var (
		vals []string
		err  error
	)
	if s, ok := raw.(string); ok && f.meta.IsNames() {
		vals = metadata.StringToAuthors(s)
	} else {
		sep := ","
		if f.meta.IsMultiple != nil {
			sep = f.meta.IsMultiple.UIToList
		}
		if vals, err = adaptList(raw, sep); err != nil {
			return nil, err
		}
	}
	switch {
	case f.meta.Key == "languages":
		return adaptLanguages(vals), nil
	case f.meta.Key == "authors" && len(vals) == 0:
		return []string{metadata.Unknown}, nil
	}
	return uniqFold(vals, wc.lower), nil
}

// Write implements Writer.
func (f *ManyManyField) Write(wc *WriteContext, vals map[int64]any) (IDSet, error) {
	r := f.t.resolver(wc)
	plan := make(map[int64][]int64, len(vals))
	for book, raw := range vals {
		list, err := f.adaptList(wc, raw)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(list))
		for _, v := range list {
			id, err := r.resolve(v)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			ids = nil
		}
		plan[book] = ids
	}
	caseBooks := r.caseDirtied()
	dirtied, err := f.t.apply(wc, r, plan, nil)
	if err != nil || f.authorSort == nil {
		return dirtied, err
	}

	sorts := make(map[int64]any)
	for book := range dirtied {
		ids, planned := plan[book]
		if !planned {
			ids = f.t.bookCol[book]
		}
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, r.sortOf(id))
		}
		s := strings.Join(parts, " & ")
		if !planned && caseBooks.Has(book) {
			cur, _ := f.authorSort.ForBook(book, "").(string)
			if !strings.EqualFold(cur, s) {
				continue
			}
		}
		sorts[book] = s
	}
	if _, err := f.authorSort.Write(wc, sorts); err != nil {
		return nil, err
	}
	return dirtied, nil
}
