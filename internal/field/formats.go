package field

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

type formatEntry struct {
	name string
	size int64
}

// FormatsField records the format files of each book. It is changed only
// through format operations, never by field writes.
type FormatsField struct {
	base
	vals map[int64]map[string]formatEntry
}

// NewFormats returns a field over the loaded data rows.
func NewFormats(meta *fieldmeta.Field, src map[int64][]backend.Format) *FormatsField {
	f := &FormatsField{base: base{meta: meta}, vals: make(map[int64]map[string]formatEntry)}
	for book, fmts := range src {
		for _, fm := range fmts {
			f.Set(book, fm.Format, fm.Name, fm.Size)
		}
	}
	return f
}

// ForBook returns the sorted upper-case formats of a book, or def.
func (f *FormatsField) ForBook(bookID int64, def any) any {
	m := f.vals[bookID]
	if len(m) == 0 {
		return def
	}
	return slices.Sorted(maps.Keys(m))
}

// Formats returns the formats of a book, possibly empty.
func (f *FormatsField) Formats(bookID int64) []string {
	return slices.Sorted(maps.Keys(f.vals[bookID]))
}

// Has reports whether the book records the format.
func (f *FormatsField) Has(bookID int64, format string) bool {
	_, ok := f.vals[bookID][strings.ToUpper(format)]
	return ok
}

// Name returns the file name, without extension, of a format.
func (f *FormatsField) Name(bookID int64, format string) (string, bool) {
	e, ok := f.vals[bookID][strings.ToUpper(format)]
	return e.name, ok
}

// Names maps each format of a book to its file name.
func (f *FormatsField) Names(bookID int64) map[string]string {
	out := make(map[string]string, len(f.vals[bookID]))
	for fm, e := range f.vals[bookID] {
		out[fm] = e.name
	}
	return out
}

// FormatSize returns the recorded size of a format.
func (f *FormatsField) FormatSize(bookID int64, format string) int64 {
	return f.vals[bookID][strings.ToUpper(format)].size
}

// Size returns the largest format size of a book.
func (f *FormatsField) Size(bookID int64) int64 {
	var n int64
	for _, e := range f.vals[bookID] {
		n = max(n, e.size)
	}
	return n
}

// Set records a format in memory.
func (f *FormatsField) Set(bookID int64, format, name string, size int64) {
	m := f.vals[bookID]
	if m == nil {
		m = make(map[string]formatEntry)
		f.vals[bookID] = m
	}
	m[strings.ToUpper(format)] = formatEntry{name: name, size: size}
}

// Rename records new file names for formats of a book.
func (f *FormatsField) Rename(bookID int64, names map[string]string) {
	for fm, name := range names {
		if e, ok := f.vals[bookID][fm]; ok {
			e.name = name
			f.vals[bookID][fm] = e
		}
	}
}

// Remove forgets formats of a book.
func (f *FormatsField) Remove(bookID int64, formats ...string) {
	m := f.vals[bookID]
	for _, fm := range formats {
		delete(m, strings.ToUpper(fm))
	}
	if len(m) == 0 {
		delete(f.vals, bookID)
	}
}

// SortKeys implements Field.
func (f *FormatsField) SortKeys(_ *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		fmts := f.Formats(id)
		key := make(SortKey, len(fmts))
		for i, fm := range fmts {
			key[i] = fm
		}
		out[id] = key
	}
	return out
}

// SearchableValues implements Field.
func (f *FormatsField) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		groups := make(map[string]IDSet)
		for id := range candidates {
			for fm := range f.vals[id] {
				if groups[fm] == nil {
					groups[fm] = IDSet{}
				}
				groups[fm].Add(id)
			}
		}
		for fm, books := range groups {
			if !yield(fm, books) {
				return
			}
		}
	}
}

// RemoveBooks implements Field.
func (f *FormatsField) RemoveBooks(ids IDSet) []int64 {
	for id := range ids {
		delete(f.vals, id)
	}
	return nil
}
