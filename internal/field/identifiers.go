package field

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

// IdentifiersField holds the type:value pairs of each book.
type IdentifiersField struct {
	base
	vals map[int64]map[string]string
}

// NewIdentifiers returns a field over vals, which it takes ownership of.
func NewIdentifiers(meta *fieldmeta.Field, vals map[int64]map[string]string) *IdentifiersField {
	if vals == nil {
		vals = make(map[int64]map[string]string)
	}
	return &IdentifiersField{base: base{meta: meta}, vals: vals}
}

// ForBook returns a copy of the identifiers of a book, or def when it has
// none.
func (f *IdentifiersField) ForBook(bookID int64, def any) any {
	m := f.vals[bookID]
	if len(m) == 0 {
		return def
	}
	return maps.Clone(m)
}

// Map returns a copy of the identifiers of a book, never nil.
func (f *IdentifiersField) Map(bookID int64) map[string]string {
	m := maps.Clone(f.vals[bookID])
	if m == nil {
		m = make(map[string]string)
	}
	return m
}

// Types lists every identifier type in use.
func (f *IdentifiersField) Types() []string {
	seen := make(map[string]bool)
	for _, m := range f.vals {
		for typ := range m {
			seen[typ] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// SortKeys implements Field.
func (f *IdentifiersField) SortKeys(sc *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		m := f.vals[id]
		key := make(SortKey, 0, len(m))
		for _, typ := range slices.Sorted(maps.Keys(m)) {
			key = append(key, sc.textKey(typ+":"+m[typ]))
		}
		out[id] = key
	}
	return out
}

// SearchableValues yields the identifier map of each candidate holding
// any.
func (f *IdentifiersField) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		for id := range candidates {
			m := f.vals[id]
			if len(m) == 0 {
				continue
			}
			if !yield(m, NewIDSet(id)) {
				return
			}
		}
	}
}

// RemoveBooks implements Field.
func (f *IdentifiersField) RemoveBooks(ids IDSet) []int64 {
	for id := range ids {
		delete(f.vals, id)
	}
	return nil
}

// Write replaces whole identifier maps. Values may be a
// map[string]string, or a string of comma separated type:value pairs.
func (f *IdentifiersField) Write(wc *WriteContext, vals map[int64]any) (IDSet, error) {
	changed := make(map[int64]map[string]string)
	for book, raw := range vals {
		m, err := adaptIdentifiers(raw)
		if err != nil {
			return nil, err
		}
		if maps.Equal(m, f.vals[book]) {
			continue
		}
		changed[book] = m
	}
	return f.store(wc, changed)
}

// SetOne sets or, with an empty value, removes one identifier of each book.
func (f *IdentifiersField) SetOne(wc *WriteContext, typ string, vals map[int64]string) (IDSet, error) {
	changed := make(map[int64]map[string]string)
	for book, val := range vals {
		m := f.Map(book)
		t := cleanIdentifierType(typ)
		if t == "" {
			return nil, errors.Validationf("invalid identifier type %q", typ)
		}
		_, v := CleanIdentifier(t, val)
		if v == "" {
			if _, ok := m[t]; !ok {
				continue
			}
			delete(m, t)
		} else {
			if m[t] == v {
				continue
			}
			m[t] = v
		}
		changed[book] = m
	}
	return f.store(wc, changed)
}

func (f *IdentifiersField) store(wc *WriteContext, changed map[int64]map[string]string) (IDSet, error) {
	dirtied := IDSet{}
	for _, book := range slices.Sorted(maps.Keys(changed)) {
		if err := backend.SetIdentifiers(wc.Ctx, wc.Conn, book, changed[book]); err != nil {
			return nil, err
		}
		dirtied.Add(book)
	}
	wc.OnCommit(func() {
		for book, m := range changed {
			if len(m) == 0 {
				delete(f.vals, book)
			} else {
				f.vals[book] = m
			}
		}
	})
	return dirtied, nil
}

func adaptIdentifiers(raw any) (map[string]string, error) {
	out := make(map[string]string)
	switch x := raw.(type) {
	case nil:
	case map[string]string:
		for t, v := range x {
			if t, v = CleanIdentifier(t, v); t != "" {
				out[t] = v
			}
		}
	case map[string]any:
		for t, v := range x {
			s, _ := v.(string)
			if t, s = CleanIdentifier(t, s); t != "" {
				out[t] = s
			}
		}
	case string:
		for _, pair := range strings.Split(x, ",") {
			t, v, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			if t, v = CleanIdentifier(t, v); t != "" {
				out[t] = v
			}
		}
	default:
		return nil, errors.Validationf("%v (%T) is not an identifier map", raw, raw)
	}
	return out, nil
}
