package field

import (
	"iter"
	"time"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

// OneOneField holds at most one scalar value per book: books columns,
// comments and non-normalized custom columns.
type OneOneField struct {
	base
	vals map[int64]any

	// column is the books column, or "" when values live in table.
	column   string
	table    string
	valueCol string
	adapt    adaptFunc
	// notNull replaces null writes for NOT NULL columns.
	notNull func(wc *WriteContext) any
	// afterWrite runs inside the write transaction with the changed values.
	afterWrite func(wc *WriteContext, changed map[int64]any) error
}

// NewOneOne returns a field over vals, which it takes ownership of.
func NewOneOne(meta *fieldmeta.Field, vals map[int64]any) *OneOneField {
	f := &OneOneField{
		base:  base{meta: meta},
		vals:  vals,
		adapt: adapterFor(meta),
	}
	if f.vals == nil {
		f.vals = make(map[int64]any)
	}
	switch {
	case meta.Column != "":
		f.column = meta.Column
	case meta.Key == "comments":
		f.table, f.valueCol = "comments", "text"
	default:
		f.table, f.valueCol = meta.Table, "value"
	}
	return f
}

// ForBook returns the value of bookID or def.
func (f *OneOneField) ForBook(bookID int64, def any) any {
	if v, ok := f.vals[bookID]; ok && v != nil {
		return v
	}
	return def
}

// Books returns every book holding a value.
func (f *OneOneField) Books() IDSet {
	s := make(IDSet, len(f.vals))
	for id := range f.vals {
		s[id] = struct{}{}
	}
	return s
}

// Set stores v in memory only. Used when the database was updated by
// other means, such as a new book row.
func (f *OneOneField) Set(bookID int64, v any) {
	if v == nil {
		delete(f.vals, bookID)
		return
	}
	f.vals[bookID] = v
}

// SortKeys implements Field.
func (f *OneOneField) SortKeys(sc *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		out[id] = f.sortKey(sc, f.vals[id])
	}
	return out
}

func (f *OneOneField) sortKey(sc *SortContext, v any) SortKey {
	switch f.meta.Datatype {
	case fieldmeta.Datetime:
		t, _ := v.(time.Time)
		return SortKey{sc.dateKey(f.meta.Key, t)}
	case fieldmeta.Int, fieldmeta.Float, fieldmeta.Rating:
		return SortKey{numberKey(v)}
	case fieldmeta.Bool:
		return SortKey{boolKey(v)}
	}
	s, _ := v.(string)
	return SortKey{sc.textKey(s)}
}

// SearchableValues implements Field.
func (f *OneOneField) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		groups := make(map[any]IDSet)
		for id := range candidates {
			v, ok := f.vals[id]
			if !ok || v == nil {
				continue
			}
			if t, isTime := v.(time.Time); isTime {
				v = t.UTC()
			}
			if groups[v] == nil {
				groups[v] = IDSet{}
			}
			groups[v][id] = struct{}{}
		}
		for v, books := range groups {
			if !yield(v, books) {
				return
			}
		}
	}
}

// RemoveBooks implements Field.
func (f *OneOneField) RemoveBooks(ids IDSet) []int64 {
	for id := range ids {
		delete(f.vals, id)
	}
	return nil
}

// Write implements Writer.
func (f *OneOneField) Write(wc *WriteContext, vals map[int64]any) (IDSet, error) {
	changed := make(map[int64]any, len(vals))
	for id, raw := range vals {
		v, err := f.adapt(raw)
		if err != nil {
			return nil, err
		}
		if v == nil && f.notNull != nil {
			v = f.notNull(wc)
		}
		if valuesEqual(v, f.vals[id]) {
			continue
		}
		changed[id] = v
	}
	if len(changed) == 0 {
		return IDSet{}, nil
	}
	if err := f.store(wc, changed); err != nil {
		return nil, err
	}
	if f.afterWrite != nil {
		if err := f.afterWrite(wc, changed); err != nil {
			return nil, err
		}
	}
	wc.OnCommit(func() {
		for id, v := range changed {
			f.Set(id, v)
		}
	})
	dirtied := make(IDSet, len(changed))
	for id := range changed {
		dirtied[id] = struct{}{}
	}
	return dirtied, nil
}

func (f *OneOneField) store(wc *WriteContext, vals map[int64]any) error {
	if f.column != "" {
		return backend.SetBookColumn(wc.Ctx, wc.Conn, f.column, vals)
	}
	return backend.SetOneOneTable(wc.Ctx, wc.Conn, f.table, f.valueCol, vals)
}
