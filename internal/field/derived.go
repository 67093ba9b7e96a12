package field

import (
	"iter"
	"strconv"
	"strings"
	"sync"

	"github.com/listenupapp/folio/internal/fieldmeta"
)

// SeriesIndexField is the index companion of a custom series column. The
// values live on the series links.
type SeriesIndexField struct {
	base
	series *ManyOneField
}

// NewSeriesIndex returns the index field of series.
func NewSeriesIndex(meta *fieldmeta.Field, series *ManyOneField) *SeriesIndexField {
	return &SeriesIndexField{base: base{meta: meta}, series: series}
}

// ForBook returns the index of a book in its series, or def when it has
// no series.
func (f *SeriesIndexField) ForBook(bookID int64, def any) any {
	if len(f.series.t.bookCol[bookID]) == 0 {
		return def
	}
	return f.series.indexOf(bookID)
}

// SortKeys implements Field.
func (f *SeriesIndexField) SortKeys(_ *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		out[id] = SortKey{numberKey(f.ForBook(id, 0.0))}
	}
	return out
}

// SearchableValues implements Field.
func (f *SeriesIndexField) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return groupValues(candidates, func(id int64) any { return f.ForBook(id, nil) })
}

// Write sets the index of books that have a series. Null means 1.
func (f *SeriesIndexField) Write(wc *WriteContext, vals map[int64]any) (IDSet, error) {
	t := f.series.t
	changed := make(map[int64]float64)
	for book, raw := range vals {
		v, err := adaptFloat(raw)
		if err != nil {
			return nil, err
		}
		idx := 1.0
		if v != nil {
			idx = v.(float64)
		}
		if len(t.bookCol[book]) == 0 || f.series.indexOf(book) == idx {
			continue
		}
		if err := t.spec.SetExtra(wc.Ctx, wc.Conn, book, &idx); err != nil {
			return nil, err
		}
		changed[book] = idx
	}
	wc.OnCommit(func() {
		for book, idx := range changed {
			t.extra[book] = idx
		}
	})
	dirtied := make(IDSet, len(changed))
	for book := range changed {
		dirtied.Add(book)
	}
	return dirtied, nil
}

// CompositeField renders a template per book. Rendered values are cached
// until popped.
type CompositeField struct {
	base
	template string
	render   func(bookID int64, template string) string

	mu    sync.Mutex
	cache map[int64]string
}

// NewComposite returns a composite field. Its template is read from the
// display options.
func NewComposite(meta *fieldmeta.Field) *CompositeField {
	return &CompositeField{
		base:     base{meta: meta},
		template: meta.DisplayString("composite_template"),
		cache:    make(map[int64]string),
	}
}

// Template returns the template text.
func (f *CompositeField) Template() string { return f.template }

// SetRenderer installs the function that evaluates templates.
func (f *CompositeField) SetRenderer(fn func(bookID int64, template string) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.render = fn
	clear(f.cache)
}

// Value returns the rendered template of a book.
func (f *CompositeField) Value(bookID int64) string {
	f.mu.Lock()
	v, ok := f.cache[bookID]
	render := f.render
	f.mu.Unlock()
	if ok || render == nil {
		return v
	}
	// Rendering may read other composites; no lock is held meanwhile.
	v = render(bookID, f.template)
	f.mu.Lock()
	f.cache[bookID] = v
	f.mu.Unlock()
	return v
}

// PopCache forgets the rendered values of books.
func (f *CompositeField) PopCache(ids IDSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range ids {
		delete(f.cache, id)
	}
}

// ClearCache forgets every rendered value.
func (f *CompositeField) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.cache)
}

func (f *CompositeField) splitValues(s string) []string {
	var out []string
	for _, part := range strings.Split(s, f.meta.IsMultiple.CacheToList) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ForBook returns the rendered string, or for multi-valued composites the
// list of its parts or def when there are none.
func (f *CompositeField) ForBook(bookID int64, def any) any {
	s := f.Value(bookID)
	if f.meta.IsMultiple == nil {
		return s
	}
	parts := f.splitValues(s)
	if len(parts) == 0 {
		return def
	}
	return parts
}

// SortKeys implements Field according to the column's composite_sort.
func (f *CompositeField) SortKeys(sc *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		s := f.Value(id)
		switch f.meta.DisplayString("composite_sort") {
		case "number":
			out[id] = SortKey{humanNumber(s)}
		case "date":
			t, ok := ParseDate(s)
			if !ok {
				t = UndefinedDate
			}
			out[id] = SortKey{t}
		case "bool":
			b, _ := adaptBool(s)
			out[id] = SortKey{boolKey(b)}
		default:
			out[id] = SortKey{sc.textKey(s)}
		}
	}
	return out
}

// SearchableValues implements Field.
func (f *CompositeField) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		groups := make(map[string]IDSet)
		for id := range candidates {
			s := f.Value(id)
			vals := []string{s}
			if f.meta.IsMultiple != nil {
				vals = f.splitValues(s)
			}
			for _, v := range vals {
				if v == "" {
					continue
				}
				if groups[v] == nil {
					groups[v] = IDSet{}
				}
				groups[v].Add(id)
			}
		}
		for v, books := range groups {
			if !yield(v, books) {
				return
			}
		}
	}
}

// RemoveBooks implements Field.
func (f *CompositeField) RemoveBooks(ids IDSet) []int64 {
	f.PopCache(ids)
	return nil
}

// humanNumber parses numbers with an optional k, m, g or t suffix of
// binary magnitude. Unparseable input is 0.
func humanNumber(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	if s != "" {
		switch s[len(s)-1] {
		case 'k':
			mult = 1 << 10
		case 'm':
			mult = 1 << 20
		case 'g':
			mult = 1 << 30
		case 't':
			mult = 1 << 40
		}
		if mult != 1 {
			s = s[:len(s)-1]
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f * mult
}

// VirtualField computes its value from other state: id, size, ondevice,
// marked and series_sort.
type VirtualField struct {
	base
	value func(bookID int64) any
}

// NewVirtual returns a field whose value is computed by value, which
// returns nil for books without one.
func NewVirtual(meta *fieldmeta.Field, value func(bookID int64) any) *VirtualField {
	return &VirtualField{base: base{meta: meta}, value: value}
}

// ForBook implements Field.
func (f *VirtualField) ForBook(bookID int64, def any) any {
	if v := f.value(bookID); v != nil {
		return v
	}
	return def
}

// SortKeys implements Field.
func (f *VirtualField) SortKeys(sc *SortContext, ids []int64) map[int64]SortKey {
	out := make(map[int64]SortKey, len(ids))
	for _, id := range ids {
		v := f.value(id)
		switch f.meta.Datatype {
		case fieldmeta.Int, fieldmeta.Float:
			out[id] = SortKey{numberKey(v)}
		default:
			s, _ := v.(string)
			out[id] = SortKey{sc.textKey(s)}
		}
	}
	return out
}

// SearchableValues implements Field.
func (f *VirtualField) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return groupValues(candidates, f.value)
}

func groupValues(candidates IDSet, value func(int64) any) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		groups := make(map[any]IDSet)
		for id := range candidates {
			v := value(id)
			if v == nil {
				continue
			}
			if groups[v] == nil {
				groups[v] = IDSet{}
			}
			groups[v].Add(id)
		}
		for v, books := range groups {
			if !yield(v, books) {
				return
			}
		}
	}
}
