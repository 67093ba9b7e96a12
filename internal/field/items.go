package field

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/metadata"
)

// itemTable is the interned values of a many-valued field and the links
// between them and books.
type itemTable struct {
	spec backend.LinkSpec
	// barCommas marks author tables, which store ',' as '|'.
	barCommas bool

	values  map[int64]any
	sorts   map[int64]string
	links   map[int64]string
	colBook map[int64]IDSet
	bookCol map[int64][]int64
	// extra is the series index of each linked book, for custom series.
	extra map[int64]float64
}

func newItemTable(spec backend.LinkSpec, src *backend.ItemTable) *itemTable {
	t := &itemTable{
		spec:      spec,
		barCommas: spec.Key == "authors",
		values:    make(map[int64]any),
		sorts:     make(map[int64]string),
		links:     make(map[int64]string),
		colBook:   make(map[int64]IDSet),
		bookCol:   make(map[int64][]int64),
		extra:     make(map[int64]float64),
	}
	if src == nil {
		return t
	}
	for _, it := range src.Items {
		v := it.Value
		if s, ok := v.(string); ok && t.barCommas {
			v = strings.ReplaceAll(s, "|", ",")
		}
		t.values[it.ID] = v
		t.colBook[it.ID] = IDSet{}
		if it.Sort != "" {
			t.sorts[it.ID] = it.Sort
		}
		if it.Link != "" {
			t.links[it.ID] = it.Link
		}
	}
	for _, l := range src.Links {
		books, ok := t.colBook[l.Item]
		if !ok {
			continue
		}
		books.Add(l.Book)
		t.bookCol[l.Book] = append(t.bookCol[l.Book], l.Item)
		if l.Extra != nil {
			t.extra[l.Book] = *l.Extra
		}
	}
	return t
}

func (t *itemTable) dbValue(v any) any {
	if s, ok := v.(string); ok && t.barCommas {
		return strings.ReplaceAll(s, ",", "|")
	}
	return v
}

// items is the common part of many-one and many-many fields.
type items struct {
	base
	t     *itemTable
	adapt adaptFunc
}

// Spec returns the tables behind the field.
func (f *items) Spec() backend.LinkSpec { return f.t.spec }

// IDsForBook implements Field.
func (f *items) IDsForBook(bookID int64) []int64 {
	return slices.Clone(f.t.bookCol[bookID])
}

// BooksFor implements Field.
func (f *items) BooksFor(itemID int64) IDSet {
	return f.t.colBook[itemID].Clone()
}

// ItemIDs returns every item id in ascending order.
func (f *items) ItemIDs() []int64 {
	return slices.Sorted(maps.Keys(f.t.values))
}

// ItemValue returns the value of an item.
func (f *items) ItemValue(itemID int64) (any, bool) {
	v, ok := f.t.values[itemID]
	return v, ok
}

// ItemSort returns the stored sort string of an item, or "".
func (f *items) ItemSort(itemID int64) string { return f.t.sorts[itemID] }

// ItemLink returns the link of an item, or "".
func (f *items) ItemLink(itemID int64) string { return f.t.links[itemID] }

// UsageCount returns the number of books linked to an item.
func (f *items) UsageCount(itemID int64) int { return len(f.t.colBook[itemID]) }

// ItemID finds an item by value. Text values match ignoring case.
func (f *items) ItemID(value any, lower func(string) string) (int64, bool) {
	s, isText := value.(string)
	for id, v := range f.t.values {
		if isText {
			if vs, ok := v.(string); ok && lower(vs) == lower(s) {
				return id, true
			}
			continue
		}
		if v == value {
			return id, true
		}
	}
	return 0, false
}

// SearchableValues implements Field.
func (f *items) SearchableValues(candidates IDSet) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		for id, books := range f.t.colBook {
			hit := books.Intersect(candidates)
			if len(hit) == 0 {
				continue
			}
			if !yield(f.t.values[id], hit) {
				return
			}
		}
	}
}

// RemoveBooks implements Field. Items left without books are forgotten
// and returned; the caller deletes their rows.
func (f *items) RemoveBooks(ids IDSet) []int64 {
	var unused []int64
	for book := range ids {
		for _, it := range f.t.bookCol[book] {
			books := f.t.colBook[it]
			books.Remove(book)
			if len(books) == 0 {
				unused = append(unused, it)
			}
		}
		delete(f.t.bookCol, book)
		delete(f.t.extra, book)
	}
	slices.Sort(unused)
	unused = slices.Compact(unused)
	for _, it := range unused {
		f.t.forget(it)
	}
	return unused
}

func (t *itemTable) forget(itemID int64) {
	delete(t.values, itemID)
	delete(t.sorts, itemID)
	delete(t.links, itemID)
	delete(t.colBook, itemID)
}

// resolver maps written values to item ids, creating items as needed.
type resolver struct {
	t     *itemTable
	wc    *WriteContext
	byKey map[any]int64

	created map[int64]any
	renamed map[int64]any
	sorts   map[int64]string
}

func (t *itemTable) resolver(wc *WriteContext) *resolver {
	r := &resolver{
		t:       t,
		wc:      wc,
		byKey:   make(map[any]int64, len(t.values)),
		created: make(map[int64]any),
		renamed: make(map[int64]any),
		sorts:   make(map[int64]string),
	}
	for _, id := range slices.Sorted(maps.Keys(t.values)) {
		k := r.key(t.values[id])
		if _, dup := r.byKey[k]; !dup {
			r.byKey[k] = id
		}
	}
	return r
}

func (r *resolver) key(v any) any {
	if s, ok := v.(string); ok {
		return r.wc.lower(s)
	}
	return v
}

func (r *resolver) current(id int64) any {
	if v, ok := r.renamed[id]; ok {
		return v
	}
	if v, ok := r.created[id]; ok {
		return v
	}
	return r.t.values[id]
}

func (r *resolver) resolve(v any) (int64, error) {
	k := r.key(v)
	if id, ok := r.byKey[k]; ok {
		if r.wc.AllowCaseChange && r.current(id) != v {
			if _, isNew := r.created[id]; isNew {
				r.created[id] = v
			} else {
				r.renamed[id] = v
			}
			if r.t.spec.HasSort {
				r.sorts[id] = metadata.AuthorToAuthorSort(v.(string), r.wc.AuthorSortMethod)
			}
		}
		return id, nil
	}
	var sort string
	if r.t.spec.HasSort {
		sort = metadata.AuthorToAuthorSort(v.(string), r.wc.AuthorSortMethod)
	}
	id, err := r.t.spec.InsertItem(r.wc.Ctx, r.wc.Conn, r.t.dbValue(v), sort)
	if err != nil {
		return 0, err
	}
	r.byKey[k] = id
	r.created[id] = v
	if sort != "" {
		r.sorts[id] = sort
	}
	return id, nil
}

// sortOf returns the sort string an item will have after commit.
func (r *resolver) sortOf(id int64) string {
	if s, ok := r.sorts[id]; ok {
		return s
	}
	if s := r.t.sorts[id]; s != "" {
		return s
	}
	name, _ := r.current(id).(string)
	return metadata.AuthorToAuthorSort(name, r.wc.AuthorSortMethod)
}

// flush stores case changes.
func (r *resolver) flush() error {
	for id, v := range r.renamed {
		if err := r.t.spec.RenameItem(r.wc.Ctx, r.wc.Conn, id, r.t.dbValue(v)); err != nil {
			return err
		}
		if s, ok := r.sorts[id]; ok {
			if err := r.t.spec.SetItemSort(r.wc.Ctx, r.wc.Conn, id, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// caseDirtied returns the books of renamed items.
func (r *resolver) caseDirtied() IDSet {
	out := IDSet{}
	for id := range r.renamed {
		out.AddAll(r.t.colBook[id])
	}
	return out
}

func (r *resolver) commit() {
	for id, v := range r.created {
		r.t.values[id] = v
		if r.t.colBook[id] == nil {
			r.t.colBook[id] = IDSet{}
		}
	}
	for id, v := range r.renamed {
		r.t.values[id] = v
	}
	for id, s := range r.sorts {
		r.t.sorts[id] = s
	}
}

// apply links each book of plan to its items, dropping items no book uses
// any more. extraFor gives the series index of newly linked books of
// tables that carry one.
func (t *itemTable) apply(wc *WriteContext, r *resolver, plan map[int64][]int64, extraFor func(bookID int64) *float64) (IDSet, error) {
	if err := r.flush(); err != nil {
		return nil, err
	}
	dirtied := r.caseDirtied()

	changed := make(map[int64][]int64)
	for book, ids := range plan {
		if !slices.Equal(ids, t.bookCol[book]) {
			changed[book] = ids
		}
	}

	extras := make(map[int64]*float64)
	for _, book := range slices.Sorted(maps.Keys(changed)) {
		ids := changed[book]
		var extra *float64
		if t.spec.HasExtra && len(ids) > 0 && extraFor != nil {
			extra = extraFor(book)
			extras[book] = extra
		}
		if err := t.spec.ReplaceLinks(wc.Ctx, wc.Conn, book, ids, extra); err != nil {
			return nil, err
		}
		dirtied.Add(book)
	}

	delta := make(map[int64]int)
	for book, ids := range changed {
		for _, id := range t.bookCol[book] {
			delta[id]--
		}
		for _, id := range ids {
			delta[id]++
		}
	}
	var unused []int64
	for id, books := range t.colBook {
		if len(books)+delta[id] <= 0 {
			unused = append(unused, id)
		}
	}
	slices.Sort(unused)
	if err := t.spec.DeleteItems(wc.Ctx, wc.Conn, unused); err != nil {
		return nil, err
	}

	wc.OnCommit(func() {
		r.commit()
		for book, ids := range changed {
			for _, id := range t.bookCol[book] {
				t.colBook[id].Remove(book)
			}
			if len(ids) == 0 {
				delete(t.bookCol, book)
				delete(t.extra, book)
				continue
			}
			t.bookCol[book] = slices.Clone(ids)
			for _, id := range ids {
				t.colBook[id].Add(book)
			}
			if e := extras[book]; e != nil {
				t.extra[book] = *e
			}
		}
		for _, id := range unused {
			t.forget(id)
		}
	})
	return dirtied, nil
}

// RenameItems renames items. A new name matching another item ignoring
// case merges the renamed item into it. It returns the affected books and,
// for merged items, the id each was merged into.
func (f *items) RenameItems(wc *WriteContext, names map[int64]any) (IDSet, map[int64]int64, error) {
	t := f.t
	affected := IDSet{}
	merged := make(map[int64]int64)
	r := t.resolver(wc)

	type rename struct {
		id  int64
		val any
	}
	var renames []rename
	for _, id := range slices.Sorted(maps.Keys(names)) {
		if _, ok := t.values[id]; !ok {
			continue
		}
		v, err := f.adapt(names[id])
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			continue
		}
		affected.AddAll(t.colBook[id])
		target, exists := r.byKey[r.key(v)]
		if exists && target != id {
			if err := t.spec.MergeItem(wc.Ctx, wc.Conn, id, target); err != nil {
				return nil, nil, err
			}
			merged[id] = target
			continue
		}
		if err := t.spec.RenameItem(wc.Ctx, wc.Conn, id, t.dbValue(v)); err != nil {
			return nil, nil, err
		}
		if t.spec.HasSort {
			if err := t.spec.SetItemSort(wc.Ctx, wc.Conn, id, metadata.AuthorToAuthorSort(v.(string), wc.AuthorSortMethod)); err != nil {
				return nil, nil, err
			}
		}
		delete(r.byKey, r.key(t.values[id]))
		r.byKey[r.key(v)] = id
		renames = append(renames, rename{id: id, val: v})
	}

	wc.OnCommit(func() {
		for _, rn := range renames {
			t.values[rn.id] = rn.val
			if t.spec.HasSort {
				t.sorts[rn.id] = metadata.AuthorToAuthorSort(rn.val.(string), wc.AuthorSortMethod)
			}
		}
		for from, into := range merged {
			for book := range t.colBook[from] {
				ids := slices.Clone(t.bookCol[book])
				if slices.Contains(ids, into) {
					ids = slices.DeleteFunc(ids, func(x int64) bool { return x == from })
				} else {
					for i, x := range ids {
						if x == from {
							ids[i] = into
						}
					}
				}
				t.bookCol[book] = ids
				t.colBook[into].Add(book)
			}
			t.forget(from)
		}
	})
	return affected, merged, nil
}

// RemoveItems unlinks and deletes items. It returns the affected books.
func (f *items) RemoveItems(wc *WriteContext, ids []int64) (IDSet, error) {
	t := f.t
	affected := IDSet{}
	var doomed []int64
	for _, id := range ids {
		if _, ok := t.values[id]; ok {
			doomed = append(doomed, id)
			affected.AddAll(t.colBook[id])
		}
	}
	if err := t.spec.DeleteItems(wc.Ctx, wc.Conn, doomed); err != nil {
		return nil, err
	}
	wc.OnCommit(func() {
		for _, id := range doomed {
			for book := range t.colBook[id] {
				rest := slices.DeleteFunc(slices.Clone(t.bookCol[book]), func(x int64) bool { return x == id })
				if len(rest) == 0 {
					delete(t.bookCol, book)
					delete(t.extra, book)
				} else {
					t.bookCol[book] = rest
				}
			}
			t.forget(id)
		}
	})
	return affected, nil
}

// SetLinks sets the link of items. It returns the books of changed items.
func (f *items) SetLinks(wc *WriteContext, links map[int64]string) (IDSet, error) {
	t := f.t
	affected := IDSet{}
	changed := make(map[int64]string)
	for id, link := range links {
		if _, ok := t.values[id]; !ok || t.links[id] == link {
			continue
		}
		if err := t.spec.SetItemLink(wc.Ctx, wc.Conn, id, link); err != nil {
			return nil, err
		}
		changed[id] = link
		affected.AddAll(t.colBook[id])
	}
	wc.OnCommit(func() {
		for id, link := range changed {
			if link == "" {
				delete(t.links, id)
			} else {
				t.links[id] = link
			}
		}
	})
	return affected, nil
}

// SetSorts sets the sort string of items of tables that have one. It
// returns the books of changed items.
func (f *items) SetSorts(wc *WriteContext, sorts map[int64]string) (IDSet, error) {
	t := f.t
	affected := IDSet{}
	changed := make(map[int64]string)
	for id, s := range sorts {
		if _, ok := t.values[id]; !ok || t.sorts[id] == s {
			continue
		}
		if err := t.spec.SetItemSort(wc.Ctx, wc.Conn, id, s); err != nil {
			return nil, err
		}
		changed[id] = s
		affected.AddAll(t.colBook[id])
	}
	wc.OnCommit(func() {
		maps.Copy(t.sorts, changed)
	})
	return affected, nil
}
