package cache

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

// Search returns the books matching query within the current restriction
// and virtual library.
func (c *Cache) Search(ctx context.Context, query string) (IDSet, error) {
	_, release := c.readAPI(ctx, "Search")
	defer release()
	return c.engine.Search(source{c}, query)
}

// SearchRestrictionCount returns how many books the restrictions allow.
func (c *Cache) SearchRestrictionCount(ctx context.Context) (int, error) {
	_, release := c.readAPI(ctx, "SearchRestrictionCount")
	defer release()
	return c.engine.RestrictionCount(source{c})
}

// SortSpec is one column of a Multisort.
type SortSpec struct {
	Key       string
	Ascending bool
}

// Multisort orders bookIDs, or every book when nil, by the given columns.
// The sort is stable; title sort is appended as the last tiebreaker when
// not already present.
func (c *Cache) Multisort(ctx context.Context, specs []SortSpec, bookIDs []int64) ([]int64, error) {
	_, release := c.readAPI(ctx, "Multisort")
	defer release()
	return c.multisort(specs, bookIDs)
}

func (c *Cache) multisort(specs []SortSpec, bookIDs []int64) ([]int64, error) {
	if bookIDs == nil {
		bookIDs = c.fields.BookIDs().Sorted()
	} else {
		bookIDs = slices.Clone(bookIDs)
	}

	type column struct {
		keys map[int64]field.SortKey
		asc  bool
	}
	sc := c.sortContext()
	seen := make(map[string]bool, len(specs)+1)
	cols := make([]column, 0, len(specs)+1)
	add := func(key string, asc bool) error {
		meta, err := c.resolveKey(key)
		if err != nil {
			return err
		}
		key = meta.Key
		switch key {
		case "title":
			key = "sort"
		case "authors":
			key = "author_sort"
		}
		if seen[key] {
			return nil
		}
		seen[key] = true
		f, ok := c.fields.Get(key)
		if !ok {
			return errors.Schemaf("field %s cannot be sorted", key)
		}
		cols = append(cols, column{keys: f.SortKeys(sc, bookIDs), asc: asc})
		return nil
	}
	for _, s := range specs {
		if err := add(s.Key, s.Ascending); err != nil {
			return nil, err
		}
	}
	if err := add("sort", true); err != nil {
		return nil, err
	}

	slices.SortStableFunc(bookIDs, func(a, b int64) int {
		for _, col := range cols {
			n := field.Compare(col.keys[a], col.keys[b])
			if n == 0 {
				continue
			}
			if !col.asc {
				return -n
			}
			return n
		}
		return 0
	})
	return bookIDs, nil
}

func (c *Cache) sortContext() *field.SortContext {
	p := c.backend.Prefs
	sc := &field.SortContext{
		Collator:         c.coll,
		LibraryOrder:     p.GetString(backend.PrefTitleSeriesSorting) == "library_order",
		BookLang:         c.fields.BookLanguage,
		AuthorSortMethod: c.authorSortMethod(),
	}
	if p.GetBool(backend.PrefSortDatesUsingVisibleFields) {
		var overrides map[string]string
		if err := p.Unmarshal(backend.PrefFieldDisplayFormats, &overrides); err != nil {
			c.logger.Warn("ignoring invalid field display formats", "error", err)
		}
		sc.DateFormats = make(map[string]string)
		for key, meta := range c.reg.All() {
			if meta.Datatype != fieldmeta.Datetime {
				continue
			}
			format := overrides[key]
			if format == "" {
				format = meta.DisplayString("date_format")
			}
			if format == "" {
				format = defaultDateFormat
			}
			sc.DateFormats[key] = format
		}
	}
	return sc
}

// Category is one item of a tag browser category.
type Category struct {
	ID    int64
	Name  string
	Sort  string
	Count int
	// AvgRating is the mean star rating, 0-5, of the rated books.
	AvgRating float64
	// Field is the key of the field the item belongs to.
	Field string
}

// Category sort orders.
const (
	SortByName       = "name"
	SortByPopularity = "popularity"
	SortByRating     = "rating"
)

// GetCategories returns the items of every category field with their
// book counts, restricted to bookIDs when given. Formats, identifier
// types and user categories ("@name") are included.
func (c *Cache) GetCategories(ctx context.Context, sortBy string, bookIDs IDSet) (map[string][]Category, error) {
	_, release := c.readAPI(ctx, "GetCategories")
	defer release()
	switch sortBy {
	case "", SortByName, SortByPopularity, SortByRating:
	default:
		return nil, errors.Validationf("unknown category sort %q", sortBy)
	}
	if bookIDs == nil {
		bookIDs = c.fields.BookIDs()
	}

	ratingOf := func(int64) int64 { return 0 }
	if rf, ok := c.fields.Get("rating"); ok {
		ratingOf = func(id int64) int64 {
			r, _ := rf.ForBook(id, nil).(int64)
			return r
		}
	}
	newCategory := func(key string, id int64, name, sort string, books IDSet) (Category, bool) {
		cat := Category{ID: id, Name: name, Sort: sort, Field: key}
		var sum, rated int64
		for b := range books {
			if !bookIDs.Has(b) {
				continue
			}
			cat.Count++
			if r := ratingOf(b); r > 0 {
				sum += r
				rated++
			}
		}
		if rated > 0 {
			cat.AvgRating = float64(sum) / float64(rated) / 2
		}
		if cat.Sort == "" {
			cat.Sort = name
		}
		return cat, cat.Count > 0
	}

	out := make(map[string][]Category)
	for key, meta := range c.reg.All() {
		if !meta.IsCategory {
			continue
		}
		itf, ok := c.itemField(key)
		if !ok {
			continue
		}
		var cats []Category
		for _, id := range itf.ItemIDs() {
			v, _ := itf.ItemValue(id)
			name := displayValue(meta, v)
			if cat, ok := newCategory(key, id, name, itf.ItemSort(id), itf.BooksFor(id)); ok {
				cats = append(cats, cat)
			}
		}
		out[key] = cats
	}

	formatBooks := make(map[string]IDSet)
	for id := range bookIDs {
		for _, f := range c.fields.Formats.Formats(id) {
			if formatBooks[f] == nil {
				formatBooks[f] = IDSet{}
			}
			formatBooks[f].Add(id)
		}
	}
	var formats []Category
	for _, f := range slices.Sorted(maps.Keys(formatBooks)) {
		if cat, ok := newCategory("formats", 0, f, "", formatBooks[f]); ok {
			formats = append(formats, cat)
		}
	}
	out["formats"] = formats

	typeBooks := make(map[string]IDSet)
	for id := range bookIDs {
		for typ := range c.fields.Identifiers.Map(id) {
			if typeBooks[typ] == nil {
				typeBooks[typ] = IDSet{}
			}
			typeBooks[typ].Add(id)
		}
	}
	var types []Category
	for _, typ := range slices.Sorted(maps.Keys(typeBooks)) {
		if cat, ok := newCategory("identifiers", 0, typ, "", typeBooks[typ]); ok {
			types = append(types, cat)
		}
	}
	out["identifiers"] = types

	for name, items := range c.userCats {
		var cats []Category
		for _, it := range items {
			itf, ok := c.itemField(it.Field)
			if !ok {
				continue
			}
			id, ok := itf.ItemID(it.Name, c.coll.Lower)
			if !ok {
				continue
			}
			if cat, ok := newCategory(it.Field, id, it.Name, itf.ItemSort(id), itf.BooksFor(id)); ok {
				cats = append(cats, cat)
			}
		}
		out["@"+name] = cats
	}

	for key := range out {
		c.sortCategories(out[key], sortBy)
	}
	return out, nil
}

func (c *Cache) sortCategories(cats []Category, sortBy string) {
	byName := func(a, b Category) int {
		if n := c.coll.Compare(a.Sort, b.Sort); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	}
	slices.SortStableFunc(cats, func(a, b Category) int {
		switch sortBy {
		case SortByPopularity:
			if a.Count != b.Count {
				return b.Count - a.Count
			}
		case SortByRating:
			if a.AvgRating != b.AvgRating {
				if a.AvgRating > b.AvgRating {
					return -1
				}
				return 1
			}
		}
		return byName(a, b)
	})
}

// String implements fmt.Stringer.
func (cat Category) String() string {
	return fmt.Sprintf("%s (%d)", cat.Name, cat.Count)
}
