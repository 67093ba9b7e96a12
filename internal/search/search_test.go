package search

import (
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/folio/internal/collate"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

// memField serves fixed per-book values. Slices yield one value per item
// the way item fields do.
type memField struct {
	meta *fieldmeta.Field
	vals map[int64]any
}

func (f *memField) Meta() *fieldmeta.Field { return f.meta }

func (f *memField) ForBook(id int64, def any) any {
	if v, ok := f.vals[id]; ok && v != nil {
		return v
	}
	return def
}

func (f *memField) IDsForBook(int64) []int64 { return nil }

func (f *memField) BooksFor(int64) IDSet { return IDSet{} }

func (f *memField) SortKeys(*field.SortContext, []int64) map[int64]field.SortKey { return nil }

func (f *memField) RemoveBooks(IDSet) []int64 { return nil }

func (f *memField) SearchableValues(cands IDSet) iter.Seq2[any, IDSet] {
	return func(yield func(any, IDSet) bool) {
		for id := range cands {
			v, ok := f.vals[id]
			if !ok || v == nil {
				continue
			}
			if list, isList := v.([]string); isList {
				for _, item := range list {
					if !yield(item, field.NewIDSet(id)) {
						return
					}
				}
				continue
			}
			if !yield(v, field.NewIDSet(id)) {
				return
			}
		}
	}
}

type memSource struct {
	reg  *fieldmeta.Registry
	ids  IDSet
	vals map[string]map[int64]any
	opts Options
	now  time.Time
}

func (s *memSource) AllBookIDs() IDSet            { return s.ids.Clone() }
func (s *memSource) Registry() *fieldmeta.Registry { return s.reg }
func (s *memSource) Collator() collate.Collator    { return collate.NewStub() }
func (s *memSource) Now() time.Time                { return s.now }
func (s *memSource) SearchOptions() Options        { return s.opts }

func (s *memSource) Field(key string) (field.Field, bool) {
	meta, ok := s.reg.Field(key)
	if !ok {
		return nil, false
	}
	return &memField{meta: meta, vals: s.vals[key]}, true
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func newSource(t *testing.T) *memSource {
	t.Helper()
	reg := fieldmeta.New()
	_, err := reg.AddCustomField(fieldmeta.CustomColumn{ID: 1, Label: "read", Name: "Read", Datatype: fieldmeta.Bool})
	require.NoError(t, err)
	_, err = reg.AddCustomField(fieldmeta.CustomColumn{ID: 2, Label: "pages", Name: "Pages", Datatype: fieldmeta.Int})
	require.NoError(t, err)

	return &memSource{
		reg: reg,
		ids: field.NewIDSet(1, 2, 3, 4),
		now: date(2024, time.May, 6),
		vals: map[string]map[int64]any{
			"title": {
				1: "The Left Hand of Darkness",
				2: "Dune",
				3: "Le Petit Prince",
				4: "Untitled",
			},
			"authors": {
				1: []string{"Ursula K. Le Guin"},
				2: []string{"Frank Herbert"},
				3: []string{"Antoine de Saint-Exupéry"},
			},
			"tags": {
				1: []string{"sf", "classic"},
				2: []string{"sf"},
				3: []string{"children", "fiction.fantasy"},
			},
			"series":    {1: "Hainish Cycle"},
			"rating":    {1: int64(10), 2: int64(7)},
			"languages": {1: []string{"eng"}, 2: []string{"eng"}, 3: []string{"fra"}},
			"pubdate": {
				1: date(1969, time.March, 1),
				2: date(1965, time.August, 1),
			},
			"timestamp": {
				1: date(2020, time.January, 1),
				2: date(2024, time.May, 1),
				3: date(2024, time.May, 5),
				4: date(2024, time.May, 6),
			},
			"identifiers": {
				1: map[string]string{"isbn": "9780441478125", "goodreads": "18423"},
				2: map[string]string{"isbn": "9780441013593"},
			},
			"formats": {1: []string{"EPUB", "PDF"}, 2: []string{"EPUB"}},
			"size":    {1: float64(3 << 20), 2: float64(512 << 10)},
			"id":      {1: int64(1), 2: int64(2), 3: int64(3), 4: int64(4)},
			"#read":   {1: true, 2: false},
			"#pages":  {1: int64(304), 2: int64(412), 3: int64(96)},
			"marked":  {2: "true"},
		},
	}
}

func search(t *testing.T, src Source, q string) []int64 {
	t.Helper()
	got, err := New().Search(src, q)
	require.NoError(t, err, q)
	return got.Sorted()
}

func TestParse(t *testing.T) {
	isLoc := func(s string) bool { return s == "title" || s == "tags" || s == "@my shelf" }
	tests := []struct {
		query string
		want  string
	}{
		{"dune", `all:"dune"`},
		{"title:dune", `title:"dune"`},
		{"Title:Dune", `title:"Dune"`},
		{"foo:bar", `all:"foo:bar"`},
		{`"two words"`, `all:"two words"`},
		{`title:"two words"`, `title:"two words"`},
		{`"say \"hi\""`, `all:"say \"hi\""`},
		{"a b", `(all:"a" and all:"b")`},
		{"a and b or c", `((all:"a" and all:"b") or all:"c")`},
		{"a or b and c", `(all:"a" or (all:"b" and all:"c"))`},
		{"not a", `not all:"a"`},
		{"a and not (b or c)", `(all:"a" and not (all:"b" or all:"c"))`},
		{"@My Shelf:true", `@my shelf:"true"`},
		{"tags:=sf", `tags:"=sf"`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n, err := Parse(tt.query, isLoc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}

	n, err := Parse("   ", isLoc)
	require.NoError(t, err)
	assert.Nil(t, n)

	for _, bad := range []string{"(a", "a)", `"open`, "a and"} {
		_, err := Parse(bad, isLoc)
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, errors.ErrQuery, bad)
	}
}

func TestSearch_Text(t *testing.T) {
	src := newSource(t)
	tests := []struct {
		query string
		want  []int64
	}{
		{"", []int64{1, 2, 3, 4}},
		{"dune", []int64{2}},
		{"title:le", []int64{1, 3, 4}},
		{"title:=dune", []int64{2}},
		{"title:=dun", nil},
		{`title:~^the\s`, []int64{1}},
		{"title:~[", nil},
		{"authors:herbert", []int64{2}},
		{"author:guin", []int64{1}},
		{"tags:=sf", []int64{1, 2}},
		{"tags:=.fiction", []int64{3}},
		{"tags:=..fantasy", []int64{3}},
		{"tags:true", []int64{1, 2, 3}},
		{"tags:false", []int64{4}},
		{"series:hainish", []int64{1}},
		{"languages:english", []int64{1, 2}},
		{"language:fr", []int64{3}},
		{"formats:=pdf", []int64{1}},
		{"marked:true", []int64{2}},
		{"sf and not classic", []int64{2}},
		{"dune or prince", []int64{2, 3}},
		{`\=x`, nil},
		{"herbert", []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, nilIfEmpty(search(t, src, tt.query)))
		})
	}
}

func TestSearch_PrimaryFind(t *testing.T) {
	src := newSource(t)
	assert.Empty(t, search(t, src, "authors:exupery"))
	src.opts.UsePrimaryFind = true
	assert.Equal(t, []int64{3}, search(t, src, "authors:exupery"))
}

func TestSearch_Numeric(t *testing.T) {
	src := newSource(t)
	tests := []struct {
		query string
		want  []int64
	}{
		{"rating:5", []int64{1}},
		{"rating:3", []int64{2}},
		{"rating:>3", []int64{1}},
		{"rating:>=3", []int64{1, 2}},
		{"rating:true", []int64{1, 2}},
		{"rating:false", []int64{3, 4}},
		{"#pages:>300", []int64{1, 2}},
		{"#pages:<=96", []int64{3}},
		{"#pages:!=304", []int64{2, 3}},
		{"size:>1m", []int64{1}},
		{"size:<1m", []int64{2}},
		{"id:3", []int64{3}},
		{"id:>2", []int64{3, 4}},
		{"412", []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, nilIfEmpty(search(t, src, tt.query)))
		})
	}

	_, err := New().Search(src, "#pages:lots")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQuery)
}

func TestSearch_Dates(t *testing.T) {
	src := newSource(t)
	tests := []struct {
		query string
		want  []int64
	}{
		{"pubdate:1969", []int64{1}},
		{"pubdate:>1965", []int64{1}},
		{"pubdate:<=1969-03", []int64{1, 2}},
		{"pubdate:1965-08-01", []int64{2}},
		{"pubdate:true", []int64{1, 2}},
		{"pubdate:false", []int64{3, 4}},
		{"date:today", []int64{4}},
		{"date:yesterday", []int64{3}},
		{"date:thismonth", []int64{2, 3, 4}},
		{"date:>=5daysago", []int64{2, 3, 4}},
		{"date:<2021", []int64{1}},
		{`date:"may 2024"`, []int64{2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, nilIfEmpty(search(t, src, tt.query)))
		})
	}

	_, err := New().Search(src, "pubdate:someday")
	require.Error(t, err)
}

func TestSearch_InvalidValuesErrorWhateverTheData(t *testing.T) {
	queries := []string{
		"pubdate:someday",
		"tags:=zzz and pubdate:someday",
		"dune or #pages:>lots",
		"not title:dune and #read:maybe",
		"tags:#=many",
	}

	empty := newSource(t)
	empty.ids = IDSet{}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			_, err := New().Search(empty, q)
			require.Error(t, err, "empty library")
			require.Error(t, Validate(empty, q))

			_, err = New().Search(newSource(t), q)
			require.Error(t, err, "populated library")
		})
	}
}

func TestSearch_Bool(t *testing.T) {
	src := newSource(t)
	assert.Equal(t, []int64{1}, search(t, src, "#read:yes"))
	assert.Equal(t, []int64{2, 3, 4}, search(t, src, "#read:false"))
	assert.Equal(t, []int64{2, 3, 4}, search(t, src, "#read:no"))

	src.opts.BoolsAreTristate = true
	assert.Equal(t, []int64{3, 4}, search(t, src, "#read:false"))
	assert.Equal(t, []int64{2}, search(t, src, "#read:no"))

	_, err := New().Search(src, "#read:maybe")
	require.Error(t, err)
}

func TestSearch_Identifiers(t *testing.T) {
	src := newSource(t)
	tests := []struct {
		query string
		want  []int64
	}{
		{"identifiers:true", []int64{1, 2}},
		{"identifiers:false", []int64{3, 4}},
		{"identifiers:goodreads:", []int64{1}},
		{"identifiers:goodreads:false", []int64{2, 3, 4}},
		{"identifiers:isbn:978044101", []int64{2}},
		{"identifiers:=isbn:=9780441478125", []int64{1}},
		{"isbn:9780441013593", []int64{2}},
		{"identifiers:~^good:18", []int64{1}},
		{"identifiers:#>1", []int64{1}},
		{"18423", []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, nilIfEmpty(search(t, src, tt.query)))
		})
	}
}

func TestSearch_Counts(t *testing.T) {
	src := newSource(t)
	assert.Equal(t, []int64{1, 3}, search(t, src, "tags:#=2"))
	assert.Equal(t, []int64{4}, search(t, src, "tags:#=0"))
	assert.Equal(t, []int64{1, 2, 3}, search(t, src, "tags:#>0"))
}

func TestSearch_GroupedTerms(t *testing.T) {
	src := newSource(t)
	require.NoError(t, src.reg.AddGroupedSearchTerms(map[string][]string{
		"people": {"authors", "series"},
		"loop":   {"people", "title"},
	}))

	assert.Equal(t, []int64{1}, search(t, src, "people:hainish"))
	assert.Equal(t, []int64{2}, search(t, src, "people:herbert"))
	assert.Equal(t, []int64{4}, search(t, src, "people:false"))

	_, err := New().Search(src, "loop:x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive query group")

	// Every location of a group is checked even once all books matched.
	require.NoError(t, src.reg.AddGroupedSearchTerms(map[string][]string{
		"people": {"authors", "series"},
		"wide":   {"title", "people"},
	}))
	_, err = New().Search(src, "wide:true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive query group")
}

func TestSearch_UserCategories(t *testing.T) {
	src := newSource(t)
	src.opts.UserCategories = map[string][]CategoryItem{
		"Favourites":       {{Name: "Frank Herbert", Field: "authors"}},
		"Favourites.Kids":  {{Name: "children", Field: "tags"}},
		"Unrelated":        {{Name: "classic", Field: "tags"}},
		"Favourites Other": {{Name: "classic", Field: "tags"}},
	}
	assert.Equal(t, []int64{2}, search(t, src, "@Favourites:true"))
	assert.Equal(t, []int64{2, 3}, search(t, src, "@Favourites:.true"))
	assert.Equal(t, []int64{1, 3, 4}, search(t, src, "@Favourites:false"))
	assert.Equal(t, []int64{1}, search(t, src, "@Favourites Other:true"))
}

func TestSearch_LimitColumns(t *testing.T) {
	src := newSource(t)
	assert.Equal(t, []int64{1}, search(t, src, "hainish"))

	src.opts.LimitSearchColumns = true
	src.opts.LimitSearchColumnsTo = []string{"title", "authors"}
	assert.Empty(t, search(t, src, "hainish"))
	assert.Equal(t, []int64{2}, search(t, src, "herbert"))
}

func TestEngine_Restrictions(t *testing.T) {
	src := newSource(t)
	e := New()

	e.SetBaseRestriction("tags:sf")
	n, err := e.RestrictionCount(src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e.SetRestriction("rating:5")
	got, err := e.Search(src, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got.Sorted())

	got, err = e.Search(src, "dune")
	require.NoError(t, err)
	assert.Empty(t, got)

	e.SetRestriction("")
	got, err = e.Search(src, "dune")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, got.Sorted())
	assert.Equal(t, "tags:sf", e.BaseRestriction())
}

func TestSearch_UnknownLocationIsPlainText(t *testing.T) {
	src := newSource(t)
	src.vals["title"][4] = "Note: untitled"
	assert.Equal(t, []int64{4}, search(t, src, `"note: untitled"`))
	assert.Equal(t, []int64{4}, search(t, src, "note:"))
}

func nilIfEmpty(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
