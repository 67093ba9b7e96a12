package field

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/collate"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t   *testing.T
	b   *backend.Backend
	reg *fieldmeta.Registry
	fs  *Fields
}

func newFixture(t *testing.T, titles ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	b, err := backend.Open(ctx, backend.Options{
		LibraryPath:        t.TempDir(),
		Clock:              func() time.Time { return testNow },
		InMemoryCustomData: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.WithTx(ctx, func(c backend.Conn) error {
		for _, title := range titles {
			if _, err := b.InsertBook(ctx, c, backend.NewBook{Title: title, Sort: title, SeriesIndex: 1}); err != nil {
				return err
			}
		}
		return nil
	}))
	f := &fixture{t: t, b: b}
	f.reload()
	return f
}

// reload rebuilds every field from the database.
func (f *fixture) reload() {
	f.t.Helper()
	snap, err := f.b.ReadTables(context.Background())
	require.NoError(f.t, err)
	f.reg = fieldmeta.New()
	for _, col := range snap.CustomColumns {
		_, err := f.reg.AddCustomField(col)
		require.NoError(f.t, err)
	}
	f.fs, err = Build(f.reg, snap, Sources{})
	require.NoError(f.t, err)
}

func (f *fixture) field(key string) Field {
	f.t.Helper()
	fl, ok := f.fs.Get(key)
	require.True(f.t, ok, key)
	return fl
}

// tx runs fn in a write transaction and commits its memory updates.
func (f *fixture) tx(fn func(wc *WriteContext) error) error {
	ctx := context.Background()
	wc := &WriteContext{Ctx: ctx, Collator: collate.NewStub(), AllowCaseChange: true, Now: testNow}
	err := f.b.WithTx(ctx, func(c backend.Conn) error {
		wc.Conn = c
		return fn(wc)
	})
	if err != nil {
		return err
	}
	wc.Commit()
	return nil
}

func (f *fixture) write(key string, vals map[int64]any) (IDSet, error) {
	w, ok := f.field(key).(Writer)
	require.True(f.t, ok, "%s is not writable", key)
	var dirtied IDSet
	err := f.tx(func(wc *WriteContext) error {
		var err error
		dirtied, err = w.Write(wc, vals)
		return err
	})
	return dirtied, err
}

func (f *fixture) mustWrite(key string, vals map[int64]any) IDSet {
	f.t.Helper()
	d, err := f.write(key, vals)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) addColumn(col fieldmeta.CustomColumn) {
	f.t.Helper()
	_, err := f.b.CreateCustomColumn(context.Background(), col)
	require.NoError(f.t, err)
	f.reload()
}

func TestIDSet(t *testing.T) {
	a := NewIDSet(1, 2, 3)
	b := NewIDSet(2, 3, 4)

	assert.Equal(t, []int64{2, 3}, a.Intersect(b).Sorted())
	assert.Equal(t, []int64{1}, a.Difference(b).Sorted())
	assert.Equal(t, []int64{1, 2, 3, 4}, a.Union(b).Sorted())
	assert.True(t, a.Equal(NewIDSet(3, 2, 1)))
	assert.False(t, a.Equal(b))

	c := a.Clone()
	c.Remove(1)
	assert.True(t, a.Has(1), "clone must not share storage")
}

func TestBuild_LoadsBooks(t *testing.T) {
	f := newFixture(t, "Dune", "Emma")

	assert.Equal(t, []int64{1, 2}, f.fs.BookIDs().Sorted())
	assert.Equal(t, "Dune", f.fs.Title.ForBook(1, nil))
	assert.Equal(t, 1.0, f.fs.SeriesIndex.ForBook(1, nil))
	assert.Equal(t, false, f.fs.Cover.ForBook(1, nil))
	assert.Nil(t, f.fs.Authors.ForBook(1, nil))
	assert.Equal(t, int64(2), f.field("id").ForBook(2, nil))
	assert.Nil(t, f.field("id").ForBook(99, nil))
	assert.Equal(t, "none", f.field("pubdate").ForBook(1, "none"))
}

func TestManyMany_Tags(t *testing.T) {
	f := newFixture(t, "A", "B")

	dirtied := f.mustWrite("tags", map[int64]any{1: []string{"Fiction", "fiction", " SF "}})
	assert.Equal(t, []int64{1}, dirtied.Sorted())
	assert.Equal(t, []string{"Fiction", "SF"}, f.fs.Tags.ForBook(1, nil))

	// Reusing an item with different case renames it and dirties its books.
	dirtied = f.mustWrite("tags", map[int64]any{2: "sf, Drama"})
	assert.Equal(t, []int64{1, 2}, dirtied.Sorted())
	assert.Equal(t, []string{"Fiction", "sf"}, f.fs.Tags.ForBook(1, nil))
	assert.Equal(t, []string{"sf", "Drama"}, f.fs.Tags.ForBook(2, nil))

	// Unchanged values dirty nothing.
	dirtied = f.mustWrite("tags", map[int64]any{2: []string{"sf", "Drama"}})
	assert.Empty(t, dirtied)

	f.mustWrite("tags", map[int64]any{1: nil})
	assert.Nil(t, f.fs.Tags.ForBook(1, nil))
	assert.Len(t, f.fs.Tags.ItemIDs(), 2, "unused Fiction is dropped")

	f.reload()
	assert.Nil(t, f.fs.Tags.ForBook(1, nil))
	assert.Equal(t, []string{"sf", "Drama"}, f.fs.Tags.ForBook(2, nil))
	assert.Len(t, f.fs.Tags.ItemIDs(), 2)
	for _, id := range f.fs.Tags.ItemIDs() {
		assert.Equal(t, 1, f.fs.Tags.UsageCount(id))
	}
}

func TestManyMany_AuthorsKeepAuthorSort(t *testing.T) {
	f := newFixture(t, "A")

	f.mustWrite("authors", map[int64]any{1: "Isaac Asimov & Frank Herbert"})
	assert.Equal(t, []string{"Isaac Asimov", "Frank Herbert"}, f.fs.Authors.ForBook(1, nil))
	assert.Equal(t, "Asimov, Isaac & Herbert, Frank", f.fs.AuthorSort.ForBook(1, nil))

	f.mustWrite("authors", map[int64]any{1: []string{}})
	assert.Equal(t, []string{"Unknown"}, f.fs.Authors.ForBook(1, nil))
	assert.Equal(t, "Unknown", f.fs.AuthorSort.ForBook(1, nil))

	f.reload()
	assert.Equal(t, []string{"Unknown"}, f.fs.Authors.ForBook(1, nil))
	assert.Equal(t, "Unknown", f.fs.AuthorSort.ForBook(1, nil))
}

func TestManyMany_AuthorCommasSurviveStorage(t *testing.T) {
	f := newFixture(t, "A")

	f.mustWrite("authors", map[int64]any{1: []string{"Doe, John", "Jane Roe"}})
	f.reload()
	assert.Equal(t, []string{"Doe, John", "Jane Roe"}, f.fs.Authors.ForBook(1, nil))
}

func TestManyMany_Languages(t *testing.T) {
	f := newFixture(t, "A")

	f.mustWrite("languages", map[int64]any{1: []string{"English", "fr", "eng"}})
	assert.Equal(t, []string{"eng", "fra"}, f.fs.Languages.ForBook(1, nil))
	assert.Equal(t, "eng", f.fs.BookLanguage(1))

	f.reload()
	assert.Equal(t, []string{"eng", "fra"}, f.fs.Languages.ForBook(1, nil), "link order is kept")
}

func TestOneOne_TitleUpdatesSort(t *testing.T) {
	f := newFixture(t, "A")

	dirtied := f.mustWrite("title", map[int64]any{1: "The Left Hand of Darkness"})
	assert.Equal(t, []int64{1}, dirtied.Sorted())
	assert.Equal(t, "Left Hand of Darkness, The", f.fs.Sort.ForBook(1, nil))

	f.mustWrite("title", map[int64]any{1: "  "})
	assert.Equal(t, "Unknown", f.fs.Title.ForBook(1, nil))

	f.reload()
	assert.Equal(t, "Unknown", f.fs.Title.ForBook(1, nil))
	assert.Equal(t, "Unknown", f.fs.Sort.ForBook(1, nil))
}

func TestOneOne_DatesAndComments(t *testing.T) {
	f := newFixture(t, "A")

	f.mustWrite("pubdate", map[int64]any{1: "1965-08-01"})
	f.mustWrite("comments", map[int64]any{1: "<p>Spice</p>"})
	assert.Equal(t, time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC), f.fs.PubDate.ForBook(1, nil))

	f.reload()
	assert.Equal(t, time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC), f.fs.PubDate.ForBook(1, nil))
	assert.Equal(t, "<p>Spice</p>", f.field("comments").ForBook(1, nil))

	f.mustWrite("comments", map[int64]any{1: ""})
	f.mustWrite("pubdate", map[int64]any{1: nil})
	f.reload()
	assert.Nil(t, f.field("comments").ForBook(1, nil))
	assert.Nil(t, f.fs.PubDate.ForBook(1, nil))

	_, err := f.write("pubdate", map[int64]any{1: "yesterday"})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestManyOne_RatingClamps(t *testing.T) {
	f := newFixture(t, "A", "B")

	f.mustWrite("rating", map[int64]any{1: 12, 2: 4})
	assert.Equal(t, int64(10), f.field("rating").ForBook(1, nil))
	assert.Equal(t, int64(4), f.field("rating").ForBook(2, nil))

	f.mustWrite("rating", map[int64]any{1: 0})
	assert.Nil(t, f.field("rating").ForBook(1, nil))

	f.reload()
	assert.Nil(t, f.field("rating").ForBook(1, nil))
	assert.Equal(t, int64(4), f.field("rating").ForBook(2, nil))
}

func TestManyOne_SeriesSortKeys(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	f.mustWrite("series", map[int64]any{1: "The Expanse", 2: "Culture"})
	f.mustWrite("series_index", map[int64]any{1: 2.0, 2: 5.0})

	sc := &SortContext{Collator: collate.NewStub(), LibraryOrder: true}
	keys := f.fs.Series.SortKeys(sc, []int64{1, 2, 3})
	assert.Negative(t, Compare(keys[3], keys[2]), "books without series sort first")
	assert.Negative(t, Compare(keys[2], keys[1]), "Culture before Expanse, The")

	assert.Equal(t, "Expanse, The", f.field("series_sort").ForBook(1, nil))
}

func TestCustomSeriesIndex(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.addColumn(fieldmeta.CustomColumn{Label: "saga", Name: "Saga", Datatype: fieldmeta.Series, Editable: true})

	f.mustWrite("#saga", map[int64]any{1: "Foundation"})
	assert.Equal(t, 1.0, f.field("#saga_index").ForBook(1, nil))
	assert.Nil(t, f.field("#saga_index").ForBook(2, nil))

	dirtied := f.mustWrite("#saga_index", map[int64]any{1: 3.5, 2: 9.0})
	assert.Equal(t, []int64{1}, dirtied.Sorted(), "books without a series are skipped")

	// Changing the series keeps the index.
	f.mustWrite("#saga", map[int64]any{1: "Robots"})
	f.reload()
	assert.Equal(t, "Robots", f.field("#saga").ForBook(1, nil))
	assert.Equal(t, 3.5, f.field("#saga_index").ForBook(1, nil))
}

func TestFailedWriteLeavesMemoryUntouched(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.addColumn(fieldmeta.CustomColumn{
		Label: "state", Name: "State", Datatype: fieldmeta.Enumeration, Editable: true,
		Display: map[string]any{"enum_values": []any{"read", "unread"}},
	})

	f.mustWrite("#state", map[int64]any{1: "unread"})
	_, err := f.write("#state", map[int64]any{1: "read", 2: "lost"})
	require.ErrorIs(t, err, errors.ErrValidation)

	assert.Equal(t, "unread", f.field("#state").ForBook(1, nil))
	assert.Nil(t, f.field("#state").ForBook(2, nil))
	f.reload()
	assert.Equal(t, "unread", f.field("#state").ForBook(1, nil))
}

func TestCustomOneOne(t *testing.T) {
	f := newFixture(t, "A")
	f.addColumn(fieldmeta.CustomColumn{Label: "pages", Name: "Pages", Datatype: fieldmeta.Int, Editable: true})
	f.addColumn(fieldmeta.CustomColumn{Label: "read", Name: "Read", Datatype: fieldmeta.Bool, Editable: true})

	f.mustWrite("#pages", map[int64]any{1: "412"})
	f.mustWrite("#read", map[int64]any{1: "yes"})
	f.reload()
	assert.Equal(t, int64(412), f.field("#pages").ForBook(1, nil))
	assert.Equal(t, true, f.field("#read").ForBook(1, nil))

	_, err := f.write("#pages", map[int64]any{1: "many"})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestIdentifiers(t *testing.T) {
	f := newFixture(t, "A")

	f.mustWrite("identifiers", map[int64]any{1: "ISBN:9780441013593, goodreads:234,bad"})
	assert.Equal(t, map[string]string{"isbn": "9780441013593", "goodreads": "234"}, f.fs.Identifiers.ForBook(1, nil))

	require.NoError(t, f.tx(func(wc *WriteContext) error {
		_, err := f.fs.Identifiers.SetOne(wc, "goodreads", map[int64]string{1: ""})
		return err
	}))
	require.NoError(t, f.tx(func(wc *WriteContext) error {
		_, err := f.fs.Identifiers.SetOne(wc, "Amazon", map[int64]string{1: "B00,1"})
		return err
	}))
	_, err := f.write("identifiers", map[int64]any{1: 42})
	assert.ErrorIs(t, err, errors.ErrValidation)

	f.reload()
	assert.Equal(t, map[string]string{"isbn": "9780441013593", "amazon": "B00|1"}, f.fs.Identifiers.ForBook(1, nil))
	assert.Equal(t, []string{"amazon", "isbn"}, f.fs.Identifiers.Types())
}

func TestRenameItems_Merges(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.mustWrite("tags", map[int64]any{1: []string{"alpha", "beta"}, 2: []string{"beta"}})

	alpha, ok := f.fs.Tags.ItemID("alpha", collate.NewStub().Lower)
	require.True(t, ok)
	beta, ok := f.fs.Tags.ItemID("BETA", collate.NewStub().Lower)
	require.True(t, ok)

	var (
		affected IDSet
		merged   map[int64]int64
	)
	require.NoError(t, f.tx(func(wc *WriteContext) error {
		var err error
		affected, merged, err = f.fs.Tags.RenameItems(wc, map[int64]any{beta: "Alpha"})
		return err
	}))
	assert.Equal(t, []int64{1, 2}, affected.Sorted())
	assert.Equal(t, map[int64]int64{beta: alpha}, merged)
	assert.Equal(t, []string{"alpha"}, f.fs.Tags.ForBook(1, nil))
	assert.Equal(t, []string{"alpha"}, f.fs.Tags.ForBook(2, nil))

	f.reload()
	assert.Equal(t, []string{"alpha"}, f.fs.Tags.ForBook(1, nil))
	assert.Equal(t, []string{"alpha"}, f.fs.Tags.ForBook(2, nil))
	assert.Len(t, f.fs.Tags.ItemIDs(), 1)
}

func TestRemoveBooks_ReturnsUnusedItems(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.mustWrite("tags", map[int64]any{1: []string{"solo", "shared"}, 2: []string{"shared"}})
	solo, _ := f.fs.Tags.ItemID("solo", collate.NewStub().Lower)

	unused := f.fs.Tags.RemoveBooks(NewIDSet(1))
	assert.Equal(t, []int64{solo}, unused)
	assert.Equal(t, []string{"shared"}, f.fs.Tags.ForBook(2, nil))
	_, ok := f.fs.Tags.ItemValue(solo)
	assert.False(t, ok)
}

func TestSearchableValues(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.mustWrite("tags", map[int64]any{1: "x, y", 2: "y"})

	got := map[any][]int64{}
	for v, books := range f.fs.Tags.SearchableValues(NewIDSet(1, 2)) {
		got[v] = books.Sorted()
	}
	assert.Equal(t, map[any][]int64{"x": {1}, "y": {1, 2}}, got)

	got = map[any][]int64{}
	for v, books := range f.fs.Title.SearchableValues(NewIDSet(1, 2, 3)) {
		got[v] = books.Sorted()
	}
	assert.Equal(t, map[any][]int64{"A": {1}, "B": {2}, "C": {3}}, got)
}

func TestComposite_CachesUntilPopped(t *testing.T) {
	f := newFixture(t, "A")
	f.addColumn(fieldmeta.CustomColumn{
		Label: "shout", Name: "Shout", Datatype: fieldmeta.Composite,
		Display: map[string]any{"composite_template": "{title}!"},
	})
	comp, ok := f.field("#shout").(*CompositeField)
	require.True(t, ok)
	assert.Equal(t, "{title}!", comp.Template())

	calls := 0
	comp.SetRenderer(func(bookID int64, tmpl string) string {
		calls++
		return f.fs.Title.ForBook(bookID, "").(string) + "!"
	})
	assert.Equal(t, "A!", comp.ForBook(1, nil))
	assert.Equal(t, "A!", comp.ForBook(1, nil))
	assert.Equal(t, 1, calls)

	f.mustWrite("title", map[int64]any{1: "B"})
	comp.PopCache(NewIDSet(1))
	assert.Equal(t, "B!", comp.ForBook(1, nil))
	assert.Equal(t, 2, calls)
}

func TestCompareSortKeys(t *testing.T) {
	tests := []struct {
		name string
		a, b SortKey
		want int
	}{
		{"strings", SortKey{"a"}, SortKey{"b"}, -1},
		{"numbers", SortKey{2.0}, SortKey{1.0}, 1},
		{"prefix first", SortKey{"a"}, SortKey{"a", 1.0}, -1},
		{"empty first", SortKey{}, SortKey{""}, -1},
		{"second element", SortKey{"a", 1.0}, SortKey{"a", 2.0}, -1},
		{"dates", SortKey{UndefinedDate}, SortKey{testNow}, -1},
		{"equal", SortKey{"a", 1.0}, SortKey{"a", 1.0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestClearHiddenDateParts(t *testing.T) {
	ts := time.Date(2023, 7, 14, 9, 30, 15, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), ClearHiddenDateParts(ts, "MMM yyyy"))
	assert.Equal(t, time.Date(2023, 7, 14, 0, 0, 0, 0, time.UTC), ClearHiddenDateParts(ts, "dd MMM yyyy"))
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), ClearHiddenDateParts(ts, "yyyy"))
	assert.Equal(t, ts, ClearHiddenDateParts(ts, "iso"))
}

func TestHumanNumber(t *testing.T) {
	assert.Equal(t, 1536.0, humanNumber("1.5k"))
	assert.Equal(t, 2.0*(1<<20), humanNumber("2M"))
	assert.Equal(t, 42.0, humanNumber(" 42 "))
	assert.Equal(t, 0.0, humanNumber("lots"))
}
