package cache

import (
	"context"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/collate"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(context.Background(), Options{
		LibraryPath:        t.TempDir(),
		Collator:           collate.NewStub(),
		Clock:              func() time.Time { return testNow },
		InMemoryCustomData: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func addBook(t *testing.T, c *Cache, mi *metadata.Metadata) int64 {
	t.Helper()
	id, err := c.CreateBookEntry(context.Background(), mi, CreateOptions{})
	require.NoError(t, err)
	return id
}

func setField(t *testing.T, c *Cache, name string, vals map[int64]any) IDSet {
	t.Helper()
	d, err := c.SetField(context.Background(), name, vals, SetFieldOptions{})
	require.NoError(t, err)
	return d
}

func TestAPIMethods_Registered(t *testing.T) {
	typ := reflect.TypeOf(&Cache{})
	for i := range typ.NumMethod() {
		name := typ.Method(i).Name
		_, ok := apiMethods[name]
		assert.True(t, ok, "%s is not in apiMethods", name)
	}
	for name := range apiMethods {
		_, ok := typ.MethodByName(name)
		assert.True(t, ok, "%s is registered but not defined", name)
	}
}

func TestCreateBookEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	id := addBook(t, c, metadata.New("The Foundation", "Isaac Asimov"))

	assert.True(t, c.HasBook(ctx, id))
	title, err := c.FieldFor(ctx, "title", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "The Foundation", title)

	sort, err := c.FieldFor(ctx, "sort", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Foundation, The", sort)

	as, err := c.FieldFor(ctx, "author_sort", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Asimov, Isaac", as)

	path, err := c.FieldFor(ctx, "path", id, nil)
	require.NoError(t, err)
	assert.Equal(t, backend.ConstructPathName(id, "The Foundation", "Isaac Asimov"), path)
	assert.DirExists(t, c.LibraryPath(ctx)+"/"+path.(string))

	ts, err := c.FieldFor(ctx, "timestamp", id, nil)
	require.NoError(t, err)
	assert.True(t, testNow.Equal(ts.(time.Time)))
}

func TestCreateBookEntry_Defaults(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	id := addBook(t, c, &metadata.Metadata{})

	title, _ := c.FieldFor(ctx, "title", id, nil)
	assert.Equal(t, metadata.Unknown, title)
	authors, _ := c.FieldFor(ctx, "authors", id, nil)
	assert.Equal(t, []string{metadata.Unknown}, authors)
	idx, _ := c.FieldFor(ctx, "series_index", id, nil)
	assert.InDelta(t, 1.0, idx, 0)
}

func TestSetField_SeriesWithIndex(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Foundation", "Isaac Asimov"))

	dirtied := setField(t, c, "series", map[int64]any{id: "Foundation [3]"})
	assert.True(t, dirtied.Has(id))

	series, err := c.FieldFor(ctx, "series", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Foundation", series)
	idx, err := c.FieldFor(ctx, "series_index", id, nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, idx, 0)

	next, err := c.GetNextSeriesNumFor(ctx, "series", "foundation")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, next, 0)
}

func TestSetField_UnknownBooksIgnored(t *testing.T) {
	c := newTestCache(t)
	dirtied := setField(t, c, "tags", map[int64]any{999: []string{"x"}})
	assert.Empty(t, dirtied)
}

func TestSetField_NotEditable(t *testing.T) {
	c := newTestCache(t)
	id := addBook(t, c, metadata.New("A", "B"))
	_, err := c.SetField(context.Background(), "uuid", map[int64]any{id: "x"}, SetFieldOptions{})
	require.Error(t, err)
}

func TestComposite_InvalidatedOnWrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Foundation", "Isaac Asimov"))

	_, err := c.CreateCustomColumn(ctx, fieldmeta.CustomColumn{
		Label:    "shout",
		Name:     "Shout",
		Datatype: fieldmeta.Composite,
		Display:  map[string]any{"composite_template": "{title}!"},
	})
	require.NoError(t, err)

	v, err := c.CompositeFor(ctx, "#shout", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Foundation!", v)

	setField(t, c, "title", map[int64]any{id: "Second Foundation"})

	v, err = c.CompositeFor(ctx, "#shout", id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Second Foundation!", v)

	v, err = c.CompositeFor(ctx, "#shout", 0, metadata.New("Other"))
	require.NoError(t, err)
	assert.Equal(t, "Other!", v)
}

func TestCreateCustomColumn_Errors(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.CreateCustomColumn(ctx, fieldmeta.CustomColumn{Label: "Bad Label", Name: "x", Datatype: fieldmeta.Text})
	require.Error(t, err)

	col := fieldmeta.CustomColumn{Label: "genre", Name: "Genre", Datatype: fieldmeta.Text, IsMultiple: true, Editable: true}
	_, err = c.CreateCustomColumn(ctx, col)
	require.NoError(t, err)
	_, err = c.CreateCustomColumn(ctx, col)
	require.Error(t, err)

	_, err = c.CreateCustomColumn(ctx, fieldmeta.CustomColumn{
		Label:    "broken",
		Name:     "Broken",
		Datatype: fieldmeta.Composite,
		Display:  map[string]any{"composite_template": "program: if"},
	})
	require.Error(t, err)
}

func TestSetMetadata_Identifiers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mi := metadata.New("Dune", "Frank Herbert")
	mi.Identifiers = map[string]string{"isbn": "111"}
	id := addBook(t, c, mi)

	upd := &metadata.Metadata{Identifiers: map[string]string{"ISBN": "222", "goodreads": "5", "blank": "  "}}
	require.NoError(t, c.SetMetadata(ctx, id, upd, SetMetadataOptions{SkipTitle: true, SkipAuthors: true}))

	got, err := c.FieldFor(ctx, "identifiers", id, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"isbn": "222", "goodreads": "5"}, got)

	forced := &metadata.Metadata{Identifiers: map[string]string{"asin": "B00"}}
	require.NoError(t, c.SetMetadata(ctx, id, forced, SetMetadataOptions{
		SkipTitle:    true,
		SkipAuthors:  true,
		ForceChanges: true,
		IgnoreErrors: true,
	}))
	got, err = c.FieldFor(ctx, "identifiers", id, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"asin": "B00"}, got)
}

func TestGetMetadata_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	mi := metadata.New("Dune", "Frank Herbert")
	mi.Tags = []string{"sf", "classic"}
	mi.Series = "Dune"
	mi.SeriesIndex = metadata.Float(1)
	mi.Publisher = "Chilton"
	mi.Rating = metadata.Int(8)
	mi.Languages = []string{"eng"}
	id := addBook(t, c, mi)

	got, err := c.GetMetadata(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)
	assert.Equal(t, []string{"Frank Herbert"}, got.Authors)
	assert.ElementsMatch(t, []string{"sf", "classic"}, got.Tags)
	assert.Equal(t, "Dune", got.Series)
	require.NotNil(t, got.SeriesIndex)
	assert.InDelta(t, 1.0, *got.SeriesIndex, 0)
	assert.Equal(t, "Chilton", got.Publisher)
	require.NotNil(t, got.Rating)
	assert.Equal(t, int64(8), *got.Rating)
	assert.Equal(t, "Herbert, Frank", got.AuthorSortMap["Frank Herbert"])
	assert.NotEmpty(t, got.UUID)

	_, err = c.GetMetadata(ctx, 999, false)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSearch_DateRange(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	old := metadata.New("Foundation", "Isaac Asimov")
	old.PubDate = time.Date(1951, 6, 1, 0, 0, 0, 0, time.UTC)
	a := addBook(t, c, old)
	newer := metadata.New("Neuromancer", "William Gibson")
	newer.PubDate = time.Date(1984, 7, 1, 0, 0, 0, 0, time.UTC)
	b := addBook(t, c, newer)

	got, err := c.Search(ctx, "pubdate:1951")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, got.Sorted())

	got, err = c.Search(ctx, "pubdate:>1960")
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, got.Sorted())

	_, err = c.Search(ctx, "pubdate:someday")
	require.Error(t, err)
}

func TestSearch_EmptyIsEverything(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	addBook(t, c, metadata.New("A", "X"))
	addBook(t, c, metadata.New("B", "Y"))

	got, err := c.Search(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, c.AllBookIDs(ctx).Sorted(), got.Sorted())
}

func TestSearch_Restrictions(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a := addBook(t, c, &metadata.Metadata{Title: "Foundation", Authors: []string{"Isaac Asimov"}, Tags: []string{"sf"}})
	addBook(t, c, &metadata.Metadata{Title: "Dune", Authors: []string{"Frank Herbert"}, Tags: []string{"sf"}})
	addBook(t, c, &metadata.Metadata{Title: "Nightfall", Authors: []string{"Isaac Asimov"}, Tags: []string{"short"}})

	require.NoError(t, c.SetBaseRestriction(ctx, "tags:=sf"))
	require.NoError(t, c.SetRestriction(ctx, "authors:asimov"))

	got, err := c.Search(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, got.Sorted())

	n, err := c.SearchRestrictionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Error(t, c.SetRestriction(ctx, "pubdate:someday"))
	got, err = c.Search(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, got.Sorted(), "invalid restriction keeps the old one")
}

func TestSearch_InvalidQueryOnEmptyLibrary(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Search(ctx, "pubdate:someday")
	require.Error(t, err)
	require.Error(t, c.SetRestriction(ctx, "pubdate:someday"))
	require.Error(t, c.SetBaseRestriction(ctx, "tags:=zzz and pubdate:>x"))

	got, err := c.Search(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_GroupedTerm(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a := addBook(t, c, &metadata.Metadata{Title: "One", Authors: []string{"Ann Leckie"}})
	b := addBook(t, c, &metadata.Metadata{Title: "Two", Authors: []string{"Someone"}, Tags: []string{"leckie fans"}})
	addBook(t, c, &metadata.Metadata{Title: "Three", Authors: []string{"Other"}})

	require.NoError(t, c.SetPref(ctx, backend.PrefGroupedSearchTerms, map[string][]string{
		"people": {"authors", "tags"},
	}))
	got, err := c.Search(ctx, "people:leckie")
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, got.Sorted())
}

func TestDirtySequence_Arbitration(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Dune", "Frank Herbert"))

	seq1, ok := c.DirtySequence(ctx, id)
	require.True(t, ok)

	setField(t, c, "tags", map[int64]any{id: []string{"sf"}})
	seq2, ok := c.DirtySequence(ctx, id)
	require.True(t, ok)
	assert.Greater(t, seq2, seq1)

	// A backup taken at seq1 is stale.
	require.NoError(t, c.ClearDirtied(ctx, id, seq1))
	_, ok = c.DirtySequence(ctx, id)
	assert.True(t, ok)

	require.NoError(t, c.ClearDirtied(ctx, id, seq2))
	_, ok = c.DirtySequence(ctx, id)
	assert.False(t, ok)
	assert.Equal(t, 0, c.DirtyQueueLength(ctx))
}

func TestMarkAsDirty_UpdatesLastModified(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Dune", "Frank Herbert"))
	_, seq := c.GetMetadataForDump(ctx, id)
	require.NoError(t, c.ClearDirtied(ctx, id, seq))

	require.NoError(t, c.MarkAsDirty(ctx, []int64{id}))
	got, ok := c.GetADirtiedBook(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, []int64{id}, c.DirtiedBooks(ctx))
	lm, err := c.FieldFor(ctx, "last_modified", id, nil)
	require.NoError(t, err)
	assert.True(t, testNow.Equal(lm.(time.Time)))
}

func TestDumpMetadata(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Dune", "Frank Herbert"))

	var reported []int64
	require.NoError(t, c.DumpMetadata(ctx, nil, true, func(bookID int64, _ *metadata.Metadata, ok bool) {
		assert.True(t, ok)
		reported = append(reported, bookID)
	}))
	assert.Equal(t, []int64{id}, reported)
	assert.Equal(t, 0, c.DirtyQueueLength(ctx))

	raw, err := c.ReadBackup(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Dune")
	assert.Contains(t, string(raw), "Frank Herbert")
}

func TestMultisort_SeriesAndIndex(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	second := addBook(t, c, metadata.New("Second", "X"))
	first := addBook(t, c, metadata.New("First", "X"))
	loose := addBook(t, c, metadata.New("Loose", "X"))
	setField(t, c, "series", map[int64]any{second: "Xeno [2]", first: "Xeno [1]"})

	got, err := c.Multisort(ctx, []SortSpec{
		{Key: "series", Ascending: true},
		{Key: "series_index", Ascending: true},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{loose, first, second}, got)

	got, err = c.Multisort(ctx, []SortSpec{{Key: "title", Ascending: false}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{second, loose, first}, got)

	_, err = c.Multisort(ctx, []SortSpec{{Key: "nope", Ascending: true}}, nil)
	require.Error(t, err)
}

func TestMultisort_DatesUsingVisibleFields(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	late := addBook(t, c, metadata.New("Alpha", "X"))
	early := addBook(t, c, metadata.New("Beta", "X"))
	setField(t, c, "timestamp", map[int64]any{
		late:  time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC),
		early: time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC),
	})
	byTimestamp := []SortSpec{{Key: "timestamp", Ascending: true}}

	tests := []struct {
		name    string
		visible bool
		formats map[string]string
		want    []int64
	}{
		{"full timestamps", false, nil, []int64{early, late}},
		{"date only ties, title breaks", true, map[string]string{"timestamp": "dd MMM yyyy"}, []int64{late, early}},
		{"iso keeps the time", true, map[string]string{"timestamp": "iso"}, []int64{early, late}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, c.SetPref(ctx, backend.PrefSortDatesUsingVisibleFields, tt.visible))
			if tt.formats != nil {
				require.NoError(t, c.SetPref(ctx, backend.PrefFieldDisplayFormats, tt.formats))
			}
			got, err := c.Multisort(ctx, byTimestamp, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdatePath_MovesFormats(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Foundation", "Isaac Asimov"))

	added, err := c.AddFormat(ctx, id, "epub", strings.NewReader("book body"), true)
	require.NoError(t, err)
	assert.True(t, added)
	oldPath, _ := c.FieldFor(ctx, "path", id, nil)

	setField(t, c, "title", map[int64]any{id: "Foundation and Empire"})

	newPath, _ := c.FieldFor(ctx, "path", id, nil)
	assert.NotEqual(t, oldPath, newPath)
	assert.NoDirExists(t, c.LibraryPath(ctx)+"/"+oldPath.(string))

	p := c.FormatAbsPath(ctx, id, "EPUB")
	require.NotEmpty(t, p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "book body", string(data))
	assert.Equal(t, []string{"EPUB"}, c.Formats(ctx, id, true))
}

func TestAddFormat_NoReplace(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("A", "B"))

	_, err := c.AddFormat(ctx, id, "TXT", strings.NewReader("one"), true)
	require.NoError(t, err)
	added, err := c.AddFormat(ctx, id, "TXT", strings.NewReader("two"), false)
	require.NoError(t, err)
	assert.False(t, added)

	var sb strings.Builder
	require.NoError(t, c.CopyFormatTo(ctx, id, "txt", &sb))
	assert.Equal(t, "one", sb.String())

	require.NoError(t, c.RemoveFormats(ctx, map[int64][]string{id: {"TXT"}}))
	assert.False(t, c.HasFormat(ctx, id, "TXT"))
	_, err = c.FormatMetadata(ctx, id, "TXT")
	require.Error(t, err)
}

func TestRemoveBooks(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	keep := addBook(t, c, &metadata.Metadata{Title: "Keep", Authors: []string{"A"}, Tags: []string{"shared"}})
	gone := addBook(t, c, &metadata.Metadata{Title: "Gone", Authors: []string{"B"}, Tags: []string{"shared", "only"}})
	path, _ := c.FieldFor(ctx, "path", gone, nil)

	var changes []Change
	require.NoError(t, c.SetChangeListener(ctx, func(ch Change) { changes = append(changes, ch) }))

	require.NoError(t, c.RemoveBooks(ctx, []int64{gone}, true))

	assert.False(t, c.HasBook(ctx, gone))
	assert.True(t, c.HasBook(ctx, keep))
	assert.NoDirExists(t, c.LibraryPath(ctx)+"/"+path.(string))

	tags, err := c.AllFieldNames(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, tags)
	authors, err := c.AllFieldNames(ctx, "authors")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, authors)

	_, ok := c.DirtySequence(ctx, gone)
	assert.False(t, ok)
	require.NotEmpty(t, changes)
	assert.True(t, changes[len(changes)-1].Removed.Has(gone))

	got, err := c.Search(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{keep}, got.Sorted())
}

func TestAddBooks_Duplicates(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	addBook(t, c, metadata.New("Dune", "Frank Herbert"))

	var skipped int
	ids, dups, err := c.AddBooks(ctx, []BookEntry{
		{Metadata: metadata.New("dune", "frank herbert")},
		{Metadata: metadata.New("Children of Dune", "Frank Herbert")},
	}, AddOptions{Progress: func(bookID int64, _ *metadata.Metadata, ok bool) {
		if !ok && bookID == 0 {
			skipped++
		}
	}})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, []int{0}, dups)
	assert.Equal(t, 1, skipped)
	assert.Len(t, c.AllBookIDs(ctx), 2)
}

func TestRenameItems_MergesAuthors(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	a := addBook(t, c, metadata.New("One", "I. Asimov"))
	b := addBook(t, c, metadata.New("Two", "Isaac Asimov"))

	from, ok, err := c.GetItemID(ctx, "authors", "I. Asimov")
	require.NoError(t, err)
	require.True(t, ok)
	to, ok, err := c.GetItemID(ctx, "authors", "Isaac Asimov")
	require.NoError(t, err)
	require.True(t, ok)

	books, idMap, err := c.RenameItems(ctx, "authors", map[int64]any{from: "Isaac Asimov"})
	require.NoError(t, err)
	assert.True(t, books.Has(a))
	assert.Equal(t, to, idMap[from])

	got, err := c.BooksForField(ctx, "authors", to)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, got.Sorted())

	path, _ := c.FieldFor(ctx, "path", a, nil)
	assert.True(t, strings.HasPrefix(path.(string), "Isaac Asimov/"))
}

func TestRemoveItems_OrphanAuthorsBecomeUnknown(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := addBook(t, c, metadata.New("Solo", "Lonely Writer"))
	aid, ok, err := c.GetItemID(ctx, "authors", "Lonely Writer")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.RemoveItems(ctx, "authors", []int64{aid})
	require.NoError(t, err)

	authors, _ := c.FieldFor(ctx, "authors", id, nil)
	assert.Equal(t, []string{metadata.Unknown}, authors)
}

func TestGetCategories(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	a := addBook(t, c, &metadata.Metadata{Title: "A", Authors: []string{"X"}, Tags: []string{"sf", "classic"}, Rating: metadata.Int(10)})
	addBook(t, c, &metadata.Metadata{Title: "B", Authors: []string{"Y"}, Tags: []string{"sf"}, Rating: metadata.Int(6)})
	_, err := c.AddFormat(ctx, a, "EPUB", strings.NewReader("x"), true)
	require.NoError(t, err)

	cats, err := c.GetCategories(ctx, SortByPopularity, nil)
	require.NoError(t, err)

	tags := cats["tags"]
	require.Len(t, tags, 2)
	assert.Equal(t, "sf", tags[0].Name)
	assert.Equal(t, 2, tags[0].Count)
	assert.InDelta(t, 4.0, tags[0].AvgRating, 0.001)
	assert.Equal(t, "classic", tags[1].Name)

	require.Len(t, cats["formats"], 1)
	assert.Equal(t, "EPUB", cats["formats"][0].Name)

	_, err = c.GetCategories(ctx, "sideways", nil)
	require.Error(t, err)
}

func TestCustomBookData(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	a := addBook(t, c, metadata.New("A", "X"))
	b := addBook(t, c, metadata.New("B", "Y"))

	require.NoError(t, c.AddCustomBookData(ctx, "progress", map[int64]any{a: "50%"}))
	got, err := c.GetCustomBookData(ctx, "progress", []int64{a, b}, "none")
	require.NoError(t, err)
	assert.Equal(t, map[int64]any{a: "50%", b: "none"}, got)

	ids, err := c.GetIDsForCustomBookData(ctx, "progress")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, ids)

	require.NoError(t, c.DeleteCustomBookData(ctx, "progress", []int64{a}))
	ids, err = c.GetIDsForCustomBookData(ctx, "progress")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMarkedIDs(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	a := addBook(t, c, metadata.New("A", "X"))
	b := addBook(t, c, metadata.New("B", "Y"))

	d := addBook(t, c, metadata.New("D", "Z"))

	require.NoError(t, c.SetMarkedIDs(ctx, map[int64]string{a: "", b: "later", d: "lat"}))
	assert.Equal(t, map[int64]string{a: "true", b: "later", d: "lat"}, c.MarkedIDs(ctx))

	tests := []struct {
		query string
		want  []int64
	}{
		{"marked:later", []int64{b}},
		{"marked:lat", []int64{d}},
		{"marked:LATER", []int64{b}},
		{"marked:true", []int64{a, b, d}},
		{"marked:~^lat", []int64{b, d}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := c.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Sorted())
		})
	}
}

func TestClose_RejectsWrites(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Close(ctx))
	_, err := c.CreateBookEntry(ctx, metadata.New("A"), CreateOptions{})
	require.Error(t, err)
}
