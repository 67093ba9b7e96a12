package backend

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), Options{
		LibraryPath:        t.TempDir(),
		Clock:              func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		InMemoryCustomData: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func insertBook(t *testing.T, b *Backend, title string) BookRow {
	t.Helper()
	ctx := context.Background()
	var row BookRow
	require.NoError(t, b.WithTx(ctx, func(c Conn) error {
		var err error
		row, err = b.InsertBook(ctx, c, NewBook{Title: title, Sort: title, SeriesIndex: 1})
		return err
	}))
	return row
}

func TestConstructPathName(t *testing.T) {
	tests := []struct {
		name   string
		id     int64
		title  string
		author string
		want   string
	}{
		{"plain", 1, "Foundation", "Isaac Asimov", "Isaac Asimov/Foundation (1)"},
		{"accents", 2, "Über Alles", "Gabriel García Márquez", "Gabriel Garcia Marquez/Uber Alles (2)"},
		{"separators", 3, "A/B: C?", "X\\Y", "X_Y/A_B_ C_ (3)"},
		{"empty", 4, "", "", "Unknown/Unknown (4)"},
		{"reserved", 5, "Title", "con", "conw/Title (5)"},
		{"trailing dots", 6, "Wait...", "Someone.", "Someone/Wait (6)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstructPathName(tt.id, tt.title, tt.author))
		})
	}
}

func TestConstructPathName_Truncates(t *testing.T) {
	p := ConstructPathName(12, strings.Repeat("t", 300), strings.Repeat("a", 300))
	parts := strings.Split(p, "/")
	require.Len(t, parts, 2)
	assert.LessOrEqual(t, len(parts[0]), pathLimit)
	assert.True(t, strings.HasSuffix(parts[1], " (12)"))
	assert.LessOrEqual(t, len(parts[1]), pathLimit+len(" (12)"))
}

func TestConstructFileName(t *testing.T) {
	assert.Equal(t, "Foundation - Isaac Asimov", ConstructFileName("Foundation", "Isaac Asimov", 5))
	assert.Equal(t, "Unknown", ConstructFileName("", "", 5))
	long := ConstructFileName(strings.Repeat("t", 200), strings.Repeat("a", 200), 5)
	assert.LessOrEqual(t, len(long), pathLimit)
}

func TestOpen_CreatesSchemaAndLibraryID(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := Open(ctx, Options{LibraryPath: dir, InMemoryCustomData: true})
	require.NoError(t, err)
	libID := b.Prefs.GetString(PrefLibraryID)
	assert.NotEmpty(t, libID)
	require.NoError(t, b.Close())

	assert.FileExists(t, filepath.Join(dir, DBName))

	b, err = Open(ctx, Options{LibraryPath: dir, InMemoryCustomData: true})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, libID, b.Prefs.GetString(PrefLibraryID), "library id survives reopen")
}

func TestPrefs_DefaultsAndPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := Open(ctx, Options{LibraryPath: dir, InMemoryCustomData: true})
	require.NoError(t, err)

	assert.True(t, b.Prefs.GetBool(PrefBoolsAreTristate))
	assert.Equal(t, "library_order", b.Prefs.GetString(PrefTitleSeriesSorting))
	assert.Equal(t, []string{"title", "authors", "tags", "series", "publisher"}, b.Prefs.GetStrings(PrefLimitSearchColumnsTo))

	groups := map[string][]string{"people": {"authors", "#editor"}}
	require.NoError(t, b.Prefs.Set(ctx, PrefGroupedSearchTerms, groups))
	require.NoError(t, b.Prefs.Set(ctx, PrefBoolsAreTristate, false))
	require.NoError(t, b.Close())

	b, err = Open(ctx, Options{LibraryPath: dir, InMemoryCustomData: true})
	require.NoError(t, err)
	defer b.Close()

	var got map[string][]string
	require.NoError(t, b.Prefs.Unmarshal(PrefGroupedSearchTerms, &got))
	assert.Equal(t, groups, got)
	assert.False(t, b.Prefs.GetBool(PrefBoolsAreTristate))
}

func TestPrefs_DefaultsAreCopies(t *testing.T) {
	b := newTestBackend(t)
	m, ok := b.Prefs.Get(PrefUserCategories).(map[string]any)
	require.True(t, ok)
	m["mutated"] = true
	assert.Empty(t, b.Prefs.Get(PrefUserCategories))
}

func TestReadTables(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Foundation")

	authors := BuiltinLinks()[0]
	require.Equal(t, "authors", authors.Key)
	require.NoError(t, b.WithTx(ctx, func(c Conn) error {
		a1, err := authors.InsertItem(ctx, c, "Isaac Asimov", "Asimov, Isaac")
		if err != nil {
			return err
		}
		a2, err := authors.InsertItem(ctx, c, "Someone Else", "Else, Someone")
		if err != nil {
			return err
		}
		if err := authors.ReplaceLinks(ctx, c, row.ID, []int64{a2, a1}, nil); err != nil {
			return err
		}
		if err := SetIdentifiers(ctx, c, row.ID, map[string]string{"isbn": "123"}); err != nil {
			return err
		}
		return SetOneOneTable(ctx, c, "comments", "text", map[int64]any{row.ID: "<p>Hi</p>"})
	}))

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Books, 1)
	assert.Equal(t, "Foundation", snap.Books[0].Title)
	assert.False(t, snap.Books[0].Timestamp.IsZero())
	assert.True(t, snap.Books[0].PubDate.IsZero())

	at := snap.Items["authors"]
	require.Len(t, at.Items, 2)
	assert.Equal(t, "Asimov, Isaac", at.Items[0].Sort)
	require.Len(t, at.Links, 2)
	assert.Equal(t, at.Items[1].ID, at.Links[0].Item, "link order preserved")

	assert.Equal(t, map[string]string{"isbn": "123"}, snap.Identifiers[row.ID])
	assert.Equal(t, "<p>Hi</p>", snap.OneOne["comments"][row.ID])
	assert.Contains(t, snap.Items, "rating")
}

func TestDeleteBookRows_Cascades(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Doomed")

	tags := BuiltinLinks()[1]
	require.NoError(t, b.WithTx(ctx, func(c Conn) error {
		tag, err := tags.InsertItem(ctx, c, "fiction", "")
		if err != nil {
			return err
		}
		if err := tags.ReplaceLinks(ctx, c, row.ID, []int64{tag}, nil); err != nil {
			return err
		}
		if err := MarkDirtied(ctx, c, []int64{row.ID}); err != nil {
			return err
		}
		return DeleteBookRows(ctx, c, []int64{row.ID})
	}))

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Books)
	assert.Empty(t, snap.Items["tags"].Links)
	assert.Len(t, snap.Items["tags"].Items, 1, "items are removed by the field layer, not the cascade")
	assert.Empty(t, snap.Dirtied)
}

func TestDirtied(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	r1, r2 := insertBook(t, b, "One"), insertBook(t, b, "Two")

	require.NoError(t, MarkDirtied(ctx, b.Conn(), []int64{r1.ID, r2.ID, r1.ID}))
	ids, err := b.DirtiedBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{r1.ID, r2.ID}, ids)

	require.NoError(t, ClearDirtied(ctx, b.Conn(), r1.ID))
	ids, err = b.DirtiedBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{r2.ID}, ids)
}

func TestCustomColumns(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Book")

	genre, err := b.CreateCustomColumn(ctx, fieldmeta.CustomColumn{
		Label: "genre", Name: "Genre", Datatype: fieldmeta.Text, IsMultiple: true, Editable: true,
	})
	require.NoError(t, err)
	assert.Positive(t, genre.ID)

	pages, err := b.CreateCustomColumn(ctx, fieldmeta.CustomColumn{
		Label: "pages", Name: "Pages", Datatype: fieldmeta.Int, Editable: true,
		Display: map[string]any{"number_format": "{0:,d}"},
	})
	require.NoError(t, err)

	_, err = b.CreateCustomColumn(ctx, fieldmeta.CustomColumn{Label: "genre", Name: "Again", Datatype: fieldmeta.Text})
	assert.ErrorIs(t, err, errors.ErrValidation)

	require.NoError(t, b.WithTx(ctx, func(c Conn) error {
		spec := CustomLinkSpec(genre)
		item, err := spec.InsertItem(ctx, c, "Sci-Fi", "")
		if err != nil {
			return err
		}
		if err := spec.ReplaceLinks(ctx, c, row.ID, []int64{item}, nil); err != nil {
			return err
		}
		return SetOneOneTable(ctx, c, pages.ItemTable(), "value", map[int64]any{row.ID: int64(320)})
	}))

	cols, err := b.CustomColumns(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "{0:,d}", cols[1].Display["number_format"])

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sci-Fi", snap.Items["#genre"].Items[0].Value)
	assert.Equal(t, int64(320), snap.OneOne["#pages"][row.ID])

	require.NoError(t, b.DeleteCustomColumn(ctx, "genre"))
	cols, err = b.CustomColumns(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)

	err = b.DeleteCustomColumn(ctx, "genre")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestLinkSpec_MergeItem(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	r1, r2 := insertBook(t, b, "One"), insertBook(t, b, "Two")
	tags := BuiltinLinks()[1]

	require.NoError(t, b.WithTx(ctx, func(c Conn) error {
		a, err := tags.InsertItem(ctx, c, "SF", "")
		if err != nil {
			return err
		}
		bb, err := tags.InsertItem(ctx, c, "sf", "")
		if err != nil {
			return err
		}
		if err := tags.ReplaceLinks(ctx, c, r1.ID, []int64{a, bb}, nil); err != nil {
			return err
		}
		if err := tags.ReplaceLinks(ctx, c, r2.ID, []int64{bb}, nil); err != nil {
			return err
		}
		return tags.MergeItem(ctx, c, bb, a)
	}))

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	table := snap.Items["tags"]
	require.Len(t, table.Items, 1)
	assert.Equal(t, "SF", table.Items[0].Value)
	assert.Len(t, table.Links, 2, "one link per book after merge")
}

func TestFormats(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Foundation")

	pu, err := b.UpdatePath(ctx, row.ID, "Foundation", "Isaac Asimov", "", nil)
	require.NoError(t, err)
	require.DirExists(t, b.Abs(pu.Path))

	name := ConstructFileName("Foundation", "Isaac Asimov", 5)
	size, err := b.AddFormat(ctx, b.Conn(), row.ID, "epub", strings.NewReader("epub-bytes"), pu.Path, name)
	require.NoError(t, err)
	assert.Equal(t, int64(len("epub-bytes")), size)

	assert.True(t, b.HasFormat(pu.Path, "EPUB", name))
	info, err := b.FormatMetadata(pu.Path, "EPUB", name)
	require.NoError(t, err)
	assert.Equal(t, size, info.Size)
	assert.True(t, strings.HasSuffix(info.Path, ".epub"))

	var buf bytes.Buffer
	require.NoError(t, b.CopyFormatTo(pu.Path, "EPUB", name, &buf))
	assert.Equal(t, "epub-bytes", buf.String())

	// A renamed file is still found by extension.
	require.NoError(t, os.Rename(info.Path, filepath.Join(b.Abs(pu.Path), "other.epub")))
	assert.True(t, b.HasFormat(pu.Path, "EPUB", name))

	_, err = b.FormatMetadata(pu.Path, "PDF", name)
	assert.ErrorIs(t, err, errors.ErrNoSuchFormat)
	err = b.CopyFormatTo(pu.Path, "PDF", name, &buf)
	assert.ErrorIs(t, err, errors.ErrNoSuchFormat)

	require.NoError(t, b.RemoveFormat(ctx, b.Conn(), row.ID, "EPUB", pu.Path, name))
	assert.False(t, b.HasFormat(pu.Path, "EPUB", name))
	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Formats[row.ID])
}

func TestUpdatePath_MovesContents(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Old Title")

	pu, err := b.UpdatePath(ctx, row.ID, "Old Title", "Old Author", "", nil)
	require.NoError(t, err)
	oldName := ConstructFileName("Old Title", "Old Author", 5)
	_, err = b.AddFormat(ctx, b.Conn(), row.ID, "EPUB", strings.NewReader("data"), pu.Path, oldName)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(b.Abs(pu.Path), "extra.txt"), []byte("x"), 0o644))
	oldDir := b.Abs(pu.Path)

	pu2, err := b.UpdatePath(ctx, row.ID, "New Title", "New Author", pu.Path, map[string]string{"EPUB": oldName})
	require.NoError(t, err)
	assert.True(t, pu2.Changed)
	assert.Equal(t, "New Author/New Title (1)", pu2.Path)
	assert.Equal(t, "New Title - New Author", pu2.Names["EPUB"])

	newDir := b.Abs(pu2.Path)
	assert.NoDirExists(t, oldDir)
	assert.NoDirExists(t, filepath.Dir(oldDir), "emptied author directory is removed")
	assert.FileExists(t, filepath.Join(newDir, "extra.txt"))
	data, err := os.ReadFile(filepath.Join(newDir, "New Title - New Author.epub"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, pu2.Path, snap.Books[0].Path)
	assert.Equal(t, "New Title - New Author", snap.Formats[row.ID][0].Name)

	// Nothing to do the second time.
	pu3, err := b.UpdatePath(ctx, row.ID, "New Title", "New Author", pu2.Path, pu2.Names)
	require.NoError(t, err)
	assert.False(t, pu3.Changed)
}

func TestUpdatePath_CaseOnlyChange(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "title")

	pu, err := b.UpdatePath(ctx, row.ID, "title", "author", "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(b.Abs(pu.Path), "keep.txt"), []byte("k"), 0o644))

	pu2, err := b.UpdatePath(ctx, row.ID, "Title", "Author", pu.Path, nil)
	require.NoError(t, err)
	assert.Equal(t, "Author/Title (1)", pu2.Path)
	assert.FileExists(t, filepath.Join(b.Abs(pu2.Path), "keep.txt"))

	entries, err := os.ReadDir(b.LibraryPath())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "Author")
	assert.NotContains(t, names, "author")
}

func TestRemoveBooks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	r1, r2 := insertBook(t, b, "Keep In Trash"), insertBook(t, b, "Delete Forever")

	p1, err := b.UpdatePath(ctx, r1.ID, "Keep In Trash", "A", "", nil)
	require.NoError(t, err)
	p2, err := b.UpdatePath(ctx, r2.ID, "Delete Forever", "B", "", nil)
	require.NoError(t, err)
	require.NoError(t, b.CustomData().Set("plugin", map[int64]any{r1.ID: "x", r2.ID: "y"}))

	require.NoError(t, b.RemoveBooks(ctx, map[int64]string{r1.ID: p1.Path}, false))
	assert.NoDirExists(t, b.Abs(p1.Path))
	trash, err := os.ReadDir(filepath.Join(b.LibraryPath(), TrashDir))
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.True(t, strings.HasPrefix(trash[0].Name(), "1-"))

	require.NoError(t, b.RemoveBooks(ctx, map[int64]string{r2.ID: p2.Path}, true))
	assert.NoDirExists(t, b.Abs(p2.Path))

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Books)
	ids, err := b.CustomData().IDs("plugin")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBackupRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Book")
	pu, err := b.UpdatePath(ctx, row.ID, "Book", "Writer", "", nil)
	require.NoError(t, err)

	_, err = b.ReadBackup(pu.Path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, b.WriteBackup(pu.Path, []byte("<package/>")))
	raw, err := b.ReadBackup(pu.Path)
	require.NoError(t, err)
	assert.Equal(t, "<package/>", string(raw))

	require.NoError(t, b.WriteBackup(pu.Path, []byte("<package>2</package>")))
	raw, err = b.ReadBackup(pu.Path)
	require.NoError(t, err)
	assert.Equal(t, "<package>2</package>", string(raw))

	entries, err := os.ReadDir(b.Abs(pu.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	assert.Error(t, b.WriteBackup("", []byte("x")))
}

func TestSetCover(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	row := insertBook(t, b, "Covered")
	pu, err := b.UpdatePath(ctx, row.ID, "Covered", "Artist", "", nil)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	require.NoError(t, b.SetCover(ctx, b.Conn(), row.ID, pu.Path, pngBuf.Bytes()))
	data, err := b.CoverData(pu.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, data[:3], "stored as jpeg")

	snap, err := b.ReadTables(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Books[0].HasCover)

	err = b.SetCover(ctx, b.Conn(), row.ID, pu.Path, []byte("not an image"))
	assert.ErrorIs(t, err, errors.ErrValidation)

	require.NoError(t, b.SetCover(ctx, b.Conn(), row.ID, pu.Path, nil))
	assert.Empty(t, b.CoverAbsPath(pu.Path))
	snap, err = b.ReadTables(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Books[0].HasCover)
}

func TestCustomDataStore(t *testing.T) {
	b := newTestBackend(t)
	cd := b.CustomData()

	require.NoError(t, cd.Set("reads", map[int64]any{1: 3, 2: map[string]any{"page": 10}}))
	require.NoError(t, cd.Set("other", map[int64]any{1: true}))

	got, err := cd.Get("reads", []int64{1, 2, 3}, "none")
	require.NoError(t, err)
	assert.Equal(t, float64(3), got[1])
	assert.Equal(t, map[string]any{"page": float64(10)}, got[2])
	assert.Equal(t, "none", got[3])

	ids, err := cd.IDs("reads")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	require.NoError(t, cd.Delete("reads", []int64{1}))
	ids, err = cd.IDs("reads")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	require.NoError(t, cd.Delete("reads", nil))
	ids, err = cd.IDs("reads")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = cd.IDs("other")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestSetBookColumn_RejectsUnknownColumns(t *testing.T) {
	b := newTestBackend(t)
	err := SetBookColumn(context.Background(), b.Conn(), "title; DROP TABLE books", map[int64]any{1: "x"})
	assert.Error(t, err)
}
