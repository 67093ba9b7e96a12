package field

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
)

// Sources supplies the values of virtual fields that live outside the
// library: device presence and marks.
type Sources struct {
	OnDevice func(bookID int64) any
	Marked   func(bookID int64) any
}

// Fields is the in-memory state of a library, keyed by field key, with
// typed handles on the fields other code reaches for directly.
type Fields struct {
	byKey map[string]Field

	Title        *OneOneField
	Sort         *OneOneField
	AuthorSort   *OneOneField
	Authors      *ManyManyField
	Series       *ManyOneField
	SeriesIndex  *OneOneField
	Languages    *ManyManyField
	Tags         *ManyManyField
	Identifiers  *IdentifiersField
	Formats      *FormatsField
	Path         *OneOneField
	UUID         *OneOneField
	Cover        *OneOneField
	Timestamp    *OneOneField
	PubDate      *OneOneField
	LastModified *OneOneField
}

// Build creates every field of reg from a snapshot of the tables. Custom
// columns must already be registered in reg.
func Build(reg *fieldmeta.Registry, snap *backend.Snapshot, src Sources) (*Fields, error) {
	fs := &Fields{byKey: make(map[string]Field)}
	specs := make(map[string]backend.LinkSpec)
	for _, s := range backend.BuiltinLinks() {
		specs[s.Key] = s
	}

	bookVals := func(get func(backend.BookRow) any) map[int64]any {
		m := make(map[int64]any, len(snap.Books))
		for _, b := range snap.Books {
			if v := get(b); v != nil {
				m[b.ID] = v
			}
		}
		return m
	}

	for key, meta := range reg.All() {
		var f Field
		switch {
		case meta.IsCustom:
			cf, err := fs.buildCustom(meta, snap)
			if err != nil {
				return nil, err
			}
			f = cf
		case meta.Kind == fieldmeta.OneOne:
			var vals map[int64]any
			switch key {
			case "title":
				vals = bookVals(func(b backend.BookRow) any { return b.Title })
			case "sort":
				vals = bookVals(func(b backend.BookRow) any { return b.Sort })
			case "author_sort":
				vals = bookVals(func(b backend.BookRow) any { return b.AuthorSort })
			case "uuid":
				vals = bookVals(func(b backend.BookRow) any { return b.UUID })
			case "path":
				vals = bookVals(func(b backend.BookRow) any { return b.Path })
			case "series_index":
				vals = bookVals(func(b backend.BookRow) any { return b.SeriesIndex })
			case "cover":
				vals = bookVals(func(b backend.BookRow) any { return b.HasCover })
			case "timestamp":
				vals = bookVals(func(b backend.BookRow) any { return nonZero(b.Timestamp) })
			case "pubdate":
				vals = bookVals(func(b backend.BookRow) any { return nonZero(b.PubDate) })
			case "last_modified":
				vals = bookVals(func(b backend.BookRow) any { return nonZero(b.LastModified) })
			case "comments":
				vals = maps.Clone(snap.OneOne["comments"])
			default:
				return nil, fmt.Errorf("no storage for field %s", key)
			}
			f = NewOneOne(meta, vals)
		case meta.Kind == fieldmeta.ManyOne:
			f = NewManyOne(meta, specs[key], snap.Items[key])
		case meta.Kind == fieldmeta.ManyMany:
			f = NewManyMany(meta, specs[key], snap.Items[key])
		case meta.Kind == fieldmeta.IdentifiersKind:
			ids := make(map[int64]map[string]string, len(snap.Identifiers))
			for book, m := range snap.Identifiers {
				ids[book] = maps.Clone(m)
			}
			f = NewIdentifiers(meta, ids)
		case meta.Kind == fieldmeta.FormatsKind:
			f = NewFormats(meta, snap.Formats)
		case meta.Kind == fieldmeta.Virtual:
			continue
		default:
			return nil, fmt.Errorf("unsupported field %s", meta)
		}
		fs.byKey[key] = f
	}

	if err := fs.wire(); err != nil {
		return nil, err
	}
	fs.buildVirtual(reg, src)
	return fs, nil
}

func nonZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (fs *Fields) buildCustom(meta *fieldmeta.Field, snap *backend.Snapshot) (Field, error) {
	col := fieldmeta.CustomColumn{ID: meta.ColNum, Label: meta.Label, Datatype: meta.Datatype}
	switch meta.Kind {
	case fieldmeta.OneOne:
		return NewOneOne(meta, maps.Clone(snap.OneOne[meta.Key])), nil
	case fieldmeta.ManyOne:
		return NewManyOne(meta, backend.CustomLinkSpec(col), snap.Items[meta.Key]), nil
	case fieldmeta.ManyMany:
		return NewManyMany(meta, backend.CustomLinkSpec(col), snap.Items[meta.Key]), nil
	case fieldmeta.SeriesIndexKind:
		parent, ok := fs.byKey[meta.Key[:len(meta.Key)-len("_index")]].(*ManyOneField)
		if !ok {
			return nil, fmt.Errorf("series column missing for %s", meta.Key)
		}
		return NewSeriesIndex(meta, parent), nil
	case fieldmeta.CompositeKind:
		return NewComposite(meta), nil
	}
	return nil, fmt.Errorf("unsupported custom field %s", meta)
}

func (fs *Fields) wire() error {
	var ok bool
	one := func(key string) *OneOneField {
		f, isOne := fs.byKey[key].(*OneOneField)
		ok = ok && isOne
		return f
	}
	ok = true
	fs.Title = one("title")
	fs.Sort = one("sort")
	fs.AuthorSort = one("author_sort")
	fs.SeriesIndex = one("series_index")
	fs.Path = one("path")
	fs.UUID = one("uuid")
	fs.Cover = one("cover")
	fs.Timestamp = one("timestamp")
	fs.PubDate = one("pubdate")
	fs.LastModified = one("last_modified")
	if !ok {
		return fmt.Errorf("built-in one-one fields missing")
	}
	fs.Authors, ok = fs.byKey["authors"].(*ManyManyField)
	if !ok {
		return fmt.Errorf("authors field missing")
	}
	if fs.Tags, ok = fs.byKey["tags"].(*ManyManyField); !ok {
		return fmt.Errorf("tags field missing")
	}
	if fs.Languages, ok = fs.byKey["languages"].(*ManyManyField); !ok {
		return fmt.Errorf("languages field missing")
	}
	if fs.Series, ok = fs.byKey["series"].(*ManyOneField); !ok {
		return fmt.Errorf("series field missing")
	}
	if fs.Identifiers, ok = fs.byKey["identifiers"].(*IdentifiersField); !ok {
		return fmt.Errorf("identifiers field missing")
	}
	if fs.Formats, ok = fs.byKey["formats"].(*FormatsField); !ok {
		return fmt.Errorf("formats field missing")
	}

	fs.Authors.authorSort = fs.AuthorSort
	fs.Series.indexOf = func(bookID int64) float64 {
		v, _ := fs.SeriesIndex.ForBook(bookID, 1.0).(float64)
		return v
	}

	text := func(*WriteContext) any { return "" }
	fs.Title.notNull = func(*WriteContext) any { return metadata.Unknown }
	fs.Sort.notNull = text
	fs.AuthorSort.notNull = text
	fs.UUID.notNull = text
	fs.Path.notNull = text
	fs.SeriesIndex.notNull = func(*WriteContext) any { return 1.0 }
	fs.Cover.notNull = func(*WriteContext) any { return false }
	fs.LastModified.notNull = func(wc *WriteContext) any { return wc.Now }

	fs.Title.afterWrite = func(wc *WriteContext, changed map[int64]any) error {
		sorts := make(map[int64]any, len(changed))
		for book, v := range changed {
			title, _ := v.(string)
			sorts[book] = metadata.TitleSort(title, fs.BookLanguage(book))
		}
		_, err := fs.Sort.Write(wc, sorts)
		return err
	}
	return nil
}

func (fs *Fields) buildVirtual(reg *fieldmeta.Registry, src Sources) {
	for key, meta := range reg.All() {
		if meta.Kind != fieldmeta.Virtual {
			continue
		}
		var value func(int64) any
		switch key {
		case "id":
			value = func(id int64) any {
				if _, ok := fs.Title.vals[id]; !ok {
					return nil
				}
				return id
			}
		case "size":
			value = func(id int64) any {
				if len(fs.Formats.vals[id]) == 0 {
					return nil
				}
				return float64(fs.Formats.Size(id))
			}
		case "series_sort":
			value = func(id int64) any {
				name, ok := fs.Series.ForBook(id, nil).(string)
				if !ok {
					return nil
				}
				return metadata.TitleSort(name, fs.BookLanguage(id))
			}
		case "ondevice":
			value = orNil(src.OnDevice)
		case "marked":
			value = orNil(src.Marked)
		default:
			value = func(int64) any { return nil }
		}
		fs.byKey[key] = NewVirtual(meta, value)
	}
}

func orNil(fn func(int64) any) func(int64) any {
	if fn == nil {
		return func(int64) any { return nil }
	}
	return fn
}

// Get returns the field with key.
func (fs *Fields) Get(key string) (Field, bool) {
	f, ok := fs.byKey[key]
	return f, ok
}

// Keys lists every field key in sorted order.
func (fs *Fields) Keys() []string {
	return slices.Sorted(maps.Keys(fs.byKey))
}

// All iterates over every field.
func (fs *Fields) All() map[string]Field {
	return maps.Clone(fs.byKey)
}

// Composites returns the composite fields.
func (fs *Fields) Composites() []*CompositeField {
	var out []*CompositeField
	for _, key := range fs.Keys() {
		if c, ok := fs.byKey[key].(*CompositeField); ok {
			out = append(out, c)
		}
	}
	return out
}

// AddCustom builds an empty field for a newly created custom column, and
// its index field for series columns.
func (fs *Fields) AddCustom(reg *fieldmeta.Registry, meta *fieldmeta.Field) error {
	empty := &backend.Snapshot{
		Items:  map[string]*backend.ItemTable{},
		OneOne: map[string]map[int64]any{},
	}
	f, err := fs.buildCustom(meta, empty)
	if err != nil {
		return err
	}
	fs.byKey[meta.Key] = f
	if meta.IsSeriesLike() {
		if im, ok := reg.Field(meta.Key + "_index"); ok {
			idx, err := fs.buildCustom(im, empty)
			if err != nil {
				return err
			}
			fs.byKey[im.Key] = idx
		}
	}
	return nil
}

// RemoveCustom forgets a custom field and its index field.
func (fs *Fields) RemoveCustom(key string) {
	delete(fs.byKey, key)
	delete(fs.byKey, key+"_index")
}

// BookIDs returns every book in the library.
func (fs *Fields) BookIDs() IDSet {
	return fs.Title.Books()
}

// BookLanguage returns the first language of a book, or "".
func (fs *Fields) BookLanguage(bookID int64) string {
	if langs := fs.Languages.Strings(bookID); len(langs) > 0 {
		return langs[0]
	}
	return ""
}
