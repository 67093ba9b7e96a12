package cache

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
)

// GetMetadata returns a detached copy of every field of a book. With
// withCover the cover bytes are loaded too.
func (c *Cache) GetMetadata(ctx context.Context, bookID int64, withCover bool) (*metadata.Metadata, error) {
	_, release := c.readAPI(ctx, "GetMetadata")
	defer release()
	return c.getMetadata(bookID, withCover)
}

func (c *Cache) getMetadata(bookID int64, withCover bool) (*metadata.Metadata, error) {
	if !c.hasBook(bookID) {
		return nil, errors.NotFoundf("book %d not found", bookID)
	}
	fs := c.fields
	str := func(f field.Field) string {
		s, _ := f.ForBook(bookID, "").(string)
		return s
	}
	date := func(f field.Field) time.Time {
		t, _ := f.ForBook(bookID, nil).(time.Time)
		return t
	}

	mi := &metadata.Metadata{
		BookID:       bookID,
		Title:        str(fs.Title),
		TitleSort:    str(fs.Sort),
		Authors:      fs.Authors.Strings(bookID),
		AuthorSort:   str(fs.AuthorSort),
		Tags:         fs.Tags.Strings(bookID),
		Languages:    fs.Languages.Strings(bookID),
		Identifiers:  fs.Identifiers.Map(bookID),
		UUID:         str(fs.UUID),
		Path:         str(fs.Path),
		PubDate:      date(fs.PubDate),
		Timestamp:    date(fs.Timestamp),
		LastModified: date(fs.LastModified),
		Formats:      fs.Formats.Formats(bookID),
		Size:         fs.Formats.Size(bookID),
	}
	if s, ok := fs.Series.ForBook(bookID, nil).(string); ok {
		mi.Series = s
	}
	if idx, ok := fs.SeriesIndex.ForBook(bookID, 1.0).(float64); ok {
		mi.SeriesIndex = metadata.Float(idx)
	}
	if f, ok := fs.Get("publisher"); ok {
		mi.Publisher, _ = f.ForBook(bookID, "").(string)
	}
	if f, ok := fs.Get("rating"); ok {
		if r, ok := f.ForBook(bookID, nil).(int64); ok {
			mi.Rating = metadata.Int(r)
		}
	}
	if f, ok := fs.Get("comments"); ok {
		mi.Comments, _ = f.ForBook(bookID, "").(string)
	}

	authors, _ := c.itemField("authors")
	mi.AuthorSortMap = make(map[string]string, len(mi.Authors))
	mi.AuthorLinkMap = make(map[string]string, len(mi.Authors))
	for _, id := range authors.IDsForBook(bookID) {
		v, _ := authors.ItemValue(id)
		name, _ := v.(string)
		mi.AuthorSortMap[name] = authors.ItemSort(id)
		mi.AuthorLinkMap[name] = authors.ItemLink(id)
	}

	if has, _ := fs.Cover.ForBook(bookID, false).(bool); has {
		mi.Cover = c.backend.CoverAbsPath(mi.Path)
		if withCover && mi.Cover != "" {
			data, err := c.backend.CoverData(mi.Path)
			if err != nil {
				c.logger.Warn("reading cover failed", "book_id", bookID, "error", err)
			}
			mi.CoverData = data
		}
	}

	mi.UserMetadata = make(map[string]*metadata.UserField)
	for key, meta := range c.reg.CustomIterItems() {
		if meta.Kind == fieldmeta.SeriesIndexKind {
			continue
		}
		f, ok := fs.Get(key)
		if !ok {
			continue
		}
		uf := &metadata.UserField{
			Label:      meta.Label,
			Name:       meta.Name,
			Datatype:   string(meta.Datatype),
			IsMultiple: meta.IsMultiple != nil,
			Display:    meta.Display,
			Value:      f.ForBook(bookID, nil),
		}
		if meta.IsSeriesLike() && uf.Value != nil {
			if idx, ok := fs.Get(key + "_index"); ok {
				if v, ok := idx.ForBook(bookID, nil).(float64); ok {
					uf.Extra = metadata.Float(v)
				}
			}
		}
		mi.UserMetadata[key] = uf
	}
	return mi, nil
}

// SetMetadataOptions tune SetMetadata.
type SetMetadataOptions struct {
	// IgnoreErrors logs failing fields and carries on.
	IgnoreErrors bool
	// ForceChanges applies empty values: lists and maps set to empty are
	// cleared and identifiers are replaced instead of merged.
	ForceChanges bool
	SkipTitle    bool
	SkipAuthors  bool
	// KeepCase reuses existing items as stored when only case differs.
	KeepCase bool
}

// SetMetadata applies mi to a book. Null fields of mi are left alone. The
// cover is only ever replaced, never removed.
func (c *Cache) SetMetadata(ctx context.Context, bookID int64, mi *metadata.Metadata, opts SetMetadataOptions) error {
	ctx, release, err := c.writeAPI(ctx, "SetMetadata")
	if err != nil {
		return err
	}
	defer release()
	return c.setMetadata(ctx, bookID, mi, opts)
}

func (c *Cache) setMetadata(ctx context.Context, bookID int64, mi *metadata.Metadata, opts SetMetadataOptions) error {
	if !c.hasBook(bookID) {
		return errors.NotFoundf("book %d not found", bookID)
	}
	fieldOpts := SetFieldOptions{KeepCase: opts.KeepCase, SkipPathUpdate: true}
	set := func(name string, val any) error {
		_, err := c.setField(ctx, name, map[int64]any{bookID: val}, fieldOpts)
		return err
	}
	protected := func(name string, val any) error {
		err := set(name, val)
		if err != nil && opts.IgnoreErrors {
			c.logger.Warn("ignoring failed metadata field",
				"book_id", bookID,
				"field", name,
				"error", err,
			)
			return nil
		}
		return err
	}

	pathChanged := false
	if !opts.SkipTitle && mi.Title != "" {
		pathChanged = true
		if err := set("title", mi.Title); err != nil {
			return err
		}
	}
	if !opts.SkipAuthors {
		pathChanged = true
		authors := mi.Authors
		if len(authors) == 0 {
			authors = []string{metadata.Unknown}
		}
		if err := set("authors", authors); err != nil {
			return err
		}
	}
	if pathChanged {
		if err := c.updatePath(ctx, field.NewIDSet(bookID), false); err != nil {
			return err
		}
	}

	for _, name := range []string{"rating", "series_index", "timestamp"} {
		if val := mi.Get(name); opts.ForceChanges || val != nil {
			if err := protected(name, val); err != nil {
				return err
			}
		}
	}

	cover := mi.CoverData
	if cover == nil && mi.Cover != "" {
		if data, err := os.ReadFile(mi.Cover); err == nil {
			cover = data
		}
	}
	if len(cover) > 0 {
		if _, err := c.setCover(ctx, map[int64][]byte{bookID: cover}); err != nil {
			if !opts.IgnoreErrors {
				return err
			}
			c.logger.Warn("ignoring failed cover", "book_id", bookID, "error", err)
		}
	}

	for _, name := range []string{"author_sort", "publisher", "series", "tags", "comments", "languages", "pubdate"} {
		val := mi.Get(name)
		if (opts.ForceChanges && !mi.IsNone(name)) || !mi.IsNull(name) {
			if list, ok := val.([]string); ok && list == nil {
				val = []string{}
			}
			if err := protected(name, val); err != nil {
				return err
			}
		}
	}
	if (opts.ForceChanges && mi.TitleSort != "") || !mi.IsNull("title_sort") {
		if err := protected("sort", mi.TitleSort); err != nil {
			return err
		}
	}

	switch {
	case opts.ForceChanges:
		ids := mi.Identifiers
		if ids == nil {
			ids = map[string]string{}
		}
		if err := protected("identifiers", ids); err != nil {
			return err
		}
	case len(mi.Identifiers) > 0:
		merged := c.fields.Identifiers.Map(bookID)
		for k, v := range mi.Identifiers {
			if strings.TrimSpace(v) != "" {
				merged[c.coll.Lower(k)] = v
			}
		}
		if err := protected("identifiers", merged); err != nil {
			return err
		}
	}

	for key, uf := range mi.UserMetadata {
		meta, ok := c.reg.Field(key)
		if !ok || !meta.IsCustom || string(meta.Datatype) != uf.Datatype {
			continue
		}
		if meta.Datatype == fieldmeta.Text && uf.IsMultiple != (meta.IsMultiple != nil) {
			continue
		}
		if !meta.IsEditable {
			continue
		}
		if opts.ForceChanges || uf.Value != nil {
			if err := protected(key, uf.Value); err != nil {
				return err
			}
			if _, ok := c.reg.Field(key + "_index"); ok && (uf.Extra != nil || opts.ForceChanges) {
				var extra any
				if uf.Extra != nil {
					extra = *uf.Extra
				}
				if err := protected(key+"_index", extra); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Document is the text of a book offered to the full-text index.
type Document struct {
	BookID    int64
	Title     string
	Authors   []string
	Tags      []string
	Series    string
	Publisher string
	// Comments is HTML.
	Comments string
	// Files maps text-like formats to their absolute paths.
	Files map[string]string
}

// textFormats are the formats whose files are indexed as text.
//
//nolint:gochecknoglobals // Read-only set
var textFormats = []string{"TXT", "TEXT", "MD", "MARKDOWN", "HTML", "HTM", "XHTML"}

// FullTextDocument collects what the full-text index needs of a book. The
// files are read by the caller after the lock is released.
func (c *Cache) FullTextDocument(ctx context.Context, bookID int64) (*Document, error) {
	_, release := c.readAPI(ctx, "FullTextDocument")
	defer release()
	if !c.hasBook(bookID) {
		return nil, errors.NotFoundf("book %d not found", bookID)
	}
	fs := c.fields
	doc := &Document{
		BookID:  bookID,
		Authors: fs.Authors.Strings(bookID),
		Tags:    fs.Tags.Strings(bookID),
		Files:   make(map[string]string),
	}
	doc.Title, _ = fs.Title.ForBook(bookID, "").(string)
	doc.Series, _ = fs.Series.ForBook(bookID, "").(string)
	if f, ok := fs.Get("publisher"); ok {
		doc.Publisher, _ = f.ForBook(bookID, "").(string)
	}
	if f, ok := fs.Get("comments"); ok {
		doc.Comments, _ = f.ForBook(bookID, "").(string)
	}
	for _, fmtName := range textFormats {
		if p := c.formatAbsPath(bookID, fmtName); p != "" {
			doc.Files[fmtName] = p
		}
	}
	return doc, nil
}
