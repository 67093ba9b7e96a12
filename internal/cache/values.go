package cache

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
	"github.com/listenupapp/folio/internal/template"
)

const defaultDateFormat = "dd MMM yyyy"

// displayValue renders a stored value the way templates and listings show
// it.
func displayValue(meta *fieldmeta.Field, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		sep := ", "
		if meta.IsMultiple != nil {
			sep = meta.IsMultiple.ListToUI
		}
		return strings.Join(x, sep)
	case time.Time:
		if x.IsZero() || !x.After(field.UndefinedDate) {
			return ""
		}
		format := meta.DisplayString("date_format")
		if format == "" {
			format = defaultDateFormat
		}
		return template.FormatDate(x, format)
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case int64:
		if meta.Datatype == fieldmeta.Rating {
			return template.FormatRaw(float64(x) / 2)
		}
	case float64:
		if meta.Key == "series_index" || meta.Kind == fieldmeta.SeriesIndexKind {
			return metadata.FormatSeriesIndex(x)
		}
	}
	return template.FormatRaw(v)
}

// bookValues exposes the stored fields of one book to a template. stack
// holds the composites being rendered, to stop self references.
type bookValues struct {
	c      *Cache
	bookID int64
	stack  []string
}

func (v *bookValues) lookup(key string) (*fieldmeta.Field, bool) {
	meta, err := v.c.resolveKey(key)
	if err != nil {
		return nil, false
	}
	return meta, true
}

// Field implements template.Values.
func (v *bookValues) Field(key string) (string, bool) {
	meta, ok := v.lookup(key)
	if !ok {
		return "", false
	}
	if meta.Kind == fieldmeta.CompositeKind {
		return v.composite(meta), true
	}
	raw, _ := v.RawField(meta.Key)
	return displayValue(meta, raw), true
}

// RawField implements template.Values.
func (v *bookValues) RawField(key string) (any, bool) {
	meta, ok := v.lookup(key)
	if !ok {
		return nil, false
	}
	if meta.Kind == fieldmeta.CompositeKind {
		return v.composite(meta), true
	}
	f, ok := v.c.fields.Get(meta.Key)
	if !ok {
		return nil, false
	}
	return f.ForBook(v.bookID, nil), true
}

// composite renders a nested composite without going through its cache,
// which would lose the recursion stack.
func (v *bookValues) composite(meta *fieldmeta.Field) string {
	if slices.Contains(v.stack, meta.Key) {
		return template.ErrorPrefix + "recursive reference to " + meta.Key
	}
	f, _ := v.c.fields.Get(meta.Key)
	cf, ok := f.(*field.CompositeField)
	if !ok {
		return ""
	}
	nested := &bookValues{c: v.c, bookID: v.bookID, stack: append(slices.Clone(v.stack), meta.Key)}
	return v.c.tmpl.Render(cf.Template(), nested)
}

// metadataValues exposes a detached metadata object to a template.
type metadataValues struct {
	c     *Cache
	mi    *metadata.Metadata
	stack []string
}

// Field implements template.Values.
func (v *metadataValues) Field(key string) (string, bool) {
	meta, err := v.c.resolveKey(key)
	if err != nil {
		return "", false
	}
	if meta.Kind == fieldmeta.CompositeKind {
		return v.composite(meta), true
	}
	raw, _ := v.RawField(meta.Key)
	return displayValue(meta, raw), true
}

// RawField implements template.Values.
func (v *metadataValues) RawField(key string) (any, bool) {
	meta, err := v.c.resolveKey(key)
	if err != nil {
		return nil, false
	}
	switch meta.Key {
	case "sort":
		return nilIfEmpty(v.mi.TitleSort), true
	case "cover":
		return !v.mi.IsNull("cover"), true
	}
	val := v.mi.Get(meta.Key)
	if s, ok := val.([]string); ok && len(s) == 0 {
		return nil, true
	}
	return val, true
}

func (v *metadataValues) composite(meta *fieldmeta.Field) string {
	if slices.Contains(v.stack, meta.Key) {
		return template.ErrorPrefix + "recursive reference to " + meta.Key
	}
	f, _ := v.c.fields.Get(meta.Key)
	cf, ok := f.(*field.CompositeField)
	if !ok {
		return ""
	}
	nested := &metadataValues{c: v.c, mi: v.mi, stack: append(slices.Clone(v.stack), meta.Key)}
	return v.c.tmpl.Render(cf.Template(), nested)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ProxyMetadata reads the fields of one book lazily, taking the read lock
// on every access. It satisfies template.Values.
type ProxyMetadata struct {
	c      *Cache
	ctx    context.Context
	bookID int64
}

// GetProxyMetadata returns a lazy view of a book.
func (c *Cache) GetProxyMetadata(ctx context.Context, bookID int64) *ProxyMetadata {
	_, release := c.readAPI(ctx, "GetProxyMetadata")
	defer release()
	return &ProxyMetadata{c: c, ctx: ctx, bookID: bookID}
}

// BookID returns the id of the book.
func (p *ProxyMetadata) BookID() int64 { return p.bookID }

// Get returns the stored value of a field, or nil.
func (p *ProxyMetadata) Get(key string) any {
	v, _ := p.RawField(key)
	return v
}

// Field implements template.Values.
func (p *ProxyMetadata) Field(key string) (string, bool) {
	_, release := p.c.lock.Read(p.ctx)
	defer release()
	return (&bookValues{c: p.c, bookID: p.bookID}).Field(key)
}

// RawField implements template.Values.
func (p *ProxyMetadata) RawField(key string) (any, bool) {
	_, release := p.c.lock.Read(p.ctx)
	defer release()
	return (&bookValues{c: p.c, bookID: p.bookID}).RawField(key)
}
