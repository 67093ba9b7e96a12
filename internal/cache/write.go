package cache

import (
	"context"
	"time"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/metadata"
	"github.com/listenupapp/folio/internal/search"
)

// SetFieldOptions tune SetField.
type SetFieldOptions struct {
	// KeepCase reuses an existing item as stored when a new value differs
	// from it only in case. By default the item is renamed.
	KeepCase bool
	// SkipPathUpdate leaves book directories alone after title or author
	// changes. The caller must call UpdatePath itself.
	SkipPathUpdate bool
}

// SetField sets a field for many books at once. Unknown book ids are
// ignored. It returns the books whose stored value changed, including
// books touched through side effects such as renamed items.
func (c *Cache) SetField(ctx context.Context, name string, vals map[int64]any, opts SetFieldOptions) (IDSet, error) {
	ctx, release, err := c.writeAPI(ctx, "SetField")
	if err != nil {
		return nil, err
	}
	defer release()
	return c.setField(ctx, name, vals, opts)
}

func (c *Cache) setField(ctx context.Context, name string, vals map[int64]any, opts SetFieldOptions) (IDSet, error) {
	meta, err := c.resolveKey(name)
	if err != nil {
		return nil, err
	}
	if !meta.IsEditable {
		return nil, errors.Schemaf("field %s cannot be set", meta.Key)
	}
	f, _ := c.fields.Get(meta.Key)
	w, ok := f.(field.Writer)
	if !ok {
		return nil, errors.Schemaf("field %s cannot be set", meta.Key)
	}

	books := make(map[int64]any, len(vals))
	for id, v := range vals {
		if c.hasBook(id) {
			books[id] = v
		}
	}
	if len(books) == 0 {
		return IDSet{}, nil
	}

	var indices map[int64]float64
	if meta.IsSeriesLike() {
		books, indices = splitSeriesValues(books)
	}
	txo := txOptions{keepCase: opts.KeepCase, noStamp: meta.Key == "last_modified"}
	dirtied, err := c.transact(ctx, txo, func(wc *field.WriteContext) (IDSet, error) {
		mo, isSeries := f.(*field.ManyOneField)
		if !isSeries || len(indices) == 0 {
			return w.Write(wc, books)
		}
		d, err := mo.WriteIndexed(wc, books, indices)
		if err != nil {
			return nil, err
		}
		idx, ok := c.fields.Get(seriesIndexKey(meta))
		if !ok {
			return d, nil
		}
		iw, ok := idx.(field.Writer)
		if !ok {
			return d, nil
		}
		ivals := make(map[int64]any, len(indices))
		for id, v := range indices {
			ivals[id] = v
		}
		d2, err := iw.Write(wc, ivals)
		if err != nil {
			return nil, err
		}
		return d.Union(d2), nil
	})
	if err != nil {
		return nil, err
	}

	if !opts.SkipPathUpdate && (meta.Key == "title" || meta.Key == "authors") && len(dirtied) > 0 {
		if err := c.updatePath(ctx, dirtied, false); err != nil {
			return dirtied, err
		}
	}
	return dirtied, nil
}

func seriesIndexKey(meta *fieldmeta.Field) string {
	if meta.Key == "series" {
		return "series_index"
	}
	return meta.Key + "_index"
}

// splitSeriesValues turns "Name [3]" strings into the name and a separate
// index.
func splitSeriesValues(vals map[int64]any) (map[int64]any, map[int64]float64) {
	out := make(map[int64]any, len(vals))
	indices := make(map[int64]float64)
	for id, v := range vals {
		s, ok := v.(string)
		if !ok {
			out[id] = v
			continue
		}
		name, idx := metadata.ParseSeriesValue(s)
		if name == "" {
			out[id] = nil
			continue
		}
		out[id] = name
		if idx != nil {
			indices[id] = *idx
		}
	}
	return out, indices
}

// UpdatePath moves the directories of books to match their title and
// first author.
func (c *Cache) UpdatePath(ctx context.Context, bookIDs []int64, markAsDirtied bool) error {
	ctx, release, err := c.writeAPI(ctx, "UpdatePath")
	if err != nil {
		return err
	}
	defer release()
	return c.updatePath(ctx, field.NewIDSet(bookIDs...), markAsDirtied)
}

func (c *Cache) updatePath(ctx context.Context, ids IDSet, markAsDirtied bool) error {
	moved := IDSet{}
	for _, id := range ids.Sorted() {
		if !c.hasBook(id) {
			continue
		}
		title, _ := c.fields.Title.ForBook(id, metadata.Unknown).(string)
		author := metadata.Unknown
		if authors := c.fields.Authors.Strings(id); len(authors) > 0 {
			author = authors[0]
		}
		upd, err := c.backend.UpdatePath(ctx, id, title, author, c.bookPath(id), c.fields.Formats.Names(id))
		if err != nil {
			return err
		}
		if !upd.Changed {
			continue
		}
		c.fields.Path.Set(id, upd.Path)
		c.fields.Formats.Rename(id, upd.Names)
		moved.Add(id)
	}
	if len(moved) == 0 {
		return nil
	}
	if markAsDirtied {
		_, err := c.transact(ctx, txOptions{}, func(*field.WriteContext) (IDSet, error) {
			return moved, nil
		})
		return err
	}
	c.afterWrite(moved, nil)
	return nil
}

// MarkAsDirty queues books for metadata backup, bumping the dirty
// sequence of books already queued, and stamps their last_modified.
func (c *Cache) MarkAsDirty(ctx context.Context, bookIDs []int64) error {
	ctx, release, err := c.writeAPI(ctx, "MarkAsDirty")
	if err != nil {
		return err
	}
	defer release()
	return c.markAsDirty(ctx, bookIDs)
}

func (c *Cache) markAsDirty(ctx context.Context, bookIDs []int64) error {
	ids := IDSet{}
	for _, id := range bookIDs {
		if c.hasBook(id) {
			ids.Add(id)
		}
	}
	_, err := c.transact(ctx, txOptions{}, func(*field.WriteContext) (IDSet, error) {
		return ids, nil
	})
	return err
}

// UpdateLastModified stamps books with t, or now when t is zero. The books
// are not queued for backup.
func (c *Cache) UpdateLastModified(ctx context.Context, bookIDs []int64, t time.Time) error {
	ctx, release, err := c.writeAPI(ctx, "UpdateLastModified")
	if err != nil {
		return err
	}
	defer release()
	if t.IsZero() {
		t = c.backend.Now()
	}
	t = t.UTC()
	ids := IDSet{}
	for _, id := range bookIDs {
		if c.hasBook(id) {
			ids.Add(id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := c.backend.WithTx(ctx, func(conn backend.Conn) error {
		return backend.UpdateLastModified(ctx, conn, ids.Sorted(), t)
	}); err != nil {
		return err
	}
	for id := range ids {
		c.fields.LastModified.Set(id, t)
	}
	c.afterWrite(ids, nil)
	return nil
}

// SetPref stores a library preference. Search and category preferences
// take effect immediately.
func (c *Cache) SetPref(ctx context.Context, key string, value any) error {
	ctx, release, err := c.writeAPI(ctx, "SetPref")
	if err != nil {
		return err
	}
	defer release()
	if err := c.backend.Prefs.Set(ctx, key, value); err != nil {
		return err
	}
	switch key {
	case backend.PrefUserCategories, backend.PrefGroupedSearchTerms, backend.PrefGroupedSearchMakeUserCategories:
		if err := c.reloadDynamicCategories(); err != nil {
			return errors.Validationf("preference %s: %v", key, err)
		}
	}
	for _, cf := range c.fields.Composites() {
		cf.ClearCache()
	}
	return nil
}

// AddCustomBookData stores arbitrary per-book values under name.
func (c *Cache) AddCustomBookData(ctx context.Context, name string, vals map[int64]any) error {
	_, release, err := c.writeAPI(ctx, "AddCustomBookData")
	if err != nil {
		return err
	}
	defer release()
	known := make(map[int64]any, len(vals))
	for id, v := range vals {
		if c.hasBook(id) {
			known[id] = v
		}
	}
	return c.backend.CustomData().Set(name, known)
}

// DeleteCustomBookData drops the values stored under name; nil bookIDs
// drops them for every book.
func (c *Cache) DeleteCustomBookData(ctx context.Context, name string, bookIDs []int64) error {
	_, release, err := c.writeAPI(ctx, "DeleteCustomBookData")
	if err != nil {
		return err
	}
	defer release()
	return c.backend.CustomData().Delete(name, bookIDs)
}

// RenameItems renames items of a many-valued field. A new name equal to
// another item ignoring case merges the two. It returns the affected books
// and the id each merged item was folded into.
func (c *Cache) RenameItems(ctx context.Context, name string, names map[int64]any) (IDSet, map[int64]int64, error) {
	ctx, release, err := c.writeAPI(ctx, "RenameItems")
	if err != nil {
		return nil, nil, err
	}
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, nil, err
	}
	var merged map[int64]int64
	affected, err := c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		var (
			d   IDSet
			err error
		)
		d, merged, err = itf.RenameItems(wc, names)
		return d, err
	})
	if err != nil {
		return nil, nil, err
	}
	if itf.Meta().Key == "authors" {
		if err := c.refreshAuthors(ctx, affected); err != nil {
			return affected, merged, err
		}
	}
	return affected, merged, nil
}

// RemoveItems deletes items of a many-valued field and unlinks them from
// every book. Books left without authors become by Unknown.
func (c *Cache) RemoveItems(ctx context.Context, name string, itemIDs []int64) (IDSet, error) {
	ctx, release, err := c.writeAPI(ctx, "RemoveItems")
	if err != nil {
		return nil, err
	}
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	affected, err := c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		return itf.RemoveItems(wc, itemIDs)
	})
	if err != nil {
		return nil, err
	}
	if itf.Meta().Key == "authors" {
		if err := c.refreshAuthors(ctx, affected); err != nil {
			return affected, err
		}
	}
	return affected, nil
}

// refreshAuthors repairs books after their author items changed: books
// with no author left get Unknown, author_sort is recomputed and the
// directories follow the new first author.
func (c *Cache) refreshAuthors(ctx context.Context, books IDSet) error {
	if len(books) == 0 {
		return nil
	}
	orphans := make(map[int64]any)
	for id := range books {
		if len(c.fields.Authors.Strings(id)) == 0 {
			orphans[id] = []string{metadata.Unknown}
		}
	}
	if len(orphans) > 0 {
		if _, err := c.setField(ctx, "authors", orphans, SetFieldOptions{SkipPathUpdate: true}); err != nil {
			return err
		}
	}
	if _, err := c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		sorts := make(map[int64]any, len(books))
		for id := range books {
			sorts[id] = c.fields.Authors.AuthorSortFor(id, wc.AuthorSortMethod)
		}
		return c.fields.AuthorSort.Write(wc, sorts)
	}); err != nil {
		return err
	}
	return c.updatePath(ctx, books, true)
}

// SetLinks sets the link of items, such as an author's web page. It
// returns the books of the changed items.
func (c *Cache) SetLinks(ctx context.Context, name string, links map[int64]string) (IDSet, error) {
	ctx, release, err := c.writeAPI(ctx, "SetLinks")
	if err != nil {
		return nil, err
	}
	defer release()
	itf, err := c.manyValuedField(name)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		return itf.SetLinks(wc, links)
	})
}

// SetAuthorSorts sets the sort string of authors. With updateBooks the
// author_sort of their books is recomputed.
func (c *Cache) SetAuthorSorts(ctx context.Context, sorts map[int64]string, updateBooks bool) (IDSet, error) {
	ctx, release, err := c.writeAPI(ctx, "SetAuthorSorts")
	if err != nil {
		return nil, err
	}
	defer release()
	itf, err := c.manyValuedField("authors")
	if err != nil {
		return nil, err
	}
	affected, err := c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		return itf.SetSorts(wc, sorts)
	})
	if err != nil || !updateBooks || len(affected) == 0 {
		return affected, err
	}
	_, err = c.transact(ctx, txOptions{}, func(wc *field.WriteContext) (IDSet, error) {
		vals := make(map[int64]any, len(affected))
		for id := range affected {
			vals[id] = c.fields.Authors.AuthorSortFor(id, wc.AuthorSortMethod)
		}
		return c.fields.AuthorSort.Write(wc, vals)
	})
	return affected, err
}

// CreateCustomColumn adds a user-defined column and makes it available at
// once. It returns the stored definition with its id.
func (c *Cache) CreateCustomColumn(ctx context.Context, col fieldmeta.CustomColumn) (fieldmeta.CustomColumn, error) {
	ctx, release, err := c.writeAPI(ctx, "CreateCustomColumn")
	if err != nil {
		return fieldmeta.CustomColumn{}, err
	}
	defer release()
	if err := c.validate.Validate(col); err != nil {
		return fieldmeta.CustomColumn{}, err
	}
	if _, ok := c.reg.Field(col.Key()); ok {
		return fieldmeta.CustomColumn{}, errors.Conflictf("custom column %s already exists", col.Label)
	}
	if col.Datatype == fieldmeta.Composite {
		tmpl, _ := col.Display["composite_template"].(string)
		if err := c.tmpl.Check(tmpl); err != nil {
			return fieldmeta.CustomColumn{}, errors.Validationf("custom column %s: %v", col.Label, err)
		}
	}
	stored, err := c.backend.CreateCustomColumn(ctx, col)
	if err != nil {
		return fieldmeta.CustomColumn{}, err
	}
	meta, err := c.reg.AddCustomField(stored)
	if err != nil {
		return fieldmeta.CustomColumn{}, err
	}
	if err := c.fields.AddCustom(c.reg, meta); err != nil {
		return fieldmeta.CustomColumn{}, err
	}
	c.installRenderers()
	c.logger.Info("custom column created",
		"label", stored.Label,
		"datatype", stored.Datatype,
		"id", stored.ID,
	)
	return stored, nil
}

// DeleteCustomColumn drops a user-defined column and all its values.
func (c *Cache) DeleteCustomColumn(ctx context.Context, label string) error {
	ctx, release, err := c.writeAPI(ctx, "DeleteCustomColumn")
	if err != nil {
		return err
	}
	defer release()
	key := "#" + label
	if m, ok := c.reg.Field(key); !ok || !m.IsCustom {
		return errors.NotFoundf("custom column %s not found", label)
	}
	if err := c.backend.DeleteCustomColumn(ctx, label); err != nil {
		return err
	}
	c.reg.RemoveCustomField(key)
	c.fields.RemoveCustom(key)
	for _, cf := range c.fields.Composites() {
		cf.ClearCache()
	}
	c.logger.Info("custom column deleted", "label", label)
	return nil
}

// SetMarkedIDs replaces the marked books. Each book maps to its mark text;
// an empty text is stored as "true".
func (c *Cache) SetMarkedIDs(ctx context.Context, marks map[int64]string) error {
	_, release, err := c.writeAPI(ctx, "SetMarkedIDs")
	if err != nil {
		return err
	}
	defer release()
	old := c.marked
	c.marked = make(map[int64]string, len(marks))
	for id, text := range marks {
		if text == "" {
			text = "true"
		}
		c.marked[id] = text
	}
	changed := IDSet{}
	for id := range old {
		changed.Add(id)
	}
	for id := range c.marked {
		changed.Add(id)
	}
	for _, cf := range c.fields.Composites() {
		cf.PopCache(changed)
	}
	return nil
}

// SetOnDeviceFunc installs the function answering the ondevice field.
func (c *Cache) SetOnDeviceFunc(ctx context.Context, fn func(bookID int64) string) error {
	_, release, err := c.writeAPI(ctx, "SetOnDeviceFunc")
	if err != nil {
		return err
	}
	defer release()
	c.onDevice = fn
	for _, cf := range c.fields.Composites() {
		cf.ClearCache()
	}
	return nil
}

// SetRestriction sets the query ANDed with every search. An invalid query
// is rejected and the old restriction kept.
func (c *Cache) SetRestriction(ctx context.Context, query string) error {
	_, release, err := c.writeAPI(ctx, "SetRestriction")
	if err != nil {
		return err
	}
	defer release()
	if err := search.Validate(source{c}, query); err != nil {
		return err
	}
	c.engine.SetRestriction(query)
	return nil
}

// SetBaseRestriction sets the virtual library query. A name from the
// virtual libraries preference is replaced by its query.
func (c *Cache) SetBaseRestriction(ctx context.Context, query string) error {
	_, release, err := c.writeAPI(ctx, "SetBaseRestriction")
	if err != nil {
		return err
	}
	defer release()
	var vls map[string]string
	if err := c.backend.Prefs.Unmarshal(backend.PrefVirtualLibraries, &vls); err == nil {
		if q, ok := vls[query]; ok {
			query = q
		}
	}
	if err := search.Validate(source{c}, query); err != nil {
		return err
	}
	c.engine.SetBaseRestriction(query)
	return nil
}
