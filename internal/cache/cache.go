// Package cache is the public face of a library: an in-memory copy of every
// field kept in step with the database, behind a single reader/writer lock.
//
// Every exported method is registered in apiMethods as a read or a write
// operation and takes the matching lock on entry. Code already inside a
// critical section calls the unexported raw variants instead.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/collate"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/lock"
	"github.com/listenupapp/folio/internal/logger"
	"github.com/listenupapp/folio/internal/search"
	"github.com/listenupapp/folio/internal/template"
	"github.com/listenupapp/folio/internal/validation"
)

// IDSet is a set of book ids.
type IDSet = field.IDSet

// Change describes the books touched by one write.
type Change struct {
	Dirtied IDSet
	Removed IDSet
}

// Options configures Open.
type Options struct {
	LibraryPath string
	Logger      *slog.Logger
	// Collator defaults to a locale collator for Locale.
	Collator collate.Collator
	Locale   string
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// InMemoryCustomData keeps custom book data out of the library folder.
	InMemoryCustomData bool
	// Funcs replaces the template functions available to composites.
	Funcs template.Funcs
}

// Cache is an open library.
type Cache struct {
	backend  *backend.Backend
	reg      *fieldmeta.Registry
	fields   *field.Fields
	lock     *lock.RWLock
	engine   *search.Engine
	tmpl     *template.Engine
	coll     collate.Collator
	logger   *slog.Logger
	validate *validation.Validator

	// dirtied maps each book awaiting backup to its dirty sequence.
	dirtied  map[int64]uint64
	dirtySeq uint64

	marked    map[int64]string
	onDevice  func(bookID int64) string
	userCats  map[string][]search.CategoryItem
	listener  func(Change)
	closed    bool
	closeOnce bool
}

// Open opens the library at opts.LibraryPath and loads it into memory.
func Open(ctx context.Context, opts Options) (*Cache, error) {
	log := logger.OrDiscard(opts.Logger)
	b, err := backend.Open(ctx, backend.Options{
		LibraryPath:        opts.LibraryPath,
		Logger:             log,
		Clock:              opts.Clock,
		InMemoryCustomData: opts.InMemoryCustomData,
	})
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, b, opts)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return c, nil
}

// New builds a cache over an open backend. The cache takes ownership of b.
func New(ctx context.Context, b *backend.Backend, opts Options) (*Cache, error) {
	coll := opts.Collator
	if coll == nil {
		coll = collate.New(opts.Locale)
	}
	c := &Cache{
		backend:  b,
		lock:     lock.New(),
		engine:   search.New(),
		coll:     coll,
		logger:   logger.OrDiscard(opts.Logger),
		validate: validation.New(),
		dirtied:  make(map[int64]uint64),
		marked:   make(map[int64]string),
	}
	c.tmpl = template.New(template.Options{Funcs: opts.Funcs, Now: b.Now})
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	if err := c.reloadDynamicCategories(); err != nil {
		c.logger.Warn("ignoring invalid search preferences", "error", err)
	}
	c.logger.Info("library opened",
		"path", b.LibraryPath(),
		"books", len(c.fields.BookIDs()),
		"dirtied", len(c.dirtied),
	)
	return c, nil
}

// load reads every table and builds the fields.
func (c *Cache) load(ctx context.Context) error {
	snap, err := c.backend.ReadTables(ctx)
	if err != nil {
		return fmt.Errorf("read tables: %w", err)
	}
	reg := fieldmeta.New()
	for _, col := range snap.CustomColumns {
		if _, err := reg.AddCustomField(col); err != nil {
			c.logger.Warn("skipping invalid custom column", "label", col.Label, "error", err)
		}
	}
	fs, err := field.Build(reg, snap, field.Sources{
		OnDevice: c.onDeviceValue,
		Marked:   c.markedValue,
	})
	if err != nil {
		return fmt.Errorf("build fields: %w", err)
	}
	c.reg, c.fields = reg, fs
	for _, id := range snap.Dirtied {
		c.dirtySeq++
		c.dirtied[id] = c.dirtySeq
	}
	c.installRenderers()
	return nil
}

func (c *Cache) onDeviceValue(bookID int64) any {
	if c.onDevice == nil {
		return nil
	}
	if s := c.onDevice(bookID); s != "" {
		return s
	}
	return nil
}

func (c *Cache) markedValue(bookID int64) any {
	if v, ok := c.marked[bookID]; ok {
		return v
	}
	return nil
}

// reloadDynamicCategories applies the grouped search term and user
// category preferences to the registry.
func (c *Cache) reloadDynamicCategories() error {
	c.reg.RemoveDynamicCategories()
	c.userCats = make(map[string][]search.CategoryItem)

	var raw map[string][][]any
	if err := c.backend.Prefs.Unmarshal(backend.PrefUserCategories, &raw); err != nil {
		return fmt.Errorf("user categories: %w", err)
	}
	for name, entries := range raw {
		items := make([]search.CategoryItem, 0, len(entries))
		for _, e := range entries {
			if len(e) < 2 {
				continue
			}
			n, _ := e[0].(string)
			key, _ := e[1].(string)
			if n == "" || key == "" {
				continue
			}
			items = append(items, search.CategoryItem{Name: n, Field: key})
		}
		c.userCats[name] = items
		c.reg.AddUserCategory(name, name)
	}

	var grouped map[string][]string
	if err := c.backend.Prefs.Unmarshal(backend.PrefGroupedSearchTerms, &grouped); err != nil {
		return fmt.Errorf("grouped search terms: %w", err)
	}
	if err := c.reg.AddGroupedSearchTerms(grouped); err != nil {
		return err
	}
	for _, term := range c.backend.Prefs.GetStrings(backend.PrefGroupedSearchMakeUserCategories) {
		locs, ok := grouped[term]
		if !ok {
			continue
		}
		var items []search.CategoryItem
		for _, loc := range locs {
			key, _ := c.reg.SearchTermToFieldKey(loc)
			itf, ok := c.itemField(key)
			if !ok {
				continue
			}
			for _, id := range itf.ItemIDs() {
				v, _ := itf.ItemValue(id)
				items = append(items, search.CategoryItem{Name: fmt.Sprint(v), Field: key})
			}
		}
		c.userCats[term] = items
		c.reg.AddUserCategory(term, term)
	}
	return nil
}

type apiKind int

const (
	readOp apiKind = iota + 1
	writeOp
)

func (k apiKind) String() string {
	if k == writeOp {
		return "write"
	}
	return "read"
}

// apiMethods is the lock discipline of every exported method.
//
//nolint:gochecknoglobals // Method table
var apiMethods = map[string]apiKind{
	// Reads.
	"FieldFor":                readOp,
	"CompositeFor":            readOp,
	"FieldIDsFor":             readOp,
	"BooksForField":           readOp,
	"AllBookIDs":              readOp,
	"AllFieldIDs":             readOp,
	"AllFieldNames":           readOp,
	"GetUsageCountByID":       readOp,
	"GetIDMap":                readOp,
	"GetItemID":               readOp,
	"GetItemIDs":              readOp,
	"AuthorData":              readOp,
	"FormatMetadata":          readOp,
	"Pref":                    readOp,
	"CopyFormatTo":            readOp,
	"OpenFormat":              readOp,
	"CopyCoverTo":             readOp,
	"CoverData":               readOp,
	"FormatAbsPath":           readOp,
	"HasFormat":               readOp,
	"Formats":                 readOp,
	"Multisort":               readOp,
	"Search":                  readOp,
	"SearchRestrictionCount":  readOp,
	"GetCategories":           readOp,
	"GetNextSeriesNumFor":     readOp,
	"AuthorSortFromAuthors":   readOp,
	"HasBook":                 readOp,
	"GetADirtiedBook":         readOp,
	"DirtiedBooks":            readOp,
	"GetMetadataForDump":      readOp,
	"DirtyQueueLength":        readOp,
	"DirtySequence":           readOp,
	"ReadBackup":              readOp,
	"GetCustomBookData":       readOp,
	"GetIDsForCustomBookData": readOp,
	"GetMetadata":             readOp,
	"GetProxyMetadata":        readOp,
	"MarkedIDs":               readOp,
	"FullTextDocument":        readOp,
	"FieldKeys":               readOp,
	"FieldMetadata":           readOp,
	"CustomColumns":           readOp,
	"SearchTerms":             readOp,
	"LibraryPath":             readOp,
	"LibraryID":               readOp,

	// Writes.
	"SetField":                writeOp,
	"SetMetadata":             writeOp,
	"SetCover":                writeOp,
	"AddFormat":               writeOp,
	"RemoveFormats":           writeOp,
	"AddBooks":                writeOp,
	"CreateBookEntry":         writeOp,
	"RemoveBooks":             writeOp,
	"UpdatePath":              writeOp,
	"MarkAsDirty":             writeOp,
	"ClearDirtied":            writeOp,
	"WriteBackup":             writeOp,
	"DumpMetadata":            writeOp,
	"UpdateLastModified":      writeOp,
	"SetPref":                 writeOp,
	"AddCustomBookData":       writeOp,
	"DeleteCustomBookData":    writeOp,
	"RenameItems":             writeOp,
	"RemoveItems":             writeOp,
	"SetLinks":                writeOp,
	"SetAuthorSorts":          writeOp,
	"CreateCustomColumn":      writeOp,
	"DeleteCustomColumn":      writeOp,
	"SetMarkedIDs":            writeOp,
	"SetOnDeviceFunc":         writeOp,
	"SetRestriction":          writeOp,
	"SetBaseRestriction":      writeOp,
	"SetChangeListener":       writeOp,
	"Optimize":                writeOp,
	"Close":                   writeOp,
}

func checkAPI(method string, want apiKind) {
	if got := apiMethods[method]; got != want {
		panic(fmt.Sprintf("cache: %s is not registered as a %s operation", method, want))
	}
}

// readAPI takes the read lock for method. Reads are free under a write.
func (c *Cache) readAPI(ctx context.Context, method string) (context.Context, func()) {
	checkAPI(method, readOp)
	return c.lock.Read(ctx)
}

// writeAPI takes the write lock for method. Asking for it while holding
// only the read lock fails with errors.ErrLockUpgrade.
func (c *Cache) writeAPI(ctx context.Context, method string) (context.Context, func(), error) {
	checkAPI(method, writeOp)
	ctx, release, err := c.lock.Write(ctx)
	if err != nil {
		return ctx, release, fmt.Errorf("%s: %w", method, err)
	}
	if c.closed {
		release()
		return ctx, func() {}, errors.Internalf("%s: library is closed", method)
	}
	return ctx, release, nil
}

// source is the view of the cache a query runs against. It must only be
// used under the lock.
type source struct{ c *Cache }

func (s source) AllBookIDs() IDSet                    { return s.c.fields.BookIDs() }
func (s source) Registry() *fieldmeta.Registry        { return s.c.reg }
func (s source) Field(key string) (field.Field, bool) { return s.c.fields.Get(key) }
func (s source) Collator() collate.Collator           { return s.c.coll }
func (s source) Now() time.Time                       { return s.c.backend.Now() }
func (s source) SearchOptions() search.Options        { return s.c.searchOptions() }

func (c *Cache) searchOptions() search.Options {
	p := c.backend.Prefs
	return search.Options{
		BoolsAreTristate:     p.GetBool(backend.PrefBoolsAreTristate),
		LimitSearchColumns:   p.GetBool(backend.PrefLimitSearchColumns),
		LimitSearchColumnsTo: p.GetStrings(backend.PrefLimitSearchColumnsTo),
		UsePrimaryFind:       p.GetBool(backend.PrefUsePrimaryFindInSearch),
		UserCategories:       c.userCats,
	}
}

// resolveKey maps a field key or search term to a field key.
func (c *Cache) resolveKey(name string) (*fieldmeta.Field, error) {
	if m, ok := c.reg.Field(name); ok {
		return m, nil
	}
	if key, _ := c.reg.SearchTermToFieldKey(name); key != "" {
		if m, ok := c.reg.Field(key); ok {
			return m, nil
		}
	}
	return nil, errors.Schemaf("no such field %q", name)
}

// itemsField is implemented by many-one and many-many fields.
type itemsField interface {
	field.Field
	ItemIDs() []int64
	ItemValue(itemID int64) (any, bool)
	ItemSort(itemID int64) string
	ItemLink(itemID int64) string
	UsageCount(itemID int64) int
	ItemID(value any, lower func(string) string) (int64, bool)
	RenameItems(wc *field.WriteContext, names map[int64]any) (IDSet, map[int64]int64, error)
	RemoveItems(wc *field.WriteContext, ids []int64) (IDSet, error)
	SetLinks(wc *field.WriteContext, links map[int64]string) (IDSet, error)
	SetSorts(wc *field.WriteContext, sorts map[int64]string) (IDSet, error)
	Spec() backend.LinkSpec
}

func (c *Cache) itemField(key string) (itemsField, bool) {
	f, ok := c.fields.Get(key)
	if !ok {
		return nil, false
	}
	itf, ok := f.(itemsField)
	return itf, ok
}

// manyValuedField returns the item field of name or a schema error.
func (c *Cache) manyValuedField(name string) (itemsField, error) {
	meta, err := c.resolveKey(name)
	if err != nil {
		return nil, err
	}
	itf, ok := c.itemField(meta.Key)
	if !ok {
		return nil, errors.Schemaf("field %s does not hold items", meta.Key)
	}
	return itf, nil
}

func (c *Cache) hasBook(bookID int64) bool {
	_, ok := c.fields.Title.ForBook(bookID, nil).(string)
	return ok
}

func (c *Cache) authorSortMethod() string {
	return c.backend.Prefs.GetString(backend.PrefAuthorSortCopyMethod)
}

func (c *Cache) newWriteContext(ctx context.Context, allowCaseChange bool) *field.WriteContext {
	return &field.WriteContext{
		Ctx:              ctx,
		AllowCaseChange:  allowCaseChange,
		Collator:         c.coll,
		AuthorSortMethod: c.authorSortMethod(),
		Now:              c.backend.Now(),
	}
}

// txOptions shape one transact call.
type txOptions struct {
	// keepCase reuses existing items as stored when only case differs.
	keepCase bool
	// noStamp leaves last_modified alone.
	noStamp bool
}

// transact runs fn in one database transaction, marks the books it
// reports as dirty, then applies the queued memory updates. On error
// nothing in memory changes.
func (c *Cache) transact(ctx context.Context, opts txOptions, fn func(wc *field.WriteContext) (IDSet, error)) (IDSet, error) {
	wc := c.newWriteContext(ctx, !opts.keepCase)
	var dirtied IDSet
	err := c.backend.WithTx(ctx, func(conn backend.Conn) error {
		wc.Conn = conn
		var err error
		if dirtied, err = fn(wc); err != nil {
			return err
		}
		return c.markDirtyTx(wc, dirtied, !opts.noStamp)
	})
	if err != nil {
		return nil, err
	}
	wc.Commit()
	c.afterWrite(dirtied, nil)
	return dirtied, nil
}

// markDirtyTx queues ids for backup inside the transaction of wc and, with
// stamp, sets their last_modified to the write time. Each book gets a new
// dirty sequence on commit.
func (c *Cache) markDirtyTx(wc *field.WriteContext, ids IDSet, stamp bool) error {
	if len(ids) == 0 {
		return nil
	}
	sorted := ids.Sorted()
	if err := backend.MarkDirtied(wc.Ctx, wc.Conn, sorted); err != nil {
		return fmt.Errorf("mark dirtied: %w", err)
	}
	if stamp {
		if err := backend.UpdateLastModified(wc.Ctx, wc.Conn, sorted, wc.Now); err != nil {
			return fmt.Errorf("update last modified: %w", err)
		}
	}
	wc.OnCommit(func() {
		for _, id := range sorted {
			c.dirtySeq++
			c.dirtied[id] = c.dirtySeq
			if stamp {
				c.fields.LastModified.Set(id, wc.Now)
			}
		}
	})
	return nil
}

// afterWrite drops stale composite renderings and tells the listener.
func (c *Cache) afterWrite(dirtied, removed IDSet) {
	if len(dirtied) == 0 && len(removed) == 0 {
		return
	}
	all := dirtied.Union(removed)
	for _, cf := range c.fields.Composites() {
		cf.PopCache(all)
	}
	if c.listener != nil {
		c.listener(Change{Dirtied: dirtied.Clone(), Removed: removed.Clone()})
	}
}

// installRenderers points every composite at the template engine.
func (c *Cache) installRenderers() {
	for _, cf := range c.fields.Composites() {
		key := cf.Meta().Key
		cf.SetRenderer(func(bookID int64, tmpl string) string {
			return c.tmpl.Render(tmpl, &bookValues{c: c, bookID: bookID, stack: []string{key}})
		})
	}
}

// LibraryPath returns the root folder of the library.
func (c *Cache) LibraryPath(ctx context.Context) string {
	_, release := c.readAPI(ctx, "LibraryPath")
	defer release()
	return c.backend.LibraryPath()
}

// LibraryID returns the uuid identifying the library.
func (c *Cache) LibraryID(ctx context.Context) string {
	_, release := c.readAPI(ctx, "LibraryID")
	defer release()
	return c.backend.Prefs.GetString(backend.PrefLibraryID)
}

// FieldKeys lists every field key.
func (c *Cache) FieldKeys(ctx context.Context) []string {
	_, release := c.readAPI(ctx, "FieldKeys")
	defer release()
	return c.reg.Keys()
}

// FieldMetadata returns a copy of the schema entry of a field.
func (c *Cache) FieldMetadata(ctx context.Context, name string) (*fieldmeta.Field, error) {
	_, release := c.readAPI(ctx, "FieldMetadata")
	defer release()
	m, err := c.resolveKey(name)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// CustomColumns returns the definitions of the custom columns.
func (c *Cache) CustomColumns(ctx context.Context) ([]fieldmeta.CustomColumn, error) {
	ctx, release := c.readAPI(ctx, "CustomColumns")
	defer release()
	return c.backend.CustomColumns(ctx)
}

// SearchTerms lists every usable search location.
func (c *Cache) SearchTerms(ctx context.Context) []string {
	_, release := c.readAPI(ctx, "SearchTerms")
	defer release()
	return c.reg.GetSearchTerms()
}

// SetChangeListener installs fn to be told about every write. fn runs
// with the write lock held: it must not block or call back into the cache.
func (c *Cache) SetChangeListener(ctx context.Context, fn func(Change)) error {
	_, release, err := c.writeAPI(ctx, "SetChangeListener")
	if err != nil {
		return err
	}
	defer release()
	c.listener = fn
	return nil
}

// Optimize compacts the database.
func (c *Cache) Optimize(ctx context.Context) error {
	ctx, release, err := c.writeAPI(ctx, "Optimize")
	if err != nil {
		return err
	}
	defer release()
	return c.backend.Optimize(ctx)
}

// Close releases the library. Later writes fail; it is safe to call twice.
func (c *Cache) Close(ctx context.Context) error {
	checkAPI("Close", writeOp)
	_, release, err := c.lock.Write(ctx)
	if err != nil {
		return err
	}
	defer release()
	if c.closeOnce {
		return nil
	}
	c.closed, c.closeOnce = true, true
	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("close library: %w", err)
	}
	c.logger.Info("library closed", "path", c.backend.LibraryPath())
	return nil
}
