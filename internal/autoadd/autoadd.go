// Package autoadd imports ebook files dropped into a folder.
//
// A file named "Title - Author One & Author Two.epub" becomes a book with
// that title and those authors. Imported files are deleted from the
// folder; duplicates are left where they are unless duplicates are
// allowed.
package autoadd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/logger"
	"github.com/listenupapp/folio/internal/metadata"
	"github.com/listenupapp/folio/internal/watcher"
)

// DefaultExtensions are the formats picked up when Options.Extensions is
// empty.
//
//nolint:gochecknoglobals // Read-only list
var DefaultExtensions = []string{
	"epub", "pdf", "mobi", "azw3", "azw", "fb2", "cbz", "cbr",
	"txt", "md", "html", "htm", "rtf", "docx", "odt", "djvu",
}

// Library is the part of the cache the adder writes to.
type Library interface {
	AddBooks(ctx context.Context, entries []cache.BookEntry, opts cache.AddOptions) ([]int64, []int, error)
}

// Options configures an Adder.
type Options struct {
	Dir             string
	AllowDuplicates bool
	SettleDelay     time.Duration
	Extensions      []string
	// ApplyDefaults adds the new-book tags preference to imported books.
	ApplyDefaults bool
	Logger        *slog.Logger
}

// Adder watches a folder and adds the books that appear in it.
type Adder struct {
	lib    Library
	opts   Options
	logger *slog.Logger
	w      *watcher.Watcher

	mu     sync.Mutex // one import at a time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an adder for opts.Dir, creating the folder when missing.
func New(lib Library, opts Options) (*Adder, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("auto-add folder is required")
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create auto-add folder: %w", err)
	}
	log := logger.OrDiscard(opts.Logger)
	w, err := watcher.New(log, watcher.Options{
		SettleDelay: opts.SettleDelay,
		Extensions:  opts.Extensions,
	})
	if err != nil {
		return nil, err
	}
	return &Adder{lib: lib, opts: opts, logger: log, w: w}, nil
}

// Start watches the folder in the background. Files already in it are
// imported too.
func (a *Adder) Start(ctx context.Context) error {
	if err := a.w.Watch(a.opts.Dir); err != nil {
		return err
	}
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.w.Start(ctx); err != nil {
			a.logger.Error("auto-add watcher failed", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()

	entries, err := os.ReadDir(a.opts.Dir)
	if err != nil {
		return fmt.Errorf("list auto-add folder: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			a.w.Settle(filepath.Join(a.opts.Dir, e.Name()))
		}
	}
	a.logger.Info("auto-add started", "path", a.opts.Dir)
	return nil
}

func (a *Adder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.w.Events():
			if !ok {
				return
			}
			if ev.Type != watcher.EventReady {
				continue
			}
			if _, err := a.AddFile(ctx, ev.Path); err != nil {
				a.logger.Warn("auto-add failed", "path", ev.Path, "error", err)
			}
		case err, ok := <-a.w.Errors():
			if !ok {
				return
			}
			a.logger.Warn("auto-add watcher error", "error", err)
		}
	}
}

// Stop ends watching.
func (a *Adder) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	err := a.w.Stop()
	a.wg.Wait()
	return err
}

// AddFile imports one file. It returns the new book id, or 0 when the
// file was skipped as a duplicate.
func (a *Adder) AddFile(ctx context.Context, path string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	title, authors := ParseFileName(filepath.Base(path))
	format := strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))
	mi := metadata.New(title, authors...)

	ids, dups, err := a.lib.AddBooks(ctx, []cache.BookEntry{{
		Metadata: mi,
		Formats:  map[string]string{format: path},
	}}, cache.AddOptions{
		AddDuplicates: a.opts.AllowDuplicates,
		CreateOptions: cache.CreateOptions{ApplyDefaults: a.opts.ApplyDefaults},
	})
	if err != nil {
		return 0, err
	}
	if len(dups) > 0 {
		a.logger.Info("auto-add skipped duplicate", "path", path, "title", title)
		return 0, nil
	}
	if err := os.Remove(path); err != nil {
		a.logger.Warn("could not remove imported file", "path", path, "error", err)
	}
	a.logger.Info("auto-added book", "book_id", ids[0], "title", title, "format", format)
	return ids[0], nil
}

// ParseFileName reads title and authors from a file name of the form
// "Title - Author.ext". Without a separator the whole name is the title.
func ParseFileName(name string) (string, []string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Join(strings.Fields(strings.ReplaceAll(base, "_", " ")), " ")
	i := strings.LastIndex(base, " - ")
	if i < 0 {
		return base, nil
	}
	title := strings.TrimSpace(base[:i])
	authors := metadata.StringToAuthors(base[i+3:])
	if title == "" {
		return base, nil
	}
	return title, authors
}
