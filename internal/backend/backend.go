// Package backend is the durable side of a library: the SQLite metadata
// database, the per-book directory tree, OPF sidecars, preferences and the
// per-book custom data store.
//
// The backend does no locking of its own. Callers serialise writes through
// the cache's write lock.
package backend

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/logger"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const (
	// DBName is the metadata database file in the library root.
	DBName = "metadata.db"
	// StateDir holds derived state that is not part of the library proper.
	StateDir = ".folio"
	// TrashDir receives book directories removed without permanent=true.
	TrashDir = ".trash"
	// OPFName is the metadata sidecar in each book directory.
	OPFName = "metadata.opf"
	// CoverName is the cover file in each book directory.
	CoverName = "cover.jpg"
)

// Options configures Open.
type Options struct {
	LibraryPath string
	Logger      *slog.Logger
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// InMemoryCustomData keeps custom book data out of the library folder.
	InMemoryCustomData bool
}

// Backend owns the database handle and the library folder.
type Backend struct {
	db            *sql.DB
	libraryPath   string
	logger        *slog.Logger
	clock         func() time.Time
	caseSensitive bool

	Prefs      *Prefs
	customData *CustomDataStore
}

// Open opens the library at opts.LibraryPath, creating the database when it
// does not exist yet.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.LibraryPath == "" {
		return nil, errors.New("library path is required")
	}
	root, err := filepath.Abs(opts.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("resolve library path: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, StateDir), 0o755); err != nil {
		return nil, fmt.Errorf("create library: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(filepath.Join(root, DBName)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Writes are serialised by the cache write lock; readers share the pool.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	b := &Backend{
		db:          db,
		libraryPath: root,
		logger:      logger.OrDiscard(opts.Logger),
		clock:       opts.Clock,
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	b.caseSensitive = detectCaseSensitive(filepath.Join(root, StateDir))

	if b.Prefs, err = loadPrefs(ctx, b.Conn()); err != nil {
		db.Close()
		return nil, err
	}

	cdPath := filepath.Join(root, StateDir, "custom_data")
	if opts.InMemoryCustomData {
		cdPath = ""
	}
	if b.customData, err = openCustomData(cdPath); err != nil {
		db.Close()
		return nil, err
	}

	b.logger.Debug("library opened",
		"path", root,
		"case_sensitive", b.caseSensitive,
	)
	return b, nil
}

// Close releases the database and the custom data store.
func (b *Backend) Close() error {
	var errs []error
	if b.customData != nil {
		errs = append(errs, b.customData.Close())
	}
	errs = append(errs, b.db.Close())
	return errors.Join(errs...)
}

// LibraryPath returns the absolute library root.
func (b *Backend) LibraryPath() string { return b.libraryPath }

// Now returns the backend clock's current time in UTC.
func (b *Backend) Now() time.Time { return b.clock().UTC() }

// IsCaseSensitive reports whether the library's file system distinguishes
// names by case.
func (b *Backend) IsCaseSensitive() bool { return b.caseSensitive }

// Conn returns the connection used outside transactions.
func (b *Backend) Conn() Conn { return Conn{q: b.db} }

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (b *Backend) WithTx(ctx context.Context, fn func(Conn) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(Conn{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Optimize lets SQLite refresh its planner statistics and reclaims free
// pages.
func (b *Backend) Optimize(ctx context.Context) error {
	for _, stmt := range []string{"PRAGMA optimize", "VACUUM"} {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(stmt), err)
		}
	}
	return nil
}

// pragmas are applied to every pooled connection through the DSN, so
// foreign keys (and with them the link table cascades) are always on.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

func dsn(path string) string {
	var sb strings.Builder
	sb.WriteString("file:")
	sb.WriteString(filepath.ToSlash(path))
	for i, p := range pragmas {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString("_pragma=")
		sb.WriteString(p)
	}
	return sb.String()
}

func detectCaseSensitive(dir string) bool {
	probe := filepath.Join(dir, "case_probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return true
	}
	defer os.Remove(probe)
	_, err := os.Stat(filepath.Join(dir, "CASE_PROBE"))
	return err != nil
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored time. Unparseable values read as null.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	return parseTime(s.String)
}
