package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/listenupapp/folio/internal/id"
	"github.com/listenupapp/folio/internal/util"
)

const (
	// pathLimit bounds each generated directory and file name component.
	pathLimit = 100
	unknown   = "Unknown"
)

// ErrBookFiles is returned by RemoveBooks when the rows are gone but some
// book directories could not be removed.
var ErrBookFiles = errors.New("book files not removed")

//nolint:gochecknoglobals // Static lookup table
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// ConstructPathName returns the library relative directory of a book,
// "<author>/<title> (<id>)", with '/' separators.
func ConstructPathName(bookID int64, title, author string) string {
	suffix := fmt.Sprintf(" (%d)", bookID)
	limit := pathLimit - len(suffix)/2 - 2

	a := util.Truncate(util.SanitizeFilename(author, "_"), limit)
	if a == "" {
		a = unknown
	}
	if windowsReservedNames[strings.ToUpper(a)] {
		a += "w"
	}

	t := util.Truncate(util.SanitizeFilename(strings.TrimLeft(title, " \t"), "_"), limit)
	if t == "" {
		t = unknown
	}
	return a + "/" + t + suffix
}

// ConstructFileName returns the base name, without extension, of a book's
// format files: "<title> - <author>". extlen is the length of the longest
// extension including its dot.
func ConstructFileName(title, author string, extlen int) string {
	extlen = max(extlen, 14)
	limit := (pathLimit - extlen - 2) / 2

	a := util.Truncate(util.SanitizeFilename(author, "_"), limit)
	t := util.Truncate(util.SanitizeFilename(strings.TrimLeft(title, " \t"), "_"), limit)
	if t == "" {
		t = unknown
	}
	name := strings.TrimRight(t+" - "+a, ". -")
	if name == "" {
		name = unknown
	}
	return name
}

// Abs returns the absolute location of a library relative path.
func (b *Backend) Abs(rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Join(b.libraryPath, filepath.FromSlash(rel))
}

// PathUpdate is the result of UpdatePath.
type PathUpdate struct {
	Path string
	// Names maps each format to its file name without extension.
	Names   map[string]string
	Changed bool
}

// UpdatePath moves a book's directory and format files to match its title
// and first author. formats maps each format to its current file name.
// The database rows are updated in the same transaction; when moving files
// fails the transaction is rolled back and the error returned.
func (b *Backend) UpdatePath(ctx context.Context, bookID int64, title, author, current string, formats map[string]string) (PathUpdate, error) {
	newPath := ConstructPathName(bookID, title, author)
	extlen := 10
	if len(formats) > 0 {
		extlen = 0
		for f := range formats {
			extlen = max(extlen, len(f)+1)
		}
	}
	fname := ConstructFileName(title, author, extlen)

	names := make(map[string]string, len(formats))
	renamed := false
	for f, name := range formats {
		names[f] = fname
		if name != fname {
			renamed = true
		}
	}
	if newPath == current && !renamed {
		return PathUpdate{Path: current, Names: formats}, nil
	}

	spath, tpath := b.Abs(current), b.Abs(newPath)
	sourceOK := current != "" && isDir(spath)
	if sourceOK {
		if err := CheckFilesInUse(spath); err != nil {
			return PathUpdate{}, err
		}
	}

	err := b.WithTx(ctx, func(c Conn) error {
		if err := SetBookColumn(ctx, c, "path", map[int64]any{bookID: newPath}); err != nil {
			return err
		}
		rows := make([][]any, 0, len(names))
		for f, n := range names {
			rows = append(rows, []any{n, bookID, f})
		}
		if err := c.ExecMany(ctx, "UPDATE data SET name=? WHERE book=? AND format=?", rows); err != nil {
			return err
		}
		if !sourceOK {
			return os.MkdirAll(tpath, 0o755)
		}
		return b.moveBook(spath, tpath, current, newPath, formats, fname)
	})
	if err != nil {
		return PathUpdate{}, fmt.Errorf("update path of book %d: %w", bookID, err)
	}

	b.logger.Debug("book path updated",
		"book_id", bookID,
		"from", current,
		"to", newPath,
	)
	return PathUpdate{Path: newPath, Names: names, Changed: true}, nil
}

func (b *Backend) moveBook(spath, tpath, current, newPath string, formats map[string]string, fname string) error {
	if spath != tpath && !sameFile(spath, tpath) {
		if err := os.MkdirAll(filepath.Dir(tpath), 0o755); err != nil {
			return err
		}
		if isDir(tpath) {
			if err := moveContents(spath, tpath); err != nil {
				return err
			}
		} else if err := os.Rename(spath, tpath); err != nil {
			return err
		}
		b.removeIfEmpty(filepath.Dir(spath))
	}
	if !b.caseSensitive && spath != tpath {
		b.fixCaseSegments(current, newPath)
	}

	for f, old := range formats {
		if old == fname {
			continue
		}
		ext := "." + strings.ToLower(f)
		src, dst := filepath.Join(tpath, old+ext), filepath.Join(tpath, fname+ext)
		if !isFile(src) {
			b.logger.Warn("format file missing during path update", "path", src)
			continue
		}
		if err := renameMaybeCase(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// fixCaseSegments renames directory components that differ from their
// target only by case. On case-insensitive file systems the moves above
// leave such components untouched.
func (b *Backend) fixCaseSegments(current, newPath string) {
	c1, c2 := strings.Split(current, "/"), strings.Split(newPath, "/")
	if len(c1) != len(c2) {
		return
	}
	cur := b.libraryPath
	for i := range c1 {
		if c1[i] != c2[i] && strings.EqualFold(c1[i], c2[i]) {
			if err := twoStepRename(filepath.Join(cur, c1[i]), filepath.Join(cur, c2[i])); err != nil {
				b.logger.Warn("case-only rename failed", "path", filepath.Join(cur, c1[i]), "error", err)
				return
			}
		}
		cur = filepath.Join(cur, c2[i])
	}
}

func renameMaybeCase(src, dst string) error {
	if strings.EqualFold(src, dst) {
		return twoStepRename(src, dst)
	}
	return os.Rename(src, dst)
}

// twoStepRename renames through a temporary name so that a change of case
// is seen by case-insensitive file systems.
func twoStepRename(src, dst string) error {
	tmpName, err := id.TempName()
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(src), tmpName)
	if err := os.Rename(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Rename(tmp, src)
		return err
	}
	return nil
}

func moveContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(src)
}

// removeIfEmpty deletes dir when it is an empty directory inside the
// library.
func (b *Backend) removeIfEmpty(dir string) {
	if dir == b.libraryPath || !strings.HasPrefix(dir, b.libraryPath+string(filepath.Separator)) {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		b.logger.Debug("could not remove empty directory", "path", dir, "error", err)
	}
}

// RemoveBooks deletes book rows and their directories. paths maps each
// book to its library relative path. Without permanent the directories are
// moved into the library trash instead of deleted.
func (b *Backend) RemoveBooks(ctx context.Context, paths map[int64]string, permanent bool) error {
	ids := make([]int64, 0, len(paths))
	for bookID, p := range paths {
		ids = append(ids, bookID)
		if abs := b.Abs(p); abs != "" && isDir(abs) {
			if err := CheckFilesInUse(abs); err != nil {
				return err
			}
		}
	}
	slices.Sort(ids)

	if err := b.WithTx(ctx, func(c Conn) error {
		return DeleteBookRows(ctx, c, ids)
	}); err != nil {
		return fmt.Errorf("delete books: %w", err)
	}

	var errs []error
	for _, bookID := range ids {
		abs := b.Abs(paths[bookID])
		if abs == "" || !isDir(abs) {
			continue
		}
		if permanent {
			if err := os.RemoveAll(abs); err != nil {
				errs = append(errs, err)
			}
		} else if err := b.moveToTrash(bookID, abs); err != nil {
			errs = append(errs, err)
		}
		b.removeIfEmpty(filepath.Dir(abs))
	}
	if err := b.customData.DeleteBooks(ids); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBookFiles, errors.Join(errs...))
	}
	return nil
}

func (b *Backend) moveToTrash(bookID int64, abs string) error {
	trash := filepath.Join(b.libraryPath, TrashDir)
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return err
	}
	name, err := id.TrashName(bookID)
	if err != nil {
		return err
	}
	return os.Rename(abs, filepath.Join(trash, name))
}

// ReadBackup returns the OPF sidecar of a book directory.
func (b *Backend) ReadBackup(path string) ([]byte, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(filepath.Join(b.Abs(path), OPFName))
}

// WriteBackup replaces the OPF sidecar of a book directory atomically.
func (b *Backend) WriteBackup(path string, raw []byte) error {
	if path == "" {
		return fmt.Errorf("write backup: book has no path")
	}
	return writeFileAtomic(filepath.Join(b.Abs(path), OPFName), raw)
}

// writeFileAtomic writes to a temp file in the same directory and renames
// it over dst.
func writeFileAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}
