package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/errors"
)

// FormatInfo describes a format file on disk.
type FormatInfo struct {
	Path  string
	Size  int64
	MTime time.Time
}

// FormatAbsPath locates the file of a format. When the expected name is
// missing, any file in the book directory with the format's extension is
// used. Returns "" when there is none.
func (b *Backend) FormatAbsPath(path, format, name string) string {
	dir := b.Abs(path)
	if dir == "" {
		return ""
	}
	ext := "." + strings.ToLower(format)
	if p := filepath.Join(dir, name+ext); isFile(p) {
		return p
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// HasFormat reports whether the format file exists.
func (b *Backend) HasFormat(path, format, name string) bool {
	return b.FormatAbsPath(path, format, name) != ""
}

// FormatMetadata stats a format file.
func (b *Backend) FormatMetadata(path, format, name string) (FormatInfo, error) {
	p := b.FormatAbsPath(path, format, name)
	if p == "" {
		return FormatInfo{}, errors.NoSuchFormatf("format %s not found in %s", format, path)
	}
	fi, err := os.Stat(p)
	if err != nil {
		return FormatInfo{}, errors.NoSuchFormatf("format %s not found in %s", format, path).WithCause(err)
	}
	return FormatInfo{Path: p, Size: fi.Size(), MTime: fi.ModTime().UTC()}, nil
}

// OpenFormat opens a format file for reading. The caller closes it.
func (b *Backend) OpenFormat(path, format, name string) (io.ReadCloser, error) {
	p := b.FormatAbsPath(path, format, name)
	if p == "" {
		return nil, errors.NoSuchFormatf("format %s not found in %s", format, path)
	}
	f, err := os.Open(p) //#nosec G304 -- path is inside the library
	if err != nil {
		return nil, errors.NoSuchFormatf("format %s not readable in %s", format, path).WithCause(err)
	}
	return f, nil
}

// CopyFormatTo streams a format file into w.
func (b *Backend) CopyFormatTo(path, format, name string, w io.Writer) error {
	f, err := b.OpenFormat(path, format, name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy format %s: %w", format, err)
	}
	return nil
}

// AddFormat writes a format file into the book directory and records it.
// An existing file of the same format is replaced.
func (b *Backend) AddFormat(ctx context.Context, c Conn, bookID int64, format string, r io.Reader, path, name string) (int64, error) {
	format = strings.ToUpper(format)
	dir := b.Abs(path)
	if dir == "" {
		return 0, errors.Internalf("book %d has no path", bookID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create book directory: %w", err)
	}
	dst := filepath.Join(dir, name+"."+strings.ToLower(format))

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write format %s: %w", format, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("store format %s: %w", format, err)
	}

	if _, err := c.Exec(ctx, `
		INSERT INTO data(book, format, uncompressed_size, name) VALUES(?, ?, ?, ?)
		ON CONFLICT(book, format) DO UPDATE SET uncompressed_size=excluded.uncompressed_size, name=excluded.name`,
		bookID, format, size, name); err != nil {
		return 0, err
	}
	return size, nil
}

// RemoveFormat deletes a format file and its record. A missing file is
// not an error.
func (b *Backend) RemoveFormat(ctx context.Context, c Conn, bookID int64, format, path, name string) error {
	if _, err := c.Exec(ctx, "DELETE FROM data WHERE book=? AND format=?", bookID, strings.ToUpper(format)); err != nil {
		return err
	}
	if p := b.FormatAbsPath(path, format, name); p != "" {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove format file: %w", err)
		}
	}
	return nil
}
