package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/listenupapp/folio/internal/errors"
)

const coverQuality = 90

// CoverAbsPath returns the cover file of a book directory, or "".
func (b *Backend) CoverAbsPath(path string) string {
	if path == "" {
		return ""
	}
	p := filepath.Join(b.Abs(path), CoverName)
	if !isFile(p) {
		return ""
	}
	return p
}

// CopyCoverTo streams the cover into w. It reports false when the book has
// no cover file.
func (b *Backend) CopyCoverTo(path string, w io.Writer) (bool, error) {
	p := b.CoverAbsPath(path)
	if p == "" {
		return false, nil
	}
	f, err := os.Open(p) //#nosec G304 -- path is inside the library
	if err != nil {
		return false, fmt.Errorf("open cover: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("copy cover: %w", err)
	}
	return true, nil
}

// CoverData returns the cover bytes, or nil when there is no cover.
func (b *Backend) CoverData(path string) ([]byte, error) {
	var buf bytes.Buffer
	ok, err := b.CopyCoverTo(path, &buf)
	if err != nil || !ok {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SetCover stores data as the book's cover.jpg, converting other image
// formats to JPEG. nil data removes the cover.
func (b *Backend) SetCover(ctx context.Context, c Conn, bookID int64, path string, data []byte) error {
	dir := b.Abs(path)
	if dir == "" {
		return errors.Internalf("book %d has no path", bookID)
	}
	dst := filepath.Join(dir, CoverName)

	if data == nil {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cover: %w", err)
		}
		return SetBookColumn(ctx, c, "has_cover", map[int64]any{bookID: false})
	}

	jpg, err := NormalizeCover(data)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dst, jpg); err != nil {
		return fmt.Errorf("write cover: %w", err)
	}
	return SetBookColumn(ctx, c, "has_cover", map[int64]any{bookID: true})
}

// NormalizeCover returns data as JPEG. JPEG input is returned unchanged.
func NormalizeCover(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Validation("cover image is empty")
	}
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return data, nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Validationf("unsupported cover image: %v", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: coverQuality}); err != nil {
		return nil, fmt.Errorf("encode %s cover as jpeg: %w", format, err)
	}
	return buf.Bytes(), nil
}
