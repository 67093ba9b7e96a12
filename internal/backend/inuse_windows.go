//go:build windows

package backend

import (
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/windows"

	"github.com/listenupapp/folio/internal/errors"
)

// CheckFilesInUse fails with a conflict error naming the first file under
// root that another process holds open. Windows refuses to rename a
// directory containing such a file, so path updates check first instead
// of failing halfway through a move.
func CheckFilesInUse(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		name, err := windows.UTF16PtrFromString(path)
		if err != nil {
			return err
		}
		h, err := windows.CreateFile(name,
			windows.GENERIC_READ|windows.GENERIC_WRITE,
			0, // no sharing: fails if anyone else has the file open
			nil,
			windows.OPEN_EXISTING,
			windows.FILE_ATTRIBUTE_NORMAL,
			0)
		if err != nil {
			if err == windows.ERROR_SHARING_VIOLATION {
				return errors.Conflictf("file is open in another program: %s", path).
					WithDetails(map[string]string{"path": path})
			}
			return nil
		}
		return windows.CloseHandle(h)
	})
}
