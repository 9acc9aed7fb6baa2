// Package safefile opens pattern and configuration files, refusing anything but regular files.
package safefile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotRegularFile is returned for symlinks, FIFOs, devices, sockets and directories.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrEmpty is returned by ReadLimited for zero-length files.
	ErrEmpty = errors.New("file is empty")

	// ErrTooLarge is returned by ReadLimited for files over the size limit.
	ErrTooLarge = errors.New("file too large")
)

// OpenRegular opens path and verifies, both before and after opening, that it
// is a regular file. The caller must close the returned file.
//
// A small window remains between Lstat and Open; the second check on the
// descriptor catches a file swapped for a special file in that window.
func OpenRegular(path string) (*os.File, os.FileInfo, error) {
	linkInfo, err := os.Lstat(path)
	if err != nil {
		return nil, nil, err
	}
	if !linkInfo.Mode().IsRegular() {
		return nil, nil, ErrNotRegularFile
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotRegularFile
	}

	return f, info, nil
}

// ReadLimited reads a whole regular file of at most max bytes.
// Errors never contain the path.
func ReadLimited(path string, max int64) ([]byte, error) {
	f, info, err := OpenRegular(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", StripPath(err))
	}
	defer f.Close()

	if info.Size() == 0 {
		return nil, ErrEmpty
	}
	if info.Size() > max {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), max)
	}

	// Read one extra byte to notice a file that grew after Stat.
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", StripPath(err))
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), max)
	}
	return data, nil
}

// StripPath removes the path from an *os.PathError so messages do not leak
// file system layout.
func StripPath(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%s: %w", pathErr.Op, pathErr.Err)
	}
	return err
}
