// Package fsutil provides the atomic file primitives the rest of the
// bridge daemon builds on: write-then-rename with owner-only permissions,
// append-with-mode for logs, and directory creation. Every write the
// daemon performs against the shared team directory goes through one of
// these functions so that a concurrent reader never observes a partial
// file.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DirPerm is the permission mode for directories the daemon creates.
const DirPerm = 0o700

// FilePerm is the permission mode for single-document files the daemon
// creates.
const FilePerm = 0o600

// EnsureDir creates path and all missing parents with owner-only
// permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, DirPerm); err != nil {
		return fmt.Errorf("fsutil: creating directory %q: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the same directory as
// path and renames it into place, so readers never observe a partial
// write. The temp name is qualified by pid, a millisecond timestamp, and a
// uuid fragment to prevent collisions between concurrent writers racing
// on the same destination (see the task store's claim protocol).
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmpName := fmt.Sprintf(".%s.%d.%d.%s.tmp",
		filepath.Base(path), os.Getpid(), time.Now().UnixMilli(), uuid.NewString()[:8])
	tmpPath := filepath.Join(dir, tmpName)

	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("fsutil: writing temp file %q: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsutil: chmod temp file %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsutil: renaming %q to %q: %w", tmpPath, path, err)
	}
	return nil
}

// AppendLine appends line plus a trailing newline to path, creating the
// file and its parent directory if needed, with the given permission
// mode.
func AppendLine(path string, line []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("fsutil: opening %q for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("fsutil: appending to %q: %w", path, err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("fsutil: appending newline to %q: %w", path, err)
	}
	return nil
}
