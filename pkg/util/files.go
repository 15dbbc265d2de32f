package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tempMarker is embedded in the names of in-flight atomic writes.
const tempMarker = ".tmp-"

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsTempName reports whether name belongs to an unfinished WriteFileAtomic.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempMarker)
}

// WriteFileAtomic writes dir/name through a temp file in the same directory
// and renames it into place, so readers never observe a partial file. An
// existing file is replaced.
func WriteFileAtomic(dir, name string, write func(io.Writer) error) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+tempMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
