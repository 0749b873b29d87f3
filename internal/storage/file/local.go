package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInvalidName is returned for file names that would escape the storage root.
var ErrInvalidName = errors.New("invalid file name")

// Local stores uploaded originals in a directory on the local filesystem.
type Local struct {
	dir string
}

// NewLocal creates the storage root if needed and returns a Local storage.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}

	return &Local{dir: dir}, nil
}

// Dir returns the storage root.
func (l *Local) Dir() string {
	return l.dir
}

// Save writes src to Dir/filename and fsyncs it before returning, so the file is
// durable by the time a job referencing it exists. Existing files are never overwritten.
func (l *Local) Save(filename string, src io.Reader) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("save %q: %w", filename, ErrInvalidName)
	}

	dst := filepath.Join(l.dir, filename)

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to sync file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	return dst, nil
}

// Remove deletes Dir/name, where name may include a subdirectory such as
// "thumbnails/x_thumb.png". A missing file is not an error.
func (l *Local) Remove(name string) error {
	if !filepath.IsLocal(name) {
		return fmt.Errorf("remove %q: %w", name, ErrInvalidName)
	}

	err := os.Remove(filepath.Join(l.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	return nil
}
