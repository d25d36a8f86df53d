package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Disk implements SampleStore on the local filesystem. Keys resolve to files
// directly under the configured root directory.
type Disk struct {
	root string
}

var _ SampleStore = (*Disk)(nil)

// NewDisk creates a Disk store rooted at dir. The directory is created
// (with parents) if it does not already exist.
func NewDisk(dir string) (*Disk, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Disk{root: abs}, nil
}

// resolve turns a sample key into an absolute path, rejecting keys that
// would escape the root.
func (d *Disk) resolve(userID, format string) (string, error) {
	key := SampleKey(userID, format)
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("store: invalid sample key %q", key)
	}
	return filepath.Join(d.root, key), nil
}

// Put writes the sample, truncating any previous one. Concurrent writers for
// the same user are not locked against each other.
func (d *Disk) Put(_ context.Context, userID, format string, r io.Reader) error {
	full, err := d.resolve(userID, format)
	if err != nil {
		return err
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", SampleKey(userID, format), err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("store: write %s: %w", SampleKey(userID, format), err)
	}
	return f.Close()
}

// Get opens the sample for reading. A missing sample wraps fs.ErrNotExist.
func (d *Disk) Get(_ context.Context, userID, format string) (io.ReadCloser, error) {
	full, err := d.resolve(userID, format)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", SampleKey(userID, format), err)
	}
	return f, nil
}

// Exists reports whether the sample exists.
func (d *Disk) Exists(_ context.Context, userID, format string) (bool, error) {
	full, err := d.resolve(userID, format)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
