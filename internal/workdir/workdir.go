package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockName = ".abigate.lock"

// ErrBusy is returned when another process holds the directory.
var ErrBusy = errors.New("work directory is in use by another run")

// Dir is an exclusively held scratch directory.
type Dir struct {
	root string
	lock *flock.Flock
}

// Acquire creates root if needed and takes its lock without blocking.
func Acquire(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("work directory not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	lock := flock.New(filepath.Join(root, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("locking work directory: %w", err)
	}
	if !ok {
		_ = lock.Close()
		return nil, fmt.Errorf("%s: %w", root, ErrBusy)
	}
	return &Dir{root: root, lock: lock}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Scratch returns an empty subdirectory called name, removing whatever a
// previous check left there.
func (d *Dir) Scratch(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || name == lockName {
		return "", fmt.Errorf("invalid scratch name %q", name)
	}
	path := filepath.Join(d.root, name)
	if err := os.RemoveAll(path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Reset removes everything below the root except the lock file.
func (d *Dir) Reset() error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == lockName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Release empties the directory and drops the lock.
func (d *Dir) Release() error {
	resetErr := d.Reset()
	if err := d.lock.Unlock(); err != nil {
		return err
	}
	return resetErr
}
