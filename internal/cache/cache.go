package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Key identifies one downloaded build artifact.
type Key struct {
	Project  string
	Package  string
	Repo     string
	Arch     string
	Filename string
}

func (k Key) String() string {
	return strings.Join([]string{k.Project, k.Package, k.Repo, k.Arch, k.Filename}, "/")
}

// Cache stores downloaded binaries on disk. A cached file is current when its
// modification time equals the mtime the build service reports for it.
type Cache struct {
	dir string
}

// New creates a new Cache. If dir is empty, uses the default cache directory.
func New(dir string) (*Cache, error) {
	if dir == "" {
		d, err := defaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Path returns where the artifact for k is stored.
func (c *Cache) Path(k Key) string {
	return filepath.Join(c.dir, segment(k.Project), segment(k.Package), segment(k.Repo), segment(k.Arch), segment(k.Filename))
}

// Lookup returns the path of the cached artifact if it exists and matches
// mtime.
func (c *Cache) Lookup(k Key, mtime time.Time) (string, bool) {
	path := c.Path(k)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if !info.ModTime().Equal(mtime) {
		return "", false
	}
	return path, true
}

// Store writes the artifact produced by fill and stamps it with mtime. The
// previous copy, if any, is replaced only once fill succeeded.
func (c *Cache) Store(k Key, mtime time.Time, fill func(w io.Writer) error) (string, error) {
	path := c.Path(k)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("creating cache file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if err := fill(tmp); err != nil {
		tmp.Close()
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
		cleanup()
		return "", fmt.Errorf("stamping cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("storing cache file: %w", err)
	}
	return path, nil
}

// Evict removes the cached artifact for k.
func (c *Cache) Evict(k Key) error {
	err := os.Remove(c.Path(k))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes all cache entries.
func (c *Cache) Clear() error {
	if c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Stats returns cache statistics.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Projects   int    `json:"projects"`
}

// GetStats returns information about the cache.
func (c *Cache) GetStats() (Stats, error) {
	stats := Stats{Dir: c.dir}
	if c.dir == "" {
		return stats, nil
	}
	top, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range top {
		if e.IsDir() {
			stats.Projects++
		}
	}
	err = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".download-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.Entries++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking cache directory: %w", err)
	}
	return stats, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// segment keeps a name from escaping its directory level.
func segment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}

func defaultCacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "abigate", "downloads"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "abigate", "downloads"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "abigate", "cache", "downloads"), nil
		}
		return filepath.Join(home, "AppData", "Local", "abigate", "cache", "downloads"), nil
	default:
		return filepath.Join(home, ".cache", "abigate", "downloads"), nil
	}
}
