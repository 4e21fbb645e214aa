package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testKey = Key{Project: "home:u", Package: "foo", Repo: "standard", Arch: "x86_64", Filename: "libfoo1-1.0-1.1.x86_64.rpm"}

func TestCache_StoreLookup(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	mtime := time.Unix(1700000000, 0)

	// Miss before store
	if _, ok := c.Lookup(testKey, mtime); ok {
		t.Error("Expected cache miss before store")
	}

	path, err := c.Store(testKey, mtime, func(w io.Writer) error {
		_, err := io.WriteString(w, "rpm bytes")
		return err
	})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if want := filepath.Join(dir, "home:u", "foo", "standard", "x86_64", "libfoo1-1.0-1.1.x86_64.rpm"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	got, ok := c.Lookup(testKey, mtime)
	if !ok {
		t.Fatal("Expected cache hit after store")
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "rpm bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestCache_StaleMtime(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := c.Store(testKey, time.Unix(100, 0), func(w io.Writer) error { return nil }); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if _, ok := c.Lookup(testKey, time.Unix(200, 0)); ok {
		t.Error("Expected miss when the build service reports a newer mtime")
	}
}

func TestCache_FailedFillKeepsOldCopy(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	mtime := time.Unix(100, 0)
	if _, err := c.Store(testKey, mtime, func(w io.Writer) error {
		_, err := io.WriteString(w, "old")
		return err
	}); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	boom := errors.New("connection reset")
	_, err = c.Store(testKey, time.Unix(200, 0), func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Store error = %v, want %v", err, boom)
	}
	path, ok := c.Lookup(testKey, mtime)
	if !ok {
		t.Fatal("old copy should survive a failed download")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Errorf("content = %q, want old", data)
	}
}

func TestCache_Evict(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := c.Evict(testKey); err != nil {
		t.Errorf("Evict of missing entry: %v", err)
	}
	mtime := time.Unix(100, 0)
	if _, err := c.Store(testKey, mtime, func(w io.Writer) error { return nil }); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if err := c.Evict(testKey); err != nil {
		t.Fatalf("Evict error: %v", err)
	}
	if _, ok := c.Lookup(testKey, mtime); ok {
		t.Error("Expected miss after evict")
	}
}

func TestCache_ClearAndStats(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for i, name := range []string{"a.rpm", "b.rpm"} {
		k := testKey
		k.Filename = name
		if i == 1 {
			k.Project = "openSUSE:Factory"
		}
		if _, err := c.Store(k, time.Unix(1, 0), func(w io.Writer) error {
			_, err := io.WriteString(w, "12345")
			return err
		}); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	stats, err := c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if stats.Projects != 2 {
		t.Errorf("Projects = %d, want 2", stats.Projects)
	}
	if stats.TotalBytes != 10 {
		t.Errorf("TotalBytes = %d, want 10", stats.TotalBytes)
	}
	if stats.Dir != dir {
		t.Errorf("Dir = %q, want %q", stats.Dir, dir)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	stats, err = c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Entries != 0 {
		t.Errorf("Entries after clear = %d, want 0", stats.Entries)
	}
}

func TestSegment(t *testing.T) {
	tests := []struct{ in, want string }{
		{"standard", "standard"},
		{"a/b", "a_b"},
		{"..", "_.."},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := segment(tt.in); got != tt.want {
			t.Errorf("segment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	dir, err := defaultCacheDir()
	if err != nil {
		t.Fatalf("defaultCacheDir error: %v", err)
	}
	if dir != filepath.Join("/tmp/xdg", "abigate", "downloads") {
		t.Errorf("dir = %q", dir)
	}
}
