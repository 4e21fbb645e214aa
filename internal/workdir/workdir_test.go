package workdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	root := filepath.Join(t.TempDir(), "work")
	d, err := Acquire(root)
	require.NoError(t, err)

	_, err = Acquire(root)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, d.Release())

	d2, err := Acquire(root)
	require.NoError(t, err)
	require.NoError(t, d2.Release())
}

func TestScratchStartsEmpty(t *testing.T) {
	d, err := Acquire(t.TempDir())
	require.NoError(t, err)
	defer d.Release()

	p, err := d.Scratch("unpacked")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(p, "leftover"), []byte("x"), 0o644))

	p2, err := d.Scratch("unpacked")
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	entries, err := os.ReadDir(p2)
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, bad := range []string{"", "..", "a/b", lockName} {
		_, err := d.Scratch(bad)
		assert.Error(t, err, bad)
	}
}

func TestReleaseKeepsLockFile(t *testing.T) {
	root := t.TempDir()
	d, err := Acquire(root)
	require.NoError(t, err)
	_, err = d.Scratch("dumps")
	require.NoError(t, err)

	require.NoError(t, d.Release())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, lockName, entries[0].Name())
}

func TestAcquireRequiresRoot(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}
