package rpmhdr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	rpmutils "github.com/sassoftware/go-rpmutils"
)

// ExtractFiles unpacks the regular payload members of the package at path
// for which want returns true. Each member is written below root at its
// package path. It returns the package paths that were written.
func ExtractFiles(path, root string, want func(name string) bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	pr, err := rpm.PayloadReaderExtended()
	if err != nil {
		return nil, fmt.Errorf("opening payload of %s: %w", path, err)
	}

	var written []string
	for {
		fi, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("reading payload of %s: %w", path, err)
		}
		name := fi.Name()
		if pr.IsLink() || uint32(fi.Mode())&modeTypeMask != modeRegular || !want(name) {
			continue
		}
		dst := filepath.Join(root, filepath.FromSlash(name))
		if err := writeAtomic(dst, pr); err != nil {
			return written, fmt.Errorf("extracting %s: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}

// writeAtomic copies r into a temporary file next to dst and renames it into
// place, so a reader never sees a partially written file.
func writeAtomic(dst string, r io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".extract-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
