package rpmhdr

import (
	"errors"
	"fmt"
	"io"

	rpmutils "github.com/sassoftware/go-rpmutils"
)

// Tags not exported by rpmutils.
const (
	tagSourcePackage = 1106
	tagDistURL       = 1123
)

const (
	modeTypeMask = 0o170000
	modeRegular  = 0o100000
	modeSymlink  = 0o120000
)

// File is one entry of a package's file list.
type File struct {
	Path   string
	Mode   uint32
	LinkTo string
}

// IsSymlink reports whether the entry is a symbolic link.
func (f File) IsSymlink() bool { return f.Mode&modeTypeMask == modeSymlink }

// IsRegular reports whether the entry is a regular file.
func (f File) IsRegular() bool { return f.Mode&modeTypeMask == modeRegular }

// Package holds the header fields of one binary package.
type Package struct {
	Name    string
	Version string
	Release string
	Arch    string
	DistURL string
	Source  bool
	Files   []File
}

// Parse reads the lead, signature header and general header from r. The
// payload, if any, is left unread.
func Parse(r io.Reader) (*Package, error) {
	hdr, err := rpmutils.ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("reading rpm header: %w", err)
	}
	return fromHeader(hdr)
}

func fromHeader(hdr *rpmutils.RpmHeader) (*Package, error) {
	p := &Package{
		Source: hdr.HasTag(tagSourcePackage) || !hdr.HasTag(rpmutils.SOURCERPM),
	}
	for _, f := range []struct {
		tag      int
		dst      *string
		optional bool
	}{
		{rpmutils.NAME, &p.Name, false},
		{rpmutils.VERSION, &p.Version, false},
		{rpmutils.RELEASE, &p.Release, false},
		{rpmutils.ARCH, &p.Arch, true},
		{tagDistURL, &p.DistURL, true},
	} {
		v, err := hdr.GetString(f.tag)
		if err != nil {
			if f.optional && isNoSuchTag(err) {
				continue
			}
			return nil, fmt.Errorf("reading tag %d: %w", f.tag, err)
		}
		*f.dst = v
	}

	paths, err := hdr.GetStrings(rpmutils.OLDFILENAMES)
	if err != nil {
		if isNoSuchTag(err) {
			return p, nil
		}
		return nil, fmt.Errorf("reading file names: %w", err)
	}
	modes, err := hdr.GetUint32s(rpmutils.FILEMODES)
	if err != nil {
		return nil, fmt.Errorf("reading file modes: %w", err)
	}
	links, err := hdr.GetStrings(rpmutils.FILELINKTOS)
	if err != nil && !isNoSuchTag(err) {
		return nil, fmt.Errorf("reading link targets: %w", err)
	}
	if len(modes) != len(paths) {
		return nil, fmt.Errorf("file list of %s has %d names but %d modes", p.Name, len(paths), len(modes))
	}

	p.Files = make([]File, len(paths))
	for i, path := range paths {
		p.Files[i] = File{Path: path, Mode: modes[i]}
		if i < len(links) {
			p.Files[i].LinkTo = links[i]
		}
	}
	return p, nil
}

func isNoSuchTag(err error) bool {
	var nst rpmutils.NoSuchTagError
	return errors.As(err, &nst)
}

// NEVRA returns the name-version-release.arch string of the package.
func (p *Package) NEVRA() string {
	return fmt.Sprintf("%s-%s-%s.%s", p.Name, p.Version, p.Release, p.Arch)
}
