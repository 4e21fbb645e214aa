package archive

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cavaliergopher/cpio"
)

// Entry is one member of an archive.
type Entry struct {
	Name     string
	Size     int64
	Mode     cpio.FileMode
	Linkname string
}

// IsRegular reports whether the entry is a regular file.
func (e *Entry) IsRegular() bool { return e.Mode.IsRegular() }

// Reader iterates over archive entries. After Next, the Reader can be read
// for the entry's data.
type Reader struct {
	cr *cpio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{cr: cpio.NewReader(r)}
}

// Next advances to the next entry. It returns io.EOF at the trailer or at a
// clean end of input.
func (r *Reader) Next() (*Entry, error) {
	hdr, err := r.cr.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading archive header: %w", err)
	}
	return &Entry{
		Name:     normalize(hdr.Name),
		Size:     hdr.Size,
		Mode:     hdr.Mode,
		Linkname: hdr.Linkname,
	}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.cr.Read(p)
}

// Walk calls fn for every entry in r. The body reader is only valid during
// the call. Returning a non-nil error from fn stops the walk.
func Walk(r io.Reader, fn func(e *Entry, body io.Reader) error) error {
	ar := NewReader(r)
	for {
		e, err := ar.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e, ar); err != nil {
			return err
		}
	}
}

// normalize turns payload-relative names ("./usr/lib") into absolute ones.
func normalize(name string) string {
	if strings.HasPrefix(name, "./") {
		return name[1:]
	}
	return name
}
