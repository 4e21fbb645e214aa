// Package archive reads the newc ("070701") archives the build service uses
// to ship packed RPM headers.
//
// Each entry is a fixed ASCII-hex header followed by the name and the data,
// both padded to four bytes. Iteration ends at the "TRAILER!!!" entry, which
// is never returned.
package archive
