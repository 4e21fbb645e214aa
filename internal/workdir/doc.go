// Package workdir manages the scratch directory that unpacked libraries and
// ABI dumps live in while a check runs. A lock file keeps two runs from
// unpacking into the same tree.
//
// Everything under the directory is removed when it is acquired and again
// on release, so nothing a caller wants to keep may stay there.
package workdir
