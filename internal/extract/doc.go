// Package extract scans the binaries of one package build for shared
// libraries, checks that each library has debug information, and unpacks
// the libraries and their debug files into a working tree.
//
// The scan reads only the packed RPM headers the build service exports.
// Full packages are downloaded (through the download cache) only for the
// libraries that qualify, and only the library and debug files are written
// to disk.
package extract
