// Package pairing decides which destination library is compared with which
// submitted library. Libraries pair by identical path, or through a soname
// alias when the submission renamed the library.
package pairing
