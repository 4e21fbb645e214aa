// Package rpmhdr reads the parts of binary RPM packages the checker needs:
// the identity tags, the file list with modes and symlink targets, and the
// payload members selected for extraction. It also verifies package
// signatures against an armored OpenPGP keyring.
package rpmhdr
