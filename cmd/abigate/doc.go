// Abigate gates package submissions in an OBS-style build service on the ABI
// compatibility of the shared libraries they produce.
//
// For every submit action it matches comparable build repositories between
// the source and destination projects, extracts the libraries and their debug
// information from the built packages, pairs old and new libraries and runs
// abi-dumper and abi-compliance-checker on every pair. The combined verdict is
// stored and optionally posted back as a review.
//
// Usage:
//
//	abigate check request 123456          # review a request
//	abigate check diff home:me foo openSUSE:Factory foo
//	abigate db list --state seen          # inspect stored results
//	abigate doctor                        # verify tools and credentials
package main
