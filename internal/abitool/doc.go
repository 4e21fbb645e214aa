// Package abitool drives the external ABI tools: a dumper that writes the
// ABI of one library (using its debug file) and a checker that compares two
// dumps and writes an HTML report.
//
// The checker's exit status is the verdict: 0 means compatible, 1 means
// incompatible, anything else is a tool failure. Dump files are removed
// after every comparison whatever its outcome.
package abitool
