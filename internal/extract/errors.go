package extract

import (
	"fmt"
	"strings"
)

// DistURLMismatch means a binary was built from a different source revision
// than the one being checked, usually because a newer revision superseded it.
type DistURLMismatch struct {
	DistURL string
	Want    string
}

func (e *DistURLMismatch) Error() string {
	return fmt.Sprintf("disturl mismatch has: %s wanted %s", e.DistURL, e.Want)
}

// MissingDebugInfo lists the library packages without usable debug
// information. Entries read "project/package repo/arch rpmname [library]".
type MissingDebugInfo struct {
	Entries []string
}

func (e *MissingDebugInfo) Error() string {
	return "missing debuginfo:\n" + strings.Join(e.Entries, "\n")
}

// FetchError is a download, listing or unpack failure.
type FetchError struct {
	Msg string
	Err error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *FetchError) Unwrap() error { return e.Err }
