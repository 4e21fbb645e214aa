package repomatch

import (
	"errors"
	"fmt"
)

// ErrNoMatch means the submission does not build against any allowed
// destination repository.
var ErrNoMatch = errors.New("no matching repositories")

// NotReadyYet means builds are still running or results are stale. The
// check should simply be retried later.
type NotReadyYet struct {
	Project string
	Package string
	Reason  string
}

func (e *NotReadyYet) Error() string {
	return fmt.Sprintf("%s/%s not ready yet: %s", e.Project, e.Package, e.Reason)
}

// SourceBroken means the submission's sources do not expand.
type SourceBroken struct {
	Project string
	Package string
}

func (e *SourceBroken) Error() string {
	return fmt.Sprintf("%s/%s has broken sources, needs rebase", e.Project, e.Package)
}

// NoBuildSuccess means at least one matched repository never built the
// submitted revision successfully.
type NoBuildSuccess struct {
	Project string
	Package string
	MD5     string
}

func (e *NoBuildSuccess) Error() string {
	return fmt.Sprintf("%s/%s(%s) had no successful build", e.Project, e.Package, e.MD5)
}
