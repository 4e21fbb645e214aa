package review

import (
	"context"
	"encoding/json"
	"fmt"
)

// Verdict is the ABI verdict of a comparison or a whole submission.
type Verdict int

const (
	Unknown Verdict = iota
	Compatible
	Incompatible
)

func (v Verdict) String() string {
	switch v {
	case Compatible:
		return "compatible"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the verdict by name.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts the names written by MarshalJSON.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p, err := ParseVerdict(s)
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// ParseVerdict parses a verdict name.
func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "compatible":
		return Compatible, nil
	case "incompatible":
		return Incompatible, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown verdict %q", s)
}

// Tally accumulates comparison outcomes and transient failures. The verdict
// it yields does not depend on the order outcomes were added in:
// Incompatible if any comparison was incompatible, else Unknown if any
// transient failure occurred, else Compatible if any comparison succeeded,
// else Unknown.
type Tally struct {
	Compatible   int `json:"compatible"`
	Incompatible int `json:"incompatible"`
	Failures     int `json:"failures"`
}

// Add records the outcome of one comparison.
func (t *Tally) Add(compatible bool) {
	if compatible {
		t.Compatible++
	} else {
		t.Incompatible++
	}
}

// Fail records a transient failure that leaves the result open.
func (t *Tally) Fail() { t.Failures++ }

// Merge adds the counts of o.
func (t *Tally) Merge(o Tally) {
	t.Compatible += o.Compatible
	t.Incompatible += o.Incompatible
	t.Failures += o.Failures
}

// Verdict combines the recorded outcomes.
func (t Tally) Verdict() Verdict {
	switch {
	case t.Incompatible > 0:
		return Incompatible
	case t.Failures > 0:
		return Unknown
	case t.Compatible > 0:
		return Compatible
	}
	return Unknown
}

// Decision is what happens to a submission or request.
type Decision int

const (
	// Pending leaves the review open for a later pass.
	Pending Decision = iota
	Accept
	Decline
)

// String returns the review state name the build service uses.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accepted"
	case Decline:
		return "declined"
	default:
		return "pending"
	}
}

func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Combine folds decisions of several actions: any decline wins, then any
// pending one, otherwise the request is accepted.
func Combine(ds ...Decision) Decision {
	out := Accept
	if len(ds) == 0 {
		return Pending
	}
	for _, d := range ds {
		switch d {
		case Decline:
			return Decline
		case Pending:
			out = Pending
		}
	}
	return out
}

// State is the persisted processing state of a request.
type State string

const (
	StateSeen State = "seen"
	StateDone State = "done"
)

// LibResult is the verdict for one compared library pair. DstLib is the
// library currently published in the destination, SrcLib its replacement
// from the submission.
type LibResult struct {
	SrcRepo    string `json:"srcRepo"`
	SrcLib     string `json:"srcLib"`
	DstRepo    string `json:"dstRepo"`
	DstLib     string `json:"dstLib"`
	Arch       string `json:"arch"`
	Report     string `json:"report"`
	ReportPath string `json:"-"`
	Compatible bool   `json:"compatible"`
}

// Report is the result of checking one submission.
type Report struct {
	SrcProject string      `json:"srcProject"`
	SrcPackage string      `json:"srcPackage"`
	SrcRev     string      `json:"srcRev,omitempty"`
	DstProject string      `json:"dstProject"`
	DstPackage string      `json:"dstPackage"`
	LibResults []LibResult `json:"libResults"`
	Overall    Verdict     `json:"overall"`

	Decision Decision     `json:"decision"`
	Tally    Tally        `json:"tally"`
	Repos    []RepoResult `json:"repos,omitempty"`
	// Notes are the summary lines for the review comment, in order.
	Notes []string `json:"notes,omitempty"`
	// Skipped reports are not persisted: the submission was not compared
	// at all (denied project, unstaged request, patchinfo).
	Skipped bool `json:"skipped,omitempty"`
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// RepoResult is the outcome of one matched repository. Err holds a failure
// of the repository as a whole, Failures lists pairs whose comparison could
// not be completed.
type RepoResult struct {
	SrcRepo  string      `json:"srcRepo"`
	DstRepo  string      `json:"dstRepo"`
	Arch     string      `json:"arch"`
	Libs     []LibResult `json:"libs,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	Failures []string    `json:"failures,omitempty"`
	Err      error       `json:"-"`
	Error    string      `json:"error,omitempty"`
}

type ctxKey struct{}

// WithRequestID returns a context carrying the request being processed.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
