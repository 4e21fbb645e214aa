package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/abigate/internal/review"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, out *review.Outcome) error {
	ew := &errWriter{w: w}

	ew.printf("ABI check: %s\n", title(out))
	if out.State != "" {
		ew.printf("State: %s, decision: %s\n", out.State, out.Decision)
	} else {
		ew.printf("Decision: %s\n", out.Decision)
	}
	ew.println(strings.Repeat("─", 60))

	if out.Skipped {
		ew.println("\nAlready reviewed, nothing to do.")
		return ew.err
	}
	if len(out.Reports) == 0 {
		ew.println("\nNothing was checked.")
		return ew.err
	}

	for _, r := range out.Reports {
		writeTextReport(ew, r)
	}

	ew.printf("\n%s\n", strings.Repeat("─", 60))
	return ew.err
}

func writeTextReport(ew *errWriter, r *review.Report) {
	src := r.SrcProject + "/" + r.SrcPackage
	if r.SrcRev != "" {
		src += "@" + r.SrcRev
	}
	ew.printf("\n%s -> %s/%s\n", src, r.DstProject, r.DstPackage)
	ew.printf("  Overall: %s | Decision: %s\n", r.Overall, r.Decision)

	ok, bad := counts(r)
	ew.printf("  Libraries: %d compared", len(r.LibResults))
	if len(r.LibResults) > 0 {
		ew.printf(" (%d compatible, %d incompatible)", ok, bad)
	}
	if r.Tally.Failures > 0 {
		ew.printf(", %d failed", r.Tally.Failures)
	}
	ew.println("")

	for _, rr := range r.Repos {
		ew.printf("\n  %s vs %s (%s)\n", rr.SrcRepo, rr.DstRepo, rr.Arch)
		for _, lr := range rr.Libs {
			ew.printf("    %s %s -> %s\n", verdictIcon(lr.Compatible), lr.DstLib, lr.SrcLib)
			if lr.Report != "" {
				ew.printf("         report: %s\n", lr.Report)
			}
		}
		for _, msg := range rr.Warnings {
			ew.printf("    [-] %s\n", msg)
		}
		for _, msg := range rr.Failures {
			ew.printf("    [?] %s\n", msg)
		}
		if rr.Error != "" {
			ew.printf("    [?] %s\n", rr.Error)
		}
	}

	if len(r.Notes) > 0 {
		ew.println("\n  Notes:")
		for _, n := range r.Notes {
			for i, line := range wrapText(strings.TrimSpace(n), 70) {
				prefix := "    "
				if i == 0 {
					prefix = "  - "
				}
				ew.printf("%s%s\n", prefix, line)
			}
		}
	}
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

func verdictIcon(compatible bool) string {
	if compatible {
		return "[ok]"
	}
	return "[!!]"
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	words := strings.Fields(text)
	var current strings.Builder
	for _, word := range words {
		if current.Len()+len(word)+1 > width && current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
