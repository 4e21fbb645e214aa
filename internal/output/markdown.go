package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/abigate/internal/review"
)

// MarkdownWriter outputs a review-comment-friendly markdown report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, out *review.Outcome) error {
	fmt.Fprintf(w, "## ABI Check: %s\n\n", title(out))
	fmt.Fprintf(w, "%s **%s**\n\n", mdDecisionIcon(out.Decision), out.Decision)

	if len(out.Reports) == 0 {
		fmt.Fprintln(w, "Nothing was checked.")
		return nil
	}

	for _, r := range out.Reports {
		fmt.Fprintf(w, "### %s/%s -> %s/%s\n\n", r.SrcProject, r.SrcPackage, r.DstProject, r.DstPackage)
		fmt.Fprintf(w, "Overall: **%s**\n\n", r.Overall)

		if len(r.LibResults) > 0 {
			fmt.Fprintf(w, "| Old | New | Repository | Arch | Verdict |\n")
			fmt.Fprintf(w, "|-----|-----|------------|------|---------|\n")
			for _, lr := range r.LibResults {
				fmt.Fprintf(w, "| `%s` | `%s` | %s | %s | %s |\n",
					lr.DstLib, lr.SrcLib, lr.DstRepo, lr.Arch, mdVerdict(lr))
			}
			fmt.Fprintln(w)
		}

		if problems := repoProblems(r); len(problems) > 0 {
			fmt.Fprintf(w, "<details>\n<summary>Warnings and failures (%d)</summary>\n\n", len(problems))
			for _, p := range problems {
				fmt.Fprintf(w, "- %s\n", p)
			}
			fmt.Fprintf(w, "\n</details>\n\n")
		}

		if len(r.Notes) > 0 {
			fmt.Fprintf(w, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(strings.Join(r.Notes, "")), "\n", "\n> "))
		}
	}

	if out.Summary != "" {
		fmt.Fprintf(w, "<details>\n<summary>Review comment</summary>\n\n%s\n\n</details>\n", strings.TrimSpace(out.Summary))
	}
	return nil
}

func repoProblems(r *review.Report) []string {
	var out []string
	for _, rr := range r.Repos {
		where := fmt.Sprintf("%s/%s", rr.DstRepo, rr.Arch)
		for _, msg := range rr.Warnings {
			out = append(out, fmt.Sprintf(":warning: %s: %s", where, msg))
		}
		for _, msg := range rr.Failures {
			out = append(out, fmt.Sprintf(":x: %s: %s", where, msg))
		}
		if rr.Error != "" {
			out = append(out, fmt.Sprintf(":x: %s: %s", where, rr.Error))
		}
	}
	return out
}

func mdVerdict(lr review.LibResult) string {
	label := "compatible"
	if !lr.Compatible {
		label = "**INCOMPATIBLE**"
	}
	if lr.Report != "" {
		return fmt.Sprintf("%s ([report](%s))", label, lr.Report)
	}
	return label
}

func mdDecisionIcon(d review.Decision) string {
	switch d {
	case review.Accept:
		return ":white_check_mark:"
	case review.Decline:
		return ":red_circle:"
	default:
		return ":hourglass:"
	}
}
