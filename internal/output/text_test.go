package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dshills/abigate/internal/review"
)

func sampleOutcome() *review.Outcome {
	libs := []review.LibResult{
		{
			SrcRepo: "openSUSE_Tumbleweed", SrcLib: "libfoo.so.2",
			DstRepo: "openSUSE_Tumbleweed", DstLib: "libfoo.so.1",
			Arch:       "x86_64",
			Report:     "42/report-libfoo.html",
			Compatible: false,
		},
		{
			SrcRepo: "openSUSE_Tumbleweed", SrcLib: "libbar.so.3",
			DstRepo: "openSUSE_Tumbleweed", DstLib: "libbar.so.3",
			Arch:       "x86_64",
			Compatible: true,
		},
	}
	return &review.Outcome{
		RequestID: "42",
		State:     review.StateDone,
		Decision:  review.Decline,
		Reports: []*review.Report{{
			SrcProject: "home:alice:branches:devel:libs",
			SrcPackage: "libfoo",
			SrcRev:     "7",
			DstProject: "devel:libs",
			DstPackage: "libfoo",
			LibResults: libs,
			Overall:    review.Incompatible,
			Decision:   review.Decline,
			Tally:      review.Tally{Compatible: 1, Incompatible: 1},
			Repos: []review.RepoResult{{
				SrcRepo:  "openSUSE_Tumbleweed",
				DstRepo:  "openSUSE_Tumbleweed",
				Arch:     "x86_64",
				Libs:     libs,
				Warnings: []string{"libbaz.so.1 no longer packaged"},
			}},
			Notes: []string{"*Warning*: libbaz.so.1 no longer packaged\n\n"},
		}},
		Summary: "Warning: bad news from ABI check",
	}
}

func TestTextWriter_Outcome(t *testing.T) {
	var buf bytes.Buffer
	w := &TextWriter{}
	if err := w.Write(&buf, sampleOutcome()); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"ABI check: request 42",
		"State: done, decision: declined",
		"home:alice:branches:devel:libs/libfoo@7 -> devel:libs/libfoo",
		"Overall: incompatible | Decision: declined",
		"Libraries: 2 compared (1 compatible, 1 incompatible)",
		"[!!] libfoo.so.1 -> libfoo.so.2",
		"[ok] libbar.so.3 -> libbar.so.3",
		"report: 42/report-libfoo.html",
		"[-] libbaz.so.1 no longer packaged",
		"Notes:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestTextWriter_Empty(t *testing.T) {
	var buf bytes.Buffer
	w := &TextWriter{}
	if err := w.Write(&buf, &review.Outcome{Decision: review.Pending}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "ABI check: submission") {
		t.Error("Output should name a submission when there is no request")
	}
	if !strings.Contains(out, "Decision: pending") {
		t.Error("Output should show the decision")
	}
	if !strings.Contains(out, "Nothing was checked") {
		t.Error("Output should say nothing was checked")
	}
}

func TestTextWriter_Skipped(t *testing.T) {
	var buf bytes.Buffer
	w := &TextWriter{}
	if err := w.Write(&buf, &review.Outcome{RequestID: "9", State: review.StateDone, Skipped: true}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !strings.Contains(buf.String(), "Already reviewed") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestTextWriter_Failures(t *testing.T) {
	out := &review.Outcome{
		Decision: review.Pending,
		Reports: []*review.Report{{
			SrcProject: "home:bob", SrcPackage: "libfoo",
			DstProject: "devel:libs", DstPackage: "libfoo",
			Tally: review.Tally{Failures: 1},
			Repos: []review.RepoResult{{
				SrcRepo: "standard", DstRepo: "standard", Arch: "aarch64",
				Error: "dist url mismatch",
			}},
		}},
	}

	var buf bytes.Buffer
	w := &TextWriter{}
	if err := w.Write(&buf, out); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	s := buf.String()
	if !strings.Contains(s, "Libraries: 0 compared, 1 failed") {
		t.Errorf("missing failure count:\n%s", s)
	}
	if !strings.Contains(s, "[?] dist url mismatch") {
		t.Errorf("missing repo error:\n%s", s)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		input string
		width int
		want  int // number of lines
	}{
		{"short", 80, 1},
		{"this is a longer sentence that should wrap", 20, 3},
		{"", 80, 1},
	}

	for _, tt := range tests {
		lines := wrapText(tt.input, tt.width)
		if len(lines) != tt.want {
			t.Errorf("wrapText(%q, %d) = %d lines, want %d", tt.input, tt.width, len(lines), tt.want)
		}
	}
}

func TestGetWriter(t *testing.T) {
	for _, format := range []string{"", "text", "json", "markdown", "md"} {
		if _, err := GetWriter(format); err != nil {
			t.Errorf("GetWriter(%q) error: %v", format, err)
		}
	}
	if _, err := GetWriter("sarif"); err == nil {
		t.Error("GetWriter(sarif) should fail")
	}
}
