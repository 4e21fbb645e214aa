package abitool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var libNameRe = regexp.MustCompile(`^(?:/usr)?/lib(?:64)?/lib([^/]+)\.so(?:\.[^/]+)?`)

// LibName returns the library name the checker expects for a library path,
// e.g. "foo" for /usr/lib64/libfoo.so.1.
func LibName(libPath string) (string, bool) {
	m := libNameRe.FindStringSubmatch(libPath)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ReportName returns the deterministic file name of a comparison report.
func ReportName(srcRepo, oldLib, dstRepo, newLib, arch string, at time.Time) string {
	return fmt.Sprintf("report-%s-%s-%s-%s-%s-%08x.html", srcRepo, path.Base(oldLib), dstRepo, path.Base(newLib), arch, at.Unix())
}

// ToolError is a failure of one of the external tools.
type ToolError struct {
	Msg    string
	Output string
}

func (e *ToolError) Error() string { return e.Msg }

// Side is one library of a comparison: its package path, debug file path,
// and the directory the package paths are rooted at.
type Side struct {
	Base  string
	Lib   string
	Debug string
}

// Job is one comparison of a destination (old) and a submitted (new)
// library.
type Job struct {
	SrcRepo string
	DstRepo string
	Arch    string
	Old     Side
	New     Side
}

// Outcome is the verdict of one comparison.
type Outcome struct {
	Compatible bool
	Report     string
	ReportPath string
}

// Tool runs the dumper and the checker.
type Tool struct {
	runner    Runner
	dumper    string
	comparer  string
	workDir   string
	reportDir string
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Tool. Dumps are written to workDir and reports to
// reportDir.
func New(runner Runner, dumper, comparer, workDir, reportDir string, logger *slog.Logger) *Tool {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		runner:    runner,
		dumper:    dumper,
		comparer:  comparer,
		workDir:   workDir,
		reportDir: reportDir,
		logger:    logger,
		now:       time.Now,
	}
}

// Dump writes the ABI dump of one library to out.
func (t *Tool) Dump(ctx context.Context, out string, s Side) error {
	args := []string{
		"-o", out,
		"-lver", path.Base(s.Lib),
		joinBase(s.Base, s.Lib),
		joinBase(s.Base, s.Debug),
	}
	t.logger.DebugContext(ctx, "running dumper", "cmd", t.dumper, "args", args)
	code, output, err := t.runner.Run(ctx, t.workDir, t.dumper, args...)
	if err != nil || code != 0 {
		t.logger.ErrorContext(ctx, fmt.Sprintf("failed to dump %s!", s.Lib), "code", code, "error", err)
		return &ToolError{Msg: fmt.Sprintf("failed to dump %s", s.Lib), Output: tail(output)}
	}
	return nil
}

// Compare compares two dumps and writes the HTML report to report.
func (t *Tool) Compare(ctx context.Context, libName, oldDump, newDump, report string) (bool, error) {
	args := []string{"-lib", libName, "-old", oldDump, "-new", newDump, "-report-path", report}
	t.logger.DebugContext(ctx, "running checker", "cmd", t.comparer, "args", args)
	code, output, err := t.runner.Run(ctx, t.workDir, t.comparer, args...)
	if err != nil {
		return false, &ToolError{Msg: fmt.Sprintf("%s failed: %v", t.comparer, err), Output: tail(output)}
	}
	switch code {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		t.logger.ErrorContext(ctx, fmt.Sprintf("%s failed", t.comparer), "code", code)
		return false, &ToolError{Msg: fmt.Sprintf("%s exited with %d", t.comparer, code), Output: tail(output)}
	}
}

// Diff dumps both sides of job and compares them.
func (t *Tool) Diff(ctx context.Context, job Job) (*Outcome, error) {
	name, ok := LibName(job.Old.Lib)
	if !ok {
		return nil, &ToolError{Msg: fmt.Sprintf("can't derive library name from %s", job.Old.Lib)}
	}
	if err := os.MkdirAll(t.reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	oldDump := filepath.Join(t.workDir, "old.dump")
	newDump := filepath.Join(t.workDir, "new.dump")
	cleanup := func() {
		for _, p := range []string{oldDump, newDump} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				t.logger.WarnContext(ctx, "removing dump", "path", p, "error", err)
			}
		}
	}
	cleanup()
	defer cleanup()

	if err := t.Dump(ctx, oldDump, job.Old); err != nil {
		return nil, err
	}
	if err := t.Dump(ctx, newDump, job.New); err != nil {
		return nil, err
	}

	report := ReportName(job.SrcRepo, job.Old.Lib, job.DstRepo, job.New.Lib, job.Arch, t.now())
	reportPath := filepath.Join(t.reportDir, report)
	compatible, err := t.Compare(ctx, name, oldDump, newDump, reportPath)
	if err != nil {
		return nil, err
	}
	t.logger.DebugContext(ctx, "report saved", "path", reportPath, "compatible", compatible)
	return &Outcome{Compatible: compatible, Report: report, ReportPath: reportPath}, nil
}

func joinBase(base, p string) string {
	return filepath.Join(base, filepath.FromSlash(p))
}

// tail keeps the last lines of tool output for error messages.
func tail(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > 20 {
		lines = lines[len(lines)-20:]
	}
	return strings.Join(lines, "\n")
}
