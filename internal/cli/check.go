package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/abigate/internal/artifact"
	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/output"
	"github.com/dshills/abigate/internal/review"
	"github.com/spf13/cobra"
)

// Shared check flags
var (
	flagFormat   string
	flagOut      string
	flagLogLevel string
	flagRev      string
	flagStaging  string
	flagForce    bool
	flagNoReview bool
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown)")
	cmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagLogLevel != "" {
		m["logLevel"] = flagLogLevel
	}
	return m
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check submissions for ABI changes",
	Long:  "Compare the libraries of a submission against the target project. Use subcommands to pick what to check.",
}

var checkDiffCmd = &cobra.Command{
	Use:   "diff <srcProject> <srcPackage> <dstProject> <dstPackage>",
	Short: "Check one submission without a request",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(buildOverrides())
		if err != nil {
			return err
		}
		runDiff(cmd.Context(), cfg, review.Submission{
			SrcProject:     args[0],
			SrcPackage:     args[1],
			SrcRev:         flagRev,
			DstProject:     args[2],
			DstPackage:     args[3],
			StagingProject: flagStaging,
			Direct:         flagStaging == "",
		})
		return nil
	},
}

func runDiff(ctx context.Context, cfg config.Config, sub review.Submission) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg, nil)
	p, err := newPipeline(cfg, logger)
	if err != nil {
		failure(err)
		return
	}
	defer p.close()

	report := p.checker.Check(ctx, sub)
	reports := []*review.Report{report}
	// The work directory is reset on close.
	kept, err := keepReports(ctx, cfg, reports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error keeping reports: %v\n", err)
		exitCode = ExitRuntimeError
		return
	}
	out := &review.Outcome{
		Decision: report.Decision,
		Reports:  reports,
		Summary:  review.Summary(reports, nil, cfg.WebURL, ""),
	}
	if err := output.WriteOutcome(out, cfg.Format, flagOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		exitCode = ExitRuntimeError
		return
	}
	if len(report.LibResults) > 0 {
		fmt.Fprintf(os.Stderr, "HTML reports written to %s\n", kept)
	}
	exitCode = decisionExit(report.Decision)
}

// diffReports is the report directory entry of checks run without a request.
const diffReports = "diff"

// keepReports copies the HTML reports into <reports>/diff and points the
// results at the copies. It returns that directory.
func keepReports(ctx context.Context, cfg config.Config, reports []*review.Report) (string, error) {
	root, err := reportRoot(cfg)
	if err != nil {
		return "", err
	}
	st := artifact.NewDirStore(root)
	for _, r := range reports {
		for i := range r.LibResults {
			lr := &r.LibResults[i]
			if lr.ReportPath == "" {
				continue
			}
			key, err := st.Put(ctx, diffReports, lr.Report, lr.ReportPath)
			if err != nil {
				return "", err
			}
			lr.ReportPath = filepath.Join(root, filepath.FromSlash(key))
		}
	}
	return filepath.Join(root, diffReports), nil
}

var checkRequestCmd = &cobra.Command{
	Use:   "request <id>...",
	Short: "Check requests and review them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(buildOverrides())
		if err != nil {
			return err
		}
		runRequests(cmd.Context(), cfg, args)
		return nil
	},
}

func runRequests(ctx context.Context, cfg config.Config, ids []string) {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		failure(err)
		return
	}
	defer st.Close()

	arts, err := newArtifacts(cfg)
	if err != nil {
		failure(err)
		return
	}

	logger := newLogger(cfg, st.LogLine)
	p, err := newPipeline(cfg, logger)
	if err != nil {
		failure(err)
		return
	}
	defer p.close()

	proc := review.NewProcessor(p.checker, p.client, st, arts, review.ProcessOptions{
		Force:       flagForce,
		NoReview:    flagNoReview,
		ReviewGroup: cfg.ReviewGroup,
		WebURL:      cfg.WebURL,
	}, logger)

	exitCode = processRequests(ctx, proc, ids, cfg.Format, flagOut)
}

type requestProcessor interface {
	Process(ctx context.Context, id string) (*review.Outcome, error)
}

// processRequests checks every id and returns the exit code. A failed
// request does not stop the others; the first failure sets the code.
func processRequests(ctx context.Context, proc requestProcessor, ids []string, format, outPath string) int {
	code := -1
	var decisions []review.Decision
	for _, id := range ids {
		out, err := proc.Process(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if code < 0 {
				code = failureCode(err)
			}
			continue
		}
		if err := output.WriteOutcome(out, format, outPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			if code < 0 {
				code = ExitRuntimeError
			}
			continue
		}
		if !out.Skipped {
			decisions = append(decisions, out.Decision)
		}
	}
	switch {
	case code >= 0:
		return code
	case len(decisions) == 0:
		return ExitSuccess
	}
	return decisionExit(review.Combine(decisions...))
}

func init() {
	addOutputFlags(checkDiffCmd)
	checkDiffCmd.Flags().StringVar(&flagRev, "rev", "", "Source revision (default: latest)")
	checkDiffCmd.Flags().StringVar(&flagStaging, "staging-project", "", "Compare through this staging project")

	addOutputFlags(checkRequestCmd)
	checkRequestCmd.Flags().BoolVar(&flagForce, "force", false, "Process requests that are already done")
	checkRequestCmd.Flags().BoolVar(&flagNoReview, "no-review", false, "Store results without changing the review")

	checkCmd.AddCommand(checkDiffCmd)
	checkCmd.AddCommand(checkRequestCmd)
}
