package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/dshills/abigate/internal/abitool"
	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/extract"
	"github.com/dshills/abigate/internal/maintenance"
	"github.com/dshills/abigate/internal/pairing"
	"github.com/dshills/abigate/internal/repomatch"
)

// Querier is the build service API the checker reads.
type Querier interface {
	repomatch.Querier
	maintenance.Querier
	extract.Querier
}

// Differ compares one library pair.
type Differ interface {
	Diff(ctx context.Context, job abitool.Job) (*abitool.Outcome, error)
}

// Submission names the two sides of one check.
type Submission struct {
	SrcProject string
	SrcPackage string
	SrcRev     string
	DstProject string
	DstPackage string
	// StagingProject is the staging project a request was placed in.
	StagingProject string
	// Direct compares the given source even when the destination stages
	// its submissions.
	Direct bool
}

// Options configures a Checker.
type Options struct {
	Policy               *config.Policy
	MaintenanceAttribute string
	// AcceptIncompatible accepts submissions with incompatible libraries
	// instead of declining them. The verdict is still reported.
	AcceptIncompatible bool
	Logger             *slog.Logger
}

// Checker runs the comparison pipeline for single submissions.
type Checker struct {
	q         Querier
	policy    *config.Policy
	matcher   *repomatch.Matcher
	resolver  *maintenance.Resolver
	extractor *extract.Extractor
	differ    Differ
	accept    bool
	logger    *slog.Logger
}

// NewChecker wires the pipeline stages around q.
func NewChecker(q Querier, ex *extract.Extractor, differ Differ, opts Options) *Checker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	matcher := repomatch.New(q, policy, logger)
	return &Checker{
		q:         q,
		policy:    policy,
		matcher:   matcher,
		resolver:  maintenance.New(q, matcher, opts.MaintenanceAttribute, logger),
		extractor: ex,
		differ:    differ,
		accept:    opts.AcceptIncompatible,
		logger:    logger,
	}
}

// Check compares one submission. It always returns a report; failures are
// classified into the report's notes and decision.
func (c *Checker) Check(ctx context.Context, sub Submission) *Report {
	report := &Report{
		SrcProject: sub.SrcProject,
		SrcPackage: sub.SrcPackage,
		SrcRev:     sub.SrcRev,
		DstProject: sub.DstProject,
		DstPackage: sub.DstPackage,
	}

	// Maintenance incidents carry a patchinfo without a target.
	if sub.DstProject == "" && sub.SrcPackage == "patchinfo" {
		report.Skipped = true
		return report
	}

	if msg, denied := c.policy.Denied(sub.DstProject); denied {
		c.logger.InfoContext(ctx, msg, "project", sub.DstProject)
		report.Skipped = true
		report.Decision = Accept
		return report
	}

	staging := false
	if !sub.Direct && c.policy.HasStaging(sub.DstProject) {
		if sub.StagingProject == "" {
			c.logger.DebugContext(ctx, "request not staged yet")
			report.Skipped = true
			return report
		}
		// Staged submissions are checked as built in staging.
		report.SrcProject = sub.StagingProject
		report.SrcPackage = sub.DstPackage
		report.SrcRev = ""
		staging = true
	}

	c.run(ctx, report, staging)
	return report
}

func (c *Checker) run(ctx context.Context, report *Report, staging bool) {
	dstInfo, err := c.q.SourceInfo(ctx, report.DstProject, report.DstPackage, "")
	if err != nil {
		c.unexpected(ctx, report, err)
		return
	}
	if dstInfo == nil {
		c.logger.InfoContext(ctx, fmt.Sprintf("%s/%s seems to be a new package, no need to review", report.DstProject, report.DstPackage))
		report.Decision = Accept
		return
	}
	srcInfo, err := c.q.SourceInfo(ctx, report.SrcProject, report.SrcPackage, report.SrcRev)
	if err != nil {
		c.unexpected(ctx, report, err)
		return
	}
	if srcInfo == nil {
		msg := fmt.Sprintf("%s/%s@%s does not exist!? can't check", report.SrcProject, report.SrcPackage, report.SrcRev)
		c.logger.ErrorContext(ctx, msg)
		report.note("%s\n", msg)
		report.Decision = Decline
		return
	}

	repos, err := c.matcher.Find(ctx, repomatch.Input{
		SrcProject: report.SrcProject,
		Src:        srcInfo,
		DstProject: report.DstProject,
		Staging:    staging,
	})
	if err != nil {
		if errors.Is(err, repomatch.ErrNoMatch) {
			c.logger.InfoContext(ctx, "no matching repos, can't compare")
			report.note("**Error**: %s does not build against %s, can't check library ABIs\n\n", report.SrcProject, report.DstProject)
			report.Decision = Decline
			return
		}
		c.matchFailed(ctx, report, err)
		return
	}

	target, err := c.resolver.Resolve(ctx, maintenance.Input{DstProject: report.DstProject, DstInfo: dstInfo, Repos: repos})
	if err != nil {
		var merr *maintenance.Error
		if errors.As(err, &merr) {
			c.logger.ErrorContext(ctx, merr.Msg)
			report.note("**Error**: %s\n\n", merr.Msg)
			report.Decision = Decline
			return
		}
		c.matchFailed(ctx, report, err)
		return
	}

	for _, w := range target.Warnings {
		report.note("*Warning*: %s\n\n", w)
	}

	src := extract.Target{Project: report.SrcProject, Package: report.SrcPackage, Info: srcInfo}
	dst := extract.Target{Project: target.Project, Package: target.Package, Info: target.Info}
	for _, mr := range target.Repos.Sorted() {
		rr := c.checkRepo(ctx, mr, dst, src)
		report.Repos = append(report.Repos, rr)
	}
	c.fold(ctx, report)
}

// matchFailed classifies failures of the repository matcher.
func (c *Checker) matchFailed(ctx context.Context, report *Report, err error) {
	var (
		notReady  *repomatch.NotReadyYet
		broken    *repomatch.SourceBroken
		noSuccess *repomatch.NoBuildSuccess
	)
	switch {
	case errors.As(err, &notReady):
		c.logger.InfoContext(ctx, notReady.Error())
		report.Decision = Pending
	case errors.As(err, &broken):
		c.logger.ErrorContext(ctx, broken.Error())
		report.note("**Error**: %s\n", broken)
		report.Decision = Decline
	case errors.As(err, &noSuccess):
		c.logger.InfoContext(ctx, noSuccess.Error())
		report.note("**Error**: %s\n", noSuccess)
		report.Decision = Decline
	default:
		c.unexpected(ctx, report, err)
	}
}

// unexpected leaves the submission open for the next pass.
func (c *Checker) unexpected(ctx context.Context, report *Report, err error) {
	c.logger.ErrorContext(ctx, "check failed", "src", report.SrcProject+"/"+report.SrcPackage, "dst", report.DstProject+"/"+report.DstPackage, "error", err)
	report.Tally.Fail()
	report.Decision = Pending
}

// checkRepo extracts both sides of one matched repository and compares
// every library pair. The extracted trees are removed before it returns.
func (c *Checker) checkRepo(ctx context.Context, mr repomatch.MatchRepo, dst, src extract.Target) RepoResult {
	rr := RepoResult{SrcRepo: mr.SrcRepo, DstRepo: mr.DstRepo, Arch: mr.Arch}
	dst.Repo, dst.Arch = mr.DstRepo, mr.Arch
	src.Repo, src.Arch = mr.SrcRepo, mr.Arch
	defer c.release(ctx, dst)
	defer c.release(ctx, src)

	dstRes, err := c.extractor.Extract(ctx, dst)
	if err != nil {
		rr.fail(err)
		return rr
	}
	if dstRes == nil {
		return rr
	}
	srcRes, err := c.extractor.Extract(ctx, src)
	if err != nil {
		rr.fail(err)
		return rr
	}
	if srcRes == nil {
		if len(dstRes.Libs) > 0 {
			rr.Warnings = append(rr.Warnings, "the submission does not contain any libs anymore")
		}
		return rr
	}

	pairs, gone := pairing.Match(dstRes.Libs, srcRes.Libs)
	for _, lib := range gone {
		rr.Warnings = append(rr.Warnings, lib+" no longer packaged")
	}
	c.logger.DebugContext(ctx, "to diff", "repo", mr.String(), "pairs", pairs)

	for _, p := range pairs {
		out, err := c.differ.Diff(ctx, abitool.Job{
			SrcRepo: mr.SrcRepo,
			DstRepo: mr.DstRepo,
			Arch:    mr.Arch,
			Old:     abitool.Side{Base: dstRes.Base, Lib: p.DstLib, Debug: dstRes.Debug[p.DstLib]},
			New:     abitool.Side{Base: srcRes.Base, Lib: p.SrcLib, Debug: srcRes.Debug[p.SrcLib]},
		})
		if err != nil {
			c.logger.ErrorContext(ctx, fmt.Sprintf("failed to compare %s <> %s", p.DstLib, p.SrcLib), "error", err)
			rr.Failures = append(rr.Failures, fmt.Sprintf("ABI check failed on %s vs %s", p.DstLib, p.SrcLib))
			continue
		}
		rr.Libs = append(rr.Libs, LibResult{
			SrcRepo:    mr.SrcRepo,
			SrcLib:     path.Base(p.SrcLib),
			DstRepo:    mr.DstRepo,
			DstLib:     path.Base(p.DstLib),
			Arch:       mr.Arch,
			Report:     out.Report,
			ReportPath: out.ReportPath,
			Compatible: out.Compatible,
		})
	}
	return rr
}

func (c *Checker) release(ctx context.Context, t extract.Target) {
	if err := c.extractor.Release(t); err != nil {
		c.logger.WarnContext(ctx, "removing extracted files", "target", t.String(), "error", err)
	}
}

func (rr *RepoResult) fail(err error) {
	rr.Err = err
	rr.Error = err.Error()
}

// fold combines the repository results into the report's verdict and
// decision.
func (c *Checker) fold(ctx context.Context, report *Report) {
	var missing []string
	fatal := false
	for _, rr := range report.Repos {
		for _, w := range rr.Warnings {
			report.note("*Warning*: %s\n\n", w)
		}
		for _, f := range rr.Failures {
			report.note("**Error**: %s\n\n", f)
			report.Tally.Fail()
		}
		for _, lr := range rr.Libs {
			report.LibResults = append(report.LibResults, lr)
			report.Tally.Add(lr.Compatible)
		}
		if rr.Err == nil {
			continue
		}
		var mdi *extract.MissingDebugInfo
		if errors.As(rr.Err, &mdi) {
			missing = append(missing, mdi.Entries...)
			fatal = true
			continue
		}
		// Disturl mismatches and fetch failures clear up on a later pass.
		c.logger.ErrorContext(ctx, fmt.Sprintf("%s/%s %s/%s: %v", report.DstProject, report.DstPackage, rr.DstRepo, rr.Arch, rr.Err))
		report.Tally.Fail()
	}
	if len(missing) > 0 {
		report.note("debug information is missing for the following packages, can't check:\n<pre>%s\n</pre>\nplease enable debug info in your project config.\n",
			strings.Join(missing, "\n"))
	}

	report.Overall = report.Tally.Verdict()
	switch {
	case fatal:
		report.Decision = Decline
	case report.Overall == Incompatible && !c.accept:
		report.Decision = Decline
	case report.Overall == Incompatible:
		report.Decision = Accept
	case report.Tally.Failures > 0:
		report.Decision = Pending
	default:
		report.Decision = Accept
	}
}
