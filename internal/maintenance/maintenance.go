package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dshills/abigate/internal/obs"
	"github.com/dshills/abigate/internal/repomatch"
)

var incidentLinkRe = regexp.MustCompile(`.*\.(\d+)$`)

// Error is a fatal maintenance resolution failure.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

// Querier is the part of the build service API the resolver reads.
type Querier interface {
	MaintenanceProject(ctx context.Context, project, attribute string) (string, error)
	BuildResults(ctx context.Context, project, pkg string, repos, archs []string) ([]obs.BuildResult, error)
	LinkTarget(ctx context.Context, project, pkg string) (string, string, error)
	SourceInfo(ctx context.Context, project, pkg, rev string) (*obs.SourceInfo, error)
}

// Finder matches repositories between two projects.
type Finder interface {
	Find(ctx context.Context, in repomatch.Input) (repomatch.Set, error)
}

// Input is the comparison as found by the repository matcher.
type Input struct {
	DstProject string
	DstInfo    *obs.SourceInfo
	Repos      repomatch.Set
}

// Result is the comparison to run. It equals the input when the destination
// is not maintained. Warnings name matched repositories the incident does
// not build for.
type Result struct {
	Project  string
	Package  string
	Info     *obs.SourceInfo
	Repos    repomatch.Set
	Warnings []string
}

// Resolver detects maintenance indirection.
type Resolver struct {
	q         Querier
	finder    Finder
	attribute string
	logger    *slog.Logger
}

// New returns a Resolver that looks up maintenance projects carrying
// attribute.
func New(q Querier, finder Finder, attribute string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{q: q, finder: finder, attribute: attribute, logger: logger}
}

// Resolve returns the comparison target for in. Failures of the nested
// repository match are returned unchanged so callers classify them like
// any other match failure.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Result, error) {
	pkg := in.DstInfo.Package
	res := &Result{Project: in.DstProject, Package: pkg, Info: in.DstInfo, Repos: in.Repos}

	mproject, err := r.q.MaintenanceProject(ctx, in.DstProject, r.attribute)
	if err != nil {
		return nil, fmt.Errorf("searching maintenance project of %s: %w", in.DstProject, err)
	}
	if mproject == "" {
		return res, nil
	}

	if origin := in.DstInfo.OriginProject; origin != "" {
		r.logger.DebugContext(ctx, "origin project", "project", origin)
		results, err := r.q.BuildResults(ctx, in.DstProject, pkg, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("reading build results of %s/%s: %w", in.DstProject, pkg, err)
		}
		for _, br := range results {
			if br.Code != "disabled" {
				return res, nil
			}
		}
		r.logger.DebugContext(ctx, "all repos disabled, using origin project", "project", origin)
		res.Project = origin
		return res, nil
	}

	linkPrj, linkPkg, err := r.q.LinkTarget(ctx, in.DstProject, pkg)
	if err != nil {
		return nil, fmt.Errorf("reading link of %s/%s: %w", in.DstProject, pkg, err)
	}
	if linkPkg == "" || linkPrj != in.DstProject {
		return res, nil
	}
	r.logger.DebugContext(ctx, "package links", "project", in.DstProject, "package", pkg, "target", linkPkg)

	m := incidentLinkRe.FindStringSubmatch(linkPkg)
	if m == nil {
		return nil, &Error{Msg: fmt.Sprintf("%s/%s -> %s/%s is not a proper maintenance link (must match /%s/)",
			in.DstProject, pkg, linkPrj, linkPkg, incidentLinkRe.String())}
	}
	incident := m[1]
	r.logger.DebugContext(ctx, "maintenance incident", "incident", incident)

	originProject := mproject + ":" + incident
	originPackage := pkg + "." + strings.ReplaceAll(in.DstProject, ":", "_")
	originInfo, err := r.q.SourceInfo(ctx, originProject, originPackage, "")
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", originProject, originPackage, err)
	}
	if originInfo == nil {
		return nil, &Error{Msg: fmt.Sprintf("%s/%s invalid", originProject, originPackage)}
	}

	originRepos, err := r.finder.Find(ctx, repomatch.Input{
		SrcProject: originProject,
		Src:        originInfo,
		DstProject: in.DstProject,
	})
	if err != nil {
		if errors.Is(err, repomatch.ErrNoMatch) {
			return nil, &Error{Msg: fmt.Sprintf("%s/%s does not build against %s", originProject, originPackage, in.DstProject)}
		}
		return nil, err
	}
	mapped := make(map[obs.RepoArch]repomatch.MatchRepo, len(originRepos))
	for mr := range originRepos {
		mapped[obs.RepoArch{Repo: mr.DstRepo, Arch: mr.Arch}] = mr
	}

	rewritten := repomatch.NewSet()
	for _, mr := range in.Repos.Sorted() {
		origin, ok := mapped[obs.RepoArch{Repo: mr.DstRepo, Arch: mr.Arch}]
		if !ok {
			// An earlier update may not have covered every architecture.
			msg := fmt.Sprintf("couldn't find repo %s/%s in %s/%s", mr.DstRepo, mr.Arch, originProject, originPackage)
			r.logger.WarnContext(ctx, msg)
			res.Warnings = append(res.Warnings, msg)
			continue
		}
		rewritten.Add(repomatch.MatchRepo{SrcRepo: mr.SrcRepo, DstRepo: origin.SrcRepo, Arch: mr.Arch})
	}
	r.logger.DebugContext(ctx, "new repo map", "repos", rewritten.Sorted())

	res.Project = originProject
	res.Package = originPackage
	res.Info = originInfo
	res.Repos = rewritten
	return res, nil
}
