package repomatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/obs"
)

// MatchRepo pairs a source repository with the destination repository it
// builds against, for one architecture.
type MatchRepo struct {
	SrcRepo string `json:"srcRepo"`
	DstRepo string `json:"dstRepo"`
	Arch    string `json:"arch"`
}

func (m MatchRepo) String() string {
	return fmt.Sprintf("%s->%s/%s", m.SrcRepo, m.DstRepo, m.Arch)
}

// Set is a deduplicated collection of MatchRepo values.
type Set map[MatchRepo]struct{}

// NewSet returns a Set holding mrs.
func NewSet(mrs ...MatchRepo) Set {
	s := make(Set, len(mrs))
	for _, mr := range mrs {
		s.Add(mr)
	}
	return s
}

// Add inserts mr.
func (s Set) Add(mr MatchRepo) { s[mr] = struct{}{} }

// Has reports whether mr is in the set.
func (s Set) Has(mr MatchRepo) bool {
	_, ok := s[mr]
	return ok
}

// Sorted returns the members ordered by source repo, destination repo and
// arch.
func (s Set) Sorted() []MatchRepo {
	out := make([]MatchRepo, 0, len(s))
	for mr := range s {
		out = append(out, mr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SrcRepo != b.SrcRepo {
			return a.SrcRepo < b.SrcRepo
		}
		if a.DstRepo != b.DstRepo {
			return a.DstRepo < b.DstRepo
		}
		return a.Arch < b.Arch
	})
	return out
}

// Querier is the part of the build service API the matcher reads.
type Querier interface {
	ProjectRepos(ctx context.Context, project string) ([]obs.Repository, error)
	BuildResults(ctx context.Context, project, pkg string, repos, archs []string) ([]obs.BuildResult, error)
	LastBuildSuccess(ctx context.Context, project, pathProject, pkg, srcmd5 string) ([]obs.RepoArch, error)
}

// Input names the two sides of a comparison.
type Input struct {
	SrcProject string
	Src        *obs.SourceInfo
	DstProject string
	// Staging restricts matching to the policy's staging repository across
	// all of the source project's architectures.
	Staging bool
}

// Matcher finds comparable repositories.
type Matcher struct {
	q      Querier
	policy *config.Policy
	logger *slog.Logger
}

// New returns a Matcher. A nil policy uses the built-in defaults.
func New(q Querier, policy *config.Policy, logger *slog.Logger) *Matcher {
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{q: q, policy: policy, logger: logger}
}

// Find returns the matched triples once every one of them is settled and
// built successfully. It returns ErrNoMatch when nothing matches, and
// *NotReadyYet, *SourceBroken or *NoBuildSuccess when the builds are not
// usable.
func (m *Matcher) Find(ctx context.Context, in Input) (Set, error) {
	if in.Src == nil {
		return nil, fmt.Errorf("no source info for %s", in.SrcProject)
	}
	dst, err := m.destinationRepos(ctx, in.DstProject)
	if err != nil {
		return nil, err
	}

	srcRepos, err := m.q.ProjectRepos(ctx, in.SrcProject)
	if err != nil {
		if errors.Is(err, obs.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", in.SrcProject, ErrNoMatch)
		}
		return nil, fmt.Errorf("reading repositories of %s: %w", in.SrcProject, err)
	}

	matched := NewSet()
	if in.Staging {
		name := m.policy.StagingRepo
		for _, repo := range srcRepos {
			if repo.Name != name {
				continue
			}
			for _, arch := range repo.Archs {
				if actual, ok := dst.lookup(m.policy.CanonicalRepo(in.DstProject, name), arch); ok {
					matched.Add(MatchRepo{SrcRepo: name, DstRepo: actual, Arch: arch})
				}
			}
		}
	} else {
		for _, repo := range srcRepos {
			if len(repo.Paths) != 1 {
				m.logger.WarnContext(ctx, "skipping repository without a single path", "project", in.SrcProject, "repo", repo.Name, "paths", len(repo.Paths))
				continue
			}
			path := repo.Paths[0]
			if !m.policy.SameProject(path.Project, in.DstProject) {
				continue
			}
			dstName := m.policy.CanonicalRepo(path.Project, path.Repository)
			for _, arch := range repo.Archs {
				if actual, ok := dst.lookup(dstName, arch); ok {
					matched.Add(MatchRepo{SrcRepo: repo.Name, DstRepo: actual, Arch: arch})
				}
			}
		}
	}

	if len(matched) == 0 {
		return nil, fmt.Errorf("%s against %s: %w", in.SrcProject, in.DstProject, ErrNoMatch)
	}
	m.logger.DebugContext(ctx, "matched repositories", "src", in.SrcProject, "dst", in.DstProject, "repos", matched.Sorted())

	if err := m.ensureSettled(ctx, in.SrcProject, in.Src.Package, matched); err != nil {
		return nil, err
	}
	if err := m.ensureBuilt(ctx, in, matched); err != nil {
		return nil, err
	}
	return matched, nil
}

// repoIndex maps (canonical repo, arch) to the destination's own repo name.
type repoIndex map[obs.RepoArch]string

func (ix repoIndex) lookup(canonical, arch string) (string, bool) {
	name, ok := ix[obs.RepoArch{Repo: canonical, Arch: arch}]
	return name, ok
}

func (m *Matcher) destinationRepos(ctx context.Context, project string) (repoIndex, error) {
	repos, err := m.q.ProjectRepos(ctx, project)
	if err != nil {
		if errors.Is(err, obs.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", project, ErrNoMatch)
		}
		return nil, fmt.Errorf("reading repositories of %s: %w", project, err)
	}
	ix := repoIndex{}
	for _, repo := range repos {
		if !m.policy.RepoAllowed(project, repo.Name) {
			continue
		}
		canonical := m.policy.CanonicalRepo(project, repo.Name)
		for _, arch := range repo.Archs {
			if !m.policy.ArchAllowed(project, arch) {
				continue
			}
			key := obs.RepoArch{Repo: canonical, Arch: arch}
			// A repo named like its canonical form wins over its aliases.
			if existing, ok := ix[key]; ok && existing == canonical {
				continue
			}
			ix[key] = repo.Name
		}
	}
	return ix, nil
}

// ensureSettled requires a final, clean build result for every triple. A
// broken source wins over any not-ready state.
func (m *Matcher) ensureSettled(ctx context.Context, project, pkg string, matched Set) error {
	var repos, archs []string
	for mr := range matched {
		repos = append(repos, mr.SrcRepo)
		archs = append(archs, mr.Arch)
	}
	results, err := m.q.BuildResults(ctx, project, pkg, repos, archs)
	if err != nil {
		return fmt.Errorf("reading build results of %s/%s: %w", project, pkg, err)
	}
	byRepo := make(map[obs.RepoArch]obs.BuildResult, len(results))
	for _, r := range results {
		if r.Package != pkg {
			continue
		}
		byRepo[obs.RepoArch{Repo: r.Repo, Arch: r.Arch}] = r
	}

	var notReady *NotReadyYet
	for _, mr := range matched.Sorted() {
		r, ok := byRepo[obs.RepoArch{Repo: mr.SrcRepo, Arch: mr.Arch}]
		var reason string
		switch {
		case !ok:
			reason = "no result"
		case r.Code == "broken":
			return &SourceBroken{Project: project, Package: pkg}
		case r.Dirty:
			reason = "dirty"
		case r.Code == "succeeded", r.Code == "locked", r.Code == "excluded":
			continue
		default:
			reason = r.Code
		}
		m.logger.WarnContext(ctx, "build not settled", "repo", mr.SrcRepo, "arch", mr.Arch, "reason", reason)
		if notReady == nil {
			notReady = &NotReadyYet{Project: project, Package: pkg, Reason: reason}
		}
	}
	if notReady != nil {
		return notReady
	}
	return nil
}

// ensureBuilt requires the submitted revision to have built successfully in
// every matched source repository and arch.
func (m *Matcher) ensureBuilt(ctx context.Context, in Input, matched Set) error {
	pkg := in.Src.Package
	success, err := m.q.LastBuildSuccess(ctx, in.SrcProject, in.DstProject, pkg, in.Src.VerifyMD5)
	if err != nil {
		if errors.Is(err, obs.ErrNotFound) {
			return &NotReadyYet{Project: in.SrcProject, Package: pkg, Reason: "no build success"}
		}
		return fmt.Errorf("reading build success of %s/%s: %w", in.SrcProject, pkg, err)
	}
	if len(success) == 0 {
		return &NoBuildSuccess{Project: in.SrcProject, Package: pkg, MD5: in.Src.VerifyMD5}
	}
	built := make(map[obs.RepoArch]bool, len(success))
	for _, ra := range success {
		built[ra] = true
	}
	for _, mr := range matched.Sorted() {
		if !built[obs.RepoArch{Repo: mr.SrcRepo, Arch: mr.Arch}] {
			m.logger.ErrorContext(ctx, "no build success", "repo", mr.SrcRepo, "arch", mr.Arch)
			return &NoBuildSuccess{Project: in.SrcProject, Package: pkg, MD5: in.Src.VerifyMD5}
		}
	}
	return nil
}
