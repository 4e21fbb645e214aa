package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Policy holds the project-keyed tables that decide which destination
// repositories and architectures take part in a check. Map keys are project
// names or glob patterns such as "SUSE:SLE-11*:Update".
type Policy struct {
	DeniedProjects  []DenyRule                   `yaml:"deniedProjects"`
	Repos           map[string][]string          `yaml:"repos"`
	Archs           map[string][]string          `yaml:"archs"`
	DeniedArchs     map[string][]string          `yaml:"deniedArchs"`
	ProjectAliases  map[string]string            `yaml:"projectAliases"`
	RepoAliases     map[string]map[string]string `yaml:"repoAliases"`
	StagingRepo     string                       `yaml:"stagingRepo"`
	StagingProjects []string                     `yaml:"stagingProjects"`
}

// DenyRule excludes destination projects from checking altogether.
type DenyRule struct {
	Pattern string `yaml:"pattern"`
	Message string `yaml:"message"`
}

// DefaultPolicy returns the built-in tables.
func DefaultPolicy() *Policy {
	return &Policy{
		DeniedProjects: []DenyRule{
			{Pattern: "SUSE:SLE-11*:Update", Message: "abi-checker doesn't support SLE 11"},
		},
		Repos: map[string][]string{
			"openSUSE:Factory":   {"standard", "snapshot"},
			"SUSE:SLE-12:Update": {"standard"},
		},
		Archs: map[string][]string{
			"SUSE:SLE-12:Update": {"i586", "ppc64le", "s390", "s390x", "x86_64"},
		},
		DeniedArchs: map[string][]string{},
		ProjectAliases: map[string]string{
			"openSUSE:Tumbleweed": "openSUSE:Factory",
		},
		RepoAliases: map[string]map[string]string{
			"openSUSE:Factory": {"snapshot": "standard"},
		},
		StagingRepo:     "standard",
		StagingProjects: []string{"openSUSE:Factory"},
	}
}

// LoadPolicy reads a YAML policy file. An empty path yields the defaults.
// Sections missing from the file keep their default values.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every project pattern is well formed.
func (p *Policy) Validate() error {
	var patterns []string
	for _, r := range p.DeniedProjects {
		patterns = append(patterns, r.Pattern)
	}
	patterns = append(patterns, p.StagingProjects...)
	for _, m := range []map[string][]string{p.Repos, p.Archs, p.DeniedArchs} {
		for k := range m {
			patterns = append(patterns, k)
		}
	}
	for k := range p.RepoAliases {
		patterns = append(patterns, k)
	}
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid project pattern %q", pat)
		}
	}
	if p.StagingRepo == "" {
		return fmt.Errorf("stagingRepo must not be empty")
	}
	return nil
}

// Denied reports whether the destination project is excluded from checking
// and the message to log for it.
func (p *Policy) Denied(project string) (string, bool) {
	for _, r := range p.DeniedProjects {
		if matchProject(r.Pattern, project) {
			return r.Message, true
		}
	}
	return "", false
}

// RepoAllowed reports whether a destination repository takes part in checks.
func (p *Policy) RepoAllowed(project, repo string) bool {
	allowed, ok := lookup(p.Repos, project)
	if !ok {
		return true
	}
	return contains(allowed, repo)
}

// ArchAllowed applies the allow list and then the deny list of the project.
func (p *Policy) ArchAllowed(project, arch string) bool {
	if allowed, ok := lookup(p.Archs, project); ok && !contains(allowed, arch) {
		return false
	}
	if denied, ok := lookup(p.DeniedArchs, project); ok && contains(denied, arch) {
		return false
	}
	return true
}

// CanonicalProject resolves project aliases, e.g. a rolling release name to
// the project it is published from.
func (p *Policy) CanonicalProject(project string) string {
	if alias, ok := p.ProjectAliases[project]; ok {
		return alias
	}
	return project
}

// CanonicalRepo resolves repository aliases within a (canonical) project.
func (p *Policy) CanonicalRepo(project, repo string) string {
	project = p.CanonicalProject(project)
	for _, key := range sortedKeys(p.RepoAliases) {
		if !matchProject(key, project) {
			continue
		}
		if alias, ok := p.RepoAliases[key][repo]; ok {
			return alias
		}
	}
	return repo
}

// SameProject compares two project names after alias resolution.
func (p *Policy) SameProject(a, b string) bool {
	return p.CanonicalProject(a) == p.CanonicalProject(b)
}

// HasStaging reports whether submissions to project go through staging.
func (p *Policy) HasStaging(project string) bool {
	for _, pat := range p.StagingProjects {
		if matchProject(pat, p.CanonicalProject(project)) {
			return true
		}
	}
	return false
}

// lookup finds the entry for project, preferring an exact key over patterns.
// Patterns are tried in lexical order so the result is stable.
func lookup(m map[string][]string, project string) ([]string, bool) {
	if v, ok := m[project]; ok {
		return v, true
	}
	for _, key := range sortedKeys(m) {
		if matchProject(key, project) {
			return m[key], true
		}
	}
	return nil, false
}

func matchProject(pattern, project string) bool {
	if pattern == project {
		return true
	}
	ok, err := doublestar.Match(pattern, project)
	return err == nil && ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
