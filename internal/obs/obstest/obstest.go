// Package obstest provides an in-memory build service for tests. It serves
// source info, repository metadata, build results and binaries built with
// rpmtest.
package obstest

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/dshills/abigate/internal/obs"
	"github.com/dshills/abigate/internal/rpmhdr/rpmtest"
)

type binary struct {
	mtime  int64
	data   []byte
	header []byte
}

// Service is a fake build service. The zero value is not usable; call New.
type Service struct {
	mu          sync.Mutex
	sources     map[string]*obs.SourceInfo
	repos       map[string][]obs.Repository
	results     map[string][]obs.BuildResult
	success     map[string][]obs.RepoArch
	maintenance map[string]string
	links       map[string][2]string
	binaries    map[string]map[string]*binary
	downloads   int

	// FailHeaders makes PackedHeaders fail.
	FailHeaders bool
}

// New returns an empty Service.
func New() *Service {
	return &Service{
		sources:     map[string]*obs.SourceInfo{},
		repos:       map[string][]obs.Repository{},
		results:     map[string][]obs.BuildResult{},
		success:     map[string][]obs.RepoArch{},
		maintenance: map[string]string{},
		links:       map[string][2]string{},
		binaries:    map[string]map[string]*binary{},
	}
}

// AddSource registers info as the current revision of its package and under
// each of revs (typically disturl md5s).
func (s *Service) AddSource(info obs.SourceInfo, revs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si := info
	s.sources[info.Project+"/"+info.Package] = &si
	for _, rev := range revs {
		s.sources[info.Project+"/"+info.Package+"@"+rev] = &si
	}
}

// SetRepos sets the repository definitions of project.
func (s *Service) SetRepos(project string, repos ...obs.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[project] = repos
}

// SetResults sets the build results of project/pkg.
func (s *Service) SetResults(project, pkg string, results ...obs.BuildResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[project+"/"+pkg] = results
}

// SetSuccess sets the last-success report of project/pkg.
func (s *Service) SetSuccess(project, pkg string, repos ...obs.RepoArch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.success[project+"/"+pkg] = repos
}

// SetMaintenance declares mproject as the maintenance project of project.
func (s *Service) SetMaintenance(project, mproject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance[project] = mproject
}

// SetLink makes project/pkg a link to linkPrj/linkPkg.
func (s *Service) SetLink(project, pkg, linkPrj, linkPkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[project+"/"+pkg] = [2]string{linkPrj, linkPkg}
}

// AddBinaries publishes built packages for project/repo/arch/pkg.
func (s *Service) AddBinaries(project, repo, arch, pkg string, mtime int64, pkgs ...rpmtest.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := path.Join(project, repo, arch, pkg)
	if s.binaries[key] == nil {
		s.binaries[key] = map[string]*binary{}
	}
	for _, p := range pkgs {
		s.binaries[key][Filename(p)] = &binary{mtime: mtime, data: rpmtest.Build(p), header: rpmtest.Header(p)}
	}
}

// Downloads returns how many binaries were downloaded.
func (s *Service) Downloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads
}

// Filename returns the file name a package is published under.
func Filename(p rpmtest.Package) string {
	arch := p.Arch
	if p.Source {
		arch = "src"
	}
	return fmt.Sprintf("%s-%s-%s.%s.rpm", p.Name, p.Version, p.Release, arch)
}

func (s *Service) SourceInfo(_ context.Context, project, pkg, rev string) (*obs.SourceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := project + "/" + pkg
	if rev != "" {
		key += "@" + rev
	}
	return s.sources[key], nil
}

func (s *Service) BuildResults(_ context.Context, project, pkg string, _, _ []string) ([]obs.BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[project+"/"+pkg], nil
}

func (s *Service) LastBuildSuccess(_ context.Context, project, _, pkg, _ string) ([]obs.RepoArch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.success[project+"/"+pkg]
	if !ok {
		return nil, obs.ErrNotFound
	}
	return r, nil
}

func (s *Service) ProjectRepos(_ context.Context, project string) ([]obs.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[project]
	if !ok {
		return nil, obs.ErrNotFound
	}
	return r, nil
}

func (s *Service) MaintenanceProject(_ context.Context, project, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance[project], nil
}

func (s *Service) LinkTarget(_ context.Context, project, pkg string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.links[project+"/"+pkg]
	return l[0], l[1], nil
}

func (s *Service) BinaryListing(_ context.Context, project, repo, arch, pkg string) ([]obs.Binary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bins, ok := s.binaries[path.Join(project, repo, arch, pkg)]
	if !ok {
		return nil, obs.ErrNotFound
	}
	out := make([]obs.Binary, 0, len(bins))
	for name, b := range bins {
		out = append(out, obs.Binary{Filename: name, Size: int64(len(b.data)), Mtime: b.mtime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (s *Service) PackedHeaders(_ context.Context, project, repo, arch, pkg string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailHeaders {
		return nil, fmt.Errorf("502 bad gateway")
	}
	entries := map[string][]byte{".errors": {}}
	for name, b := range s.binaries[path.Join(project, repo, arch, pkg)] {
		entries[fmt.Sprintf("%s-%x", name, md5.Sum([]byte(name)))] = b.header
	}
	return io.NopCloser(bytes.NewReader(rpmtest.HeaderArchive(entries))), nil
}

func (s *Service) DownloadBinary(_ context.Context, project, repo, arch, pkg, filename string, w io.Writer) error {
	s.mu.Lock()
	b, ok := s.binaries[path.Join(project, repo, arch, pkg)][filename]
	if ok {
		s.downloads++
	}
	s.mu.Unlock()
	if !ok {
		return &os.PathError{Op: "download", Path: filename, Err: fs.ErrNotExist}
	}
	_, err := w.Write(b.data)
	return err
}
