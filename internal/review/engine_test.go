package review

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/abigate/internal/abitool"
	"github.com/dshills/abigate/internal/cache"
	"github.com/dshills/abigate/internal/extract"
	"github.com/dshills/abigate/internal/obs"
	"github.com/dshills/abigate/internal/obs/obstest"
	"github.com/dshills/abigate/internal/rpmhdr/rpmtest"
)

const (
	dstPrj  = "devel:libs"
	srcPrj  = "home:alice:branches:devel:libs"
	pkgName = "libfoo"
	repo    = "openSUSE_Tumbleweed"
	md5Dst  = "0123456789abcdef0123456789abcdef"
	md5Src  = "fedcba9876543210fedcba9876543210"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeRunner stands in for the ABI tools. Dumps always succeed.
type fakeRunner struct {
	compareCode int
	compared    []string
}

func (f *fakeRunner) Run(_ context.Context, _, name string, args ...string) (int, string, error) {
	if name == "abi-dumper" {
		return 0, "", os.WriteFile(args[1], []byte("dump"), 0o644)
	}
	f.compared = append(f.compared, args[1])
	return f.compareCode, "", nil
}

type fixture struct {
	svc     *obstest.Service
	runner  *fakeRunner
	root    string
	checker *Checker
	opts    Options
	logger  *slog.Logger
}

func newFixture(t *testing.T, archs ...string) *fixture {
	t.Helper()
	if len(archs) == 0 {
		archs = []string{"x86_64"}
	}
	svc := obstest.New()
	svc.SetRepos(dstPrj, obs.Repository{Name: repo, Archs: archs})
	svc.SetRepos(srcPrj, obs.Repository{Name: repo, Paths: []obs.RepoPath{{Project: dstPrj, Repository: repo}}, Archs: archs})
	var results []obs.BuildResult
	var success []obs.RepoArch
	for _, arch := range archs {
		results = append(results, obs.BuildResult{Project: srcPrj, Package: pkgName, Repo: repo, Arch: arch, Code: "succeeded"})
		success = append(success, obs.RepoArch{Repo: repo, Arch: arch})
	}
	svc.SetResults(srcPrj, pkgName, results...)
	svc.SetSuccess(srcPrj, pkgName, success...)
	svc.AddSource(obs.SourceInfo{Project: dstPrj, Package: pkgName, SrcMD5: md5Dst, VerifyMD5: "d1"}, md5Dst)
	svc.AddSource(obs.SourceInfo{Project: srcPrj, Package: pkgName, SrcMD5: md5Src, VerifyMD5: "s1"}, md5Src)

	f := &fixture{svc: svc, runner: &fakeRunner{}, root: t.TempDir(), logger: discard}
	f.build(t)
	return f
}

func (f *fixture) build(t *testing.T) {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	ex := extract.New(f.svc, c, f.root, nil, f.logger)
	tool := abitool.New(f.runner, "abi-dumper", "abi-compliance-checker", t.TempDir(), filepath.Join(t.TempDir(), "reports"), f.logger)
	f.opts.Logger = f.logger
	f.checker = NewChecker(f.svc, ex, tool, f.opts)
}

func rpm(prj, md5, arch, name string, files ...rpmtest.File) rpmtest.Package {
	return rpmtest.Package{
		Name:    name,
		Version: "1.0",
		Release: "1.1",
		Arch:    arch,
		DistURL: fmt.Sprintf("obs://build.example.org/%s/%s/%s-%s", prj, repo, md5, pkgName),
		Files:   files,
	}
}

func file(name string) rpmtest.File { return rpmtest.File{Name: name, Body: []byte("content of " + name)} }

// publishOld publishes libfoo.so.1 with debug info in the destination.
func (f *fixture) publishOld(arch, md5 string) {
	f.svc.AddBinaries(dstPrj, repo, arch, pkgName, 1700000000,
		rpm(dstPrj, md5, arch, "libfoo1", file("/usr/lib64/libfoo.so.1")),
		rpm(dstPrj, md5, arch, "libfoo1-debuginfo", file("/usr/lib/debug/usr/lib64/libfoo.so.1.debug")),
	)
}

// publishNew publishes libfoo.so.2, still reachable as libfoo.so.1, in the
// submission.
func (f *fixture) publishNew(arch string) {
	f.svc.AddBinaries(srcPrj, repo, arch, pkgName, 1700000100,
		rpm(srcPrj, md5Src, arch, "libfoo2",
			file("/usr/lib64/libfoo.so.2"),
			rpmtest.File{Name: "/usr/lib64/libfoo.so.1", Link: "libfoo.so.2"},
		),
		rpm(srcPrj, md5Src, arch, "libfoo2-debuginfo", file("/usr/lib/debug/usr/lib64/libfoo.so.2.debug")),
	)
}

var submission = Submission{
	SrcProject: srcPrj,
	SrcPackage: pkgName,
	SrcRev:     md5Src,
	DstProject: dstPrj,
	DstPackage: pkgName,
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestCheckSonameChange(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		accept       bool
		wantCompat   bool
		wantOverall  Verdict
		wantDecision Decision
	}{
		{"compatible", 0, false, true, Compatible, Accept},
		{"incompatible", 1, false, false, Incompatible, Decline},
		{"incompatible accepted", 1, true, false, Incompatible, Accept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.opts.AcceptIncompatible = tt.accept
			f.build(t)
			f.runner.compareCode = tt.code
			f.publishOld("x86_64", md5Dst)
			f.publishNew("x86_64")

			r := f.checker.Check(context.Background(), submission)

			require.Len(t, r.LibResults, 1)
			lr := r.LibResults[0]
			assert.Equal(t, "libfoo.so.1", lr.DstLib)
			assert.Equal(t, "libfoo.so.2", lr.SrcLib)
			assert.Equal(t, repo, lr.SrcRepo)
			assert.Equal(t, repo, lr.DstRepo)
			assert.Equal(t, "x86_64", lr.Arch)
			assert.Equal(t, tt.wantCompat, lr.Compatible)
			assert.True(t, strings.HasPrefix(lr.Report, "report-"+repo+"-libfoo.so.1-"+repo+"-libfoo.so.2-x86_64-"), lr.Report)
			assert.Equal(t, tt.wantOverall, r.Overall)
			assert.Equal(t, tt.wantDecision, r.Decision)
			assert.Equal(t, []string{"foo"}, f.runner.compared)
			assert.Zero(t, countFiles(t, f.root), "extracted files left behind")
		})
	}
}

func TestCheckToolFailureStaysOpen(t *testing.T) {
	f := newFixture(t)
	f.runner.compareCode = 2
	f.publishOld("x86_64", md5Dst)
	f.publishNew("x86_64")

	r := f.checker.Check(context.Background(), submission)

	assert.Empty(t, r.LibResults)
	assert.Equal(t, Unknown, r.Overall)
	assert.Equal(t, Pending, r.Decision)
	assert.Equal(t, []string{"**Error**: ABI check failed on /usr/lib64/libfoo.so.1 vs /usr/lib64/libfoo.so.2\n\n"}, r.Notes)
}

func TestCheckMismatchAfterCompatibleIsUnknown(t *testing.T) {
	f := newFixture(t, "aarch64", "x86_64")
	f.publishOld("aarch64", md5Dst)
	f.publishNew("aarch64")
	// Built from a superseded revision the service no longer knows.
	f.publishOld("x86_64", "99999999999999999999999999999999")
	f.publishNew("x86_64")

	r := f.checker.Check(context.Background(), submission)

	require.Len(t, r.Repos, 2)
	assert.Empty(t, r.Repos[0].Error)
	var mismatch *extract.DistURLMismatch
	assert.ErrorAs(t, r.Repos[1].Err, &mismatch)
	require.Len(t, r.LibResults, 1)
	assert.True(t, r.LibResults[0].Compatible)
	assert.Equal(t, Unknown, r.Overall)
	assert.Equal(t, Pending, r.Decision)
}

func TestCheckMissingDebugInfoDeclines(t *testing.T) {
	f := newFixture(t)
	f.svc.AddBinaries(dstPrj, repo, "x86_64", pkgName, 1, rpm(dstPrj, md5Dst, "x86_64", "libfoo1", file("/usr/lib64/libfoo.so.1")))
	f.publishNew("x86_64")

	r := f.checker.Check(context.Background(), submission)

	assert.Equal(t, Decline, r.Decision)
	require.Len(t, r.Notes, 1)
	assert.Contains(t, r.Notes[0], "debug information is missing for the following packages, can't check:\n<pre>")
	assert.Contains(t, r.Notes[0], dstPrj+"/"+pkgName+" "+repo+"/x86_64 libfoo1")
	assert.Contains(t, r.Notes[0], "please enable debug info in your project config.")
}

func TestCheckSubmissionWithoutLibs(t *testing.T) {
	f := newFixture(t)
	f.publishOld("x86_64", md5Dst)
	f.svc.AddBinaries(srcPrj, repo, "x86_64", pkgName, 1, rpm(srcPrj, md5Src, "x86_64", "foo-tools", file("/usr/bin/foo")))

	r := f.checker.Check(context.Background(), submission)

	assert.Equal(t, Accept, r.Decision)
	assert.Equal(t, []string{"*Warning*: the submission does not contain any libs anymore\n\n"}, r.Notes)
}

func TestCheckLibraryDropped(t *testing.T) {
	f := newFixture(t)
	f.publishOld("x86_64", md5Dst)
	f.svc.AddBinaries(srcPrj, repo, "x86_64", pkgName, 1,
		rpm(srcPrj, md5Src, "x86_64", "libbar1", file("/usr/lib64/libbar.so.1")),
		rpm(srcPrj, md5Src, "x86_64", "libbar1-debuginfo", file("/usr/lib/debug/usr/lib64/libbar.so.1.debug")),
	)

	r := f.checker.Check(context.Background(), submission)

	assert.Empty(t, r.LibResults)
	assert.Equal(t, []string{"*Warning*: /usr/lib64/libfoo.so.1 no longer packaged\n\n"}, r.Notes)
	assert.Equal(t, Accept, r.Decision)
	assert.Empty(t, f.runner.compared)
}

func TestCheckEarlyExits(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(*fixture)
		sub          func(Submission) Submission
		wantDecision Decision
		wantSkipped  bool
		wantNote     string
	}{
		{
			name:         "new package",
			sub:          func(s Submission) Submission { s.DstPackage = "libnew"; return s },
			wantDecision: Accept,
		},
		{
			name:         "missing source revision",
			sub:          func(s Submission) Submission { s.SrcRev = "nope"; return s },
			wantDecision: Decline,
			wantNote:     srcPrj + "/" + pkgName + "@nope does not exist!? can't check\n",
		},
		{
			name:         "denied project",
			sub:          func(s Submission) Submission { s.DstProject = "SUSE:SLE-11-SP4:Update"; return s },
			wantDecision: Accept,
			wantSkipped:  true,
		},
		{
			name:         "patchinfo",
			sub:          func(s Submission) Submission { s.DstProject = ""; s.SrcPackage = "patchinfo"; return s },
			wantDecision: Pending,
			wantSkipped:  true,
		},
		{
			name:         "not staged yet",
			sub:          func(s Submission) Submission { s.DstProject = "openSUSE:Factory"; return s },
			wantDecision: Pending,
			wantSkipped:  true,
		},
		{
			name: "not ready",
			setup: func(f *fixture) {
				f.svc.SetResults(srcPrj, pkgName, obs.BuildResult{Project: srcPrj, Package: pkgName, Repo: repo, Arch: "x86_64", Code: "building"})
			},
			wantDecision: Pending,
		},
		{
			name: "broken sources",
			setup: func(f *fixture) {
				f.svc.SetResults(srcPrj, pkgName, obs.BuildResult{Project: srcPrj, Package: pkgName, Repo: repo, Arch: "x86_64", Code: "broken"})
			},
			wantDecision: Decline,
			wantNote:     "**Error**: " + srcPrj + "/" + pkgName + " has broken sources, needs rebase\n",
		},
		{
			name: "no common repositories",
			setup: func(f *fixture) {
				f.svc.SetRepos(srcPrj, obs.Repository{Name: "SLE_15", Paths: []obs.RepoPath{{Project: "SUSE:SLE-15:GA", Repository: "standard"}}, Archs: []string{"x86_64"}})
			},
			wantDecision: Decline,
			wantNote:     "**Error**: " + srcPrj + " does not build against " + dstPrj + ", can't check library ABIs\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.publishOld("x86_64", md5Dst)
			f.publishNew("x86_64")
			if tt.setup != nil {
				tt.setup(f)
			}
			sub := submission
			if tt.sub != nil {
				sub = tt.sub(sub)
			}

			r := f.checker.Check(context.Background(), sub)

			assert.Equal(t, tt.wantDecision, r.Decision)
			assert.Equal(t, tt.wantSkipped, r.Skipped)
			assert.Empty(t, r.LibResults)
			if tt.wantNote == "" {
				assert.Empty(t, r.Notes)
			} else {
				assert.Equal(t, []string{tt.wantNote}, r.Notes)
			}
		})
	}
}

func TestCheckStagedSubmission(t *testing.T) {
	const staging = "openSUSE:Factory:Staging:A"
	f := newFixture(t)
	f.svc.SetRepos("openSUSE:Factory", obs.Repository{Name: "standard", Archs: []string{"x86_64"}})
	f.svc.SetRepos(staging, obs.Repository{Name: "standard", Paths: []obs.RepoPath{{Project: staging, Repository: "bootstrap"}}, Archs: []string{"x86_64"}})
	f.svc.SetResults(staging, pkgName, obs.BuildResult{Project: staging, Package: pkgName, Repo: "standard", Arch: "x86_64", Code: "succeeded"})
	f.svc.SetSuccess(staging, pkgName, obs.RepoArch{Repo: "standard", Arch: "x86_64"})
	f.svc.AddSource(obs.SourceInfo{Project: "openSUSE:Factory", Package: pkgName, VerifyMD5: "d1"}, md5Dst)
	f.svc.AddSource(obs.SourceInfo{Project: staging, Package: pkgName, VerifyMD5: "s1"}, md5Src)
	f.svc.AddBinaries("openSUSE:Factory", "standard", "x86_64", pkgName, 1,
		rpm("openSUSE:Factory", md5Dst, "x86_64", "libfoo1", file("/usr/lib64/libfoo.so.1")),
		rpm("openSUSE:Factory", md5Dst, "x86_64", "libfoo1-debuginfo", file("/usr/lib/debug/usr/lib64/libfoo.so.1.debug")),
	)
	f.svc.AddBinaries(staging, "standard", "x86_64", pkgName, 1,
		rpm(staging, md5Src, "x86_64", "libfoo1", file("/usr/lib64/libfoo.so.1")),
		rpm(staging, md5Src, "x86_64", "libfoo1-debuginfo", file("/usr/lib/debug/usr/lib64/libfoo.so.1.debug")),
	)

	r := f.checker.Check(context.Background(), Submission{
		SrcProject:     "home:alice",
		SrcPackage:     "libfoo-fork",
		SrcRev:         "3",
		DstProject:     "openSUSE:Factory",
		DstPackage:     pkgName,
		StagingProject: staging,
	})

	assert.Equal(t, staging, r.SrcProject)
	assert.Equal(t, pkgName, r.SrcPackage)
	assert.Empty(t, r.SrcRev)
	require.Len(t, r.LibResults, 1)
	assert.Equal(t, "libfoo.so.1", r.LibResults[0].SrcLib)
	assert.Equal(t, Accept, r.Decision)
}

func TestCheckMaintenanceIncidentWarnsMissingRepo(t *testing.T) {
	const (
		incident = "Maint:1234"
		incPkg   = "libfoo.devel_libs"
	)
	f := newFixture(t, "aarch64", "x86_64")
	f.svc.SetMaintenance(dstPrj, "Maint")
	f.svc.SetLink(dstPrj, pkgName, dstPrj, "libfoo.1234")
	f.svc.AddSource(obs.SourceInfo{Project: incident, Package: incPkg, SrcMD5: md5Dst, VerifyMD5: "i1"})
	// The incident only built for x86_64.
	f.svc.SetRepos(incident, obs.Repository{
		Name:  "devel_libs_Update",
		Paths: []obs.RepoPath{{Project: dstPrj, Repository: repo}},
		Archs: []string{"x86_64"},
	})
	f.svc.SetResults(incident, incPkg, obs.BuildResult{Project: incident, Package: incPkg, Repo: "devel_libs_Update", Arch: "x86_64", Code: "succeeded"})
	f.svc.SetSuccess(incident, incPkg, obs.RepoArch{Repo: "devel_libs_Update", Arch: "x86_64"})

	r := f.checker.Check(context.Background(), submission)

	assert.Contains(t, r.Notes, "*Warning*: couldn't find repo "+repo+"/aarch64 in "+incident+"/"+incPkg+"\n\n")
	require.Len(t, r.Repos, 1)
	assert.Equal(t, "devel_libs_Update", r.Repos[0].DstRepo)
	assert.Equal(t, "x86_64", r.Repos[0].Arch)
}
