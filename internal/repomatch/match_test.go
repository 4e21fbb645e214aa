package repomatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/obs"
)

type fakeQuerier struct {
	repos    map[string][]obs.Repository
	results  []obs.BuildResult
	success  []obs.RepoArch
	noReport bool
	calls    []string
}

func (f *fakeQuerier) ProjectRepos(_ context.Context, project string) ([]obs.Repository, error) {
	f.calls = append(f.calls, "meta "+project)
	r, ok := f.repos[project]
	if !ok {
		return nil, obs.ErrNotFound
	}
	return r, nil
}

func (f *fakeQuerier) BuildResults(_ context.Context, project, pkg string, _, _ []string) ([]obs.BuildResult, error) {
	f.calls = append(f.calls, "results "+project+"/"+pkg)
	return f.results, nil
}

func (f *fakeQuerier) LastBuildSuccess(_ context.Context, project, pathProject, pkg, srcmd5 string) ([]obs.RepoArch, error) {
	f.calls = append(f.calls, fmt.Sprintf("lastsuccess %s %s %s %s", project, pathProject, pkg, srcmd5))
	if f.noReport {
		return nil, obs.ErrNotFound
	}
	return f.success, nil
}

func repo(name, pathPrj, pathRepo string, archs ...string) obs.Repository {
	r := obs.Repository{Name: name, Archs: archs}
	if pathPrj != "" {
		r.Paths = []obs.RepoPath{{Project: pathPrj, Repository: pathRepo}}
	}
	return r
}

func succeeded(repo string, archs ...string) []obs.BuildResult {
	var out []obs.BuildResult
	for _, a := range archs {
		out = append(out, obs.BuildResult{Package: "foo", Repo: repo, Arch: a, Code: "succeeded"})
	}
	return out
}

func built(repo string, archs ...string) []obs.RepoArch {
	var out []obs.RepoArch
	for _, a := range archs {
		out = append(out, obs.RepoArch{Repo: repo, Arch: a})
	}
	return out
}

var srcInfo = &obs.SourceInfo{Project: "home:u:branches", Package: "foo", VerifyMD5: "feedfacefeedfacefeedfacefeedface"}

func newMatcher(q Querier) *Matcher {
	return New(q, config.DefaultPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func factory() []obs.Repository {
	return []obs.Repository{
		repo("standard", "", "", "x86_64", "i586"),
		repo("snapshot", "", "", "x86_64"),
		repo("ports", "", "", "aarch64"),
	}
}

func TestFindMatchesThroughSnapshotAlias(t *testing.T) {
	q := &fakeQuerier{
		repos: map[string][]obs.Repository{
			"openSUSE:Factory": factory(),
			"home:u:branches": {
				repo("openSUSE_Factory", "openSUSE:Factory", "snapshot", "x86_64", "i586"),
				repo("other", "home:x", "standard", "x86_64"),
				{Name: "multi", Archs: []string{"x86_64"}, Paths: []obs.RepoPath{
					{Project: "openSUSE:Factory", Repository: "standard"},
					{Project: "openSUSE:Factory", Repository: "snapshot"},
				}},
			},
		},
		results: succeeded("openSUSE_Factory", "x86_64", "i586"),
		success: built("openSUSE_Factory", "x86_64", "i586"),
	}

	got, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "openSUSE:Factory"})
	require.NoError(t, err)
	assert.Equal(t, []MatchRepo{
		{SrcRepo: "openSUSE_Factory", DstRepo: "standard", Arch: "i586"},
		{SrcRepo: "openSUSE_Factory", DstRepo: "standard", Arch: "x86_64"},
	}, got.Sorted())
	assert.Contains(t, q.calls, "lastsuccess home:u:branches openSUSE:Factory foo feedfacefeedfacefeedfacefeedface")
}

func TestFindRollingAliasBothDirections(t *testing.T) {
	t.Run("source paths to rolling name", func(t *testing.T) {
		q := &fakeQuerier{
			repos: map[string][]obs.Repository{
				"openSUSE:Factory": factory(),
				"home:u:branches":  {repo("tw", "openSUSE:Tumbleweed", "standard", "x86_64")},
			},
			results: succeeded("tw", "x86_64"),
			success: built("tw", "x86_64"),
		}
		got, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "openSUSE:Factory"})
		require.NoError(t, err)
		assert.True(t, got.Has(MatchRepo{SrcRepo: "tw", DstRepo: "standard", Arch: "x86_64"}))
		assert.Len(t, got, 1)
	})

	t.Run("destination is rolling name", func(t *testing.T) {
		q := &fakeQuerier{
			repos: map[string][]obs.Repository{
				"openSUSE:Tumbleweed": {repo("snapshot", "", "", "x86_64")},
				"home:u:branches":     {repo("fac", "openSUSE:Factory", "standard", "x86_64")},
			},
			results: succeeded("fac", "x86_64"),
			success: built("fac", "x86_64"),
		}
		got, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "openSUSE:Tumbleweed"})
		require.NoError(t, err)
		assert.Equal(t, []MatchRepo{{SrcRepo: "fac", DstRepo: "snapshot", Arch: "x86_64"}}, got.Sorted())
	})
}

func TestFindHonorsArchAllowList(t *testing.T) {
	q := &fakeQuerier{
		repos: map[string][]obs.Repository{
			"SUSE:SLE-12:Update": {repo("standard", "", "", "x86_64", "aarch64"), repo("extra", "", "", "x86_64")},
			"home:u:branches":    {repo("sle", "SUSE:SLE-12:Update", "standard", "x86_64", "aarch64"), repo("sle-extra", "SUSE:SLE-12:Update", "extra", "x86_64")},
		},
		results: succeeded("sle", "x86_64"),
		success: built("sle", "x86_64"),
	}
	got, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "SUSE:SLE-12:Update"})
	require.NoError(t, err)
	assert.Equal(t, []MatchRepo{{SrcRepo: "sle", DstRepo: "standard", Arch: "x86_64"}}, got.Sorted())
}

func TestFindNoMatch(t *testing.T) {
	q := &fakeQuerier{repos: map[string][]obs.Repository{
		"openSUSE:Factory": factory(),
		"home:u:branches":  {repo("other", "home:x", "standard", "x86_64")},
	}}
	_, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "openSUSE:Factory"})
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "does:not:exist"})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestFindStaging(t *testing.T) {
	q := &fakeQuerier{
		repos: map[string][]obs.Repository{
			"openSUSE:Factory":           factory(),
			"openSUSE:Factory:Staging:A": {repo("standard", "openSUSE:Factory:Staging:A", "bootstrap", "x86_64", "i586"), repo("images", "", "", "x86_64")},
		},
		results: succeeded("standard", "x86_64", "i586"),
		success: built("standard", "x86_64", "i586"),
	}
	got, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "openSUSE:Factory:Staging:A", Src: srcInfo, DstProject: "openSUSE:Factory", Staging: true})
	require.NoError(t, err)
	assert.Equal(t, []MatchRepo{
		{SrcRepo: "standard", DstRepo: "standard", Arch: "i586"},
		{SrcRepo: "standard", DstRepo: "standard", Arch: "x86_64"},
	}, got.Sorted())
}

func TestSettledness(t *testing.T) {
	repos := map[string][]obs.Repository{
		"openSUSE:Factory": factory(),
		"home:u:branches":  {repo("f", "openSUSE:Factory", "standard", "x86_64", "i586")},
	}
	tests := []struct {
		name    string
		results []obs.BuildResult
		check   func(t *testing.T, err error)
	}{
		{
			name: "broken wins over dirty",
			results: []obs.BuildResult{
				{Package: "foo", Repo: "f", Arch: "i586", Code: "succeeded", Dirty: true},
				{Package: "foo", Repo: "f", Arch: "x86_64", Code: "broken"},
			},
			check: func(t *testing.T, err error) {
				var sb *SourceBroken
				require.ErrorAs(t, err, &sb)
				assert.Equal(t, "home:u:branches/foo has broken sources, needs rebase", sb.Error())
			},
		},
		{
			name:    "missing result",
			results: []obs.BuildResult{{Package: "foo", Repo: "f", Arch: "x86_64", Code: "succeeded"}},
			check: func(t *testing.T, err error) {
				var nr *NotReadyYet
				require.ErrorAs(t, err, &nr)
				assert.Equal(t, "no result", nr.Reason)
			},
		},
		{
			name: "other package ignored",
			results: []obs.BuildResult{
				{Package: "foo", Repo: "f", Arch: "x86_64", Code: "succeeded"},
				{Package: "bar", Repo: "f", Arch: "i586", Code: "succeeded"},
			},
			check: func(t *testing.T, err error) {
				var nr *NotReadyYet
				require.ErrorAs(t, err, &nr)
				assert.Equal(t, "no result", nr.Reason)
			},
		},
		{
			name: "dirty",
			results: []obs.BuildResult{
				{Package: "foo", Repo: "f", Arch: "x86_64", Code: "succeeded"},
				{Package: "foo", Repo: "f", Arch: "i586", Code: "succeeded", Dirty: true},
			},
			check: func(t *testing.T, err error) {
				var nr *NotReadyYet
				require.ErrorAs(t, err, &nr)
				assert.Equal(t, "dirty", nr.Reason)
			},
		},
		{
			name: "still building",
			results: []obs.BuildResult{
				{Package: "foo", Repo: "f", Arch: "x86_64", Code: "building"},
				{Package: "foo", Repo: "f", Arch: "i586", Code: "succeeded"},
			},
			check: func(t *testing.T, err error) {
				var nr *NotReadyYet
				require.ErrorAs(t, err, &nr)
				assert.Equal(t, "building", nr.Reason)
				assert.Equal(t, "home:u:branches/foo not ready yet: building", nr.Error())
			},
		},
		{
			name: "terminal codes pass",
			results: []obs.BuildResult{
				{Package: "foo", Repo: "f", Arch: "x86_64", Code: "locked"},
				{Package: "foo", Repo: "f", Arch: "i586", Code: "excluded"},
			},
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{repos: repos, results: tt.results, success: built("f", "x86_64", "i586")}
			_, err := newMatcher(q).Find(context.Background(), Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "openSUSE:Factory"})
			tt.check(t, err)
		})
	}
}

func TestBuildSuccessChecksEveryTriple(t *testing.T) {
	repos := map[string][]obs.Repository{
		"openSUSE:Factory": factory(),
		"home:u:branches":  {repo("f", "openSUSE:Factory", "standard", "x86_64", "i586")},
	}
	in := Input{SrcProject: "home:u:branches", Src: srcInfo, DstProject: "openSUSE:Factory"}

	q := &fakeQuerier{repos: repos, results: succeeded("f", "x86_64", "i586"), success: built("f", "x86_64")}
	_, err := newMatcher(q).Find(context.Background(), in)
	var nbs *NoBuildSuccess
	require.ErrorAs(t, err, &nbs)
	assert.Equal(t, "home:u:branches/foo(feedfacefeedfacefeedfacefeedface) had no successful build", nbs.Error())

	q = &fakeQuerier{repos: repos, results: succeeded("f", "x86_64", "i586")}
	_, err = newMatcher(q).Find(context.Background(), in)
	require.ErrorAs(t, err, &nbs)

	q = &fakeQuerier{repos: repos, results: succeeded("f", "x86_64", "i586"), noReport: true}
	_, err = newMatcher(q).Find(context.Background(), in)
	var nr *NotReadyYet
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, "no build success", nr.Reason)
}

func TestSetDeduplicates(t *testing.T) {
	s := NewSet(
		MatchRepo{SrcRepo: "a", DstRepo: "b", Arch: "x86_64"},
		MatchRepo{SrcRepo: "a", DstRepo: "b", Arch: "x86_64"},
		MatchRepo{SrcRepo: "a", DstRepo: "b", Arch: "i586"},
	)
	assert.Len(t, s, 2)
	assert.Equal(t, "a->b/i586", s.Sorted()[0].String())
}

func TestFindRequiresSourceInfo(t *testing.T) {
	_, err := newMatcher(&fakeQuerier{}).Find(context.Background(), Input{SrcProject: "x", DstProject: "y"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoMatch))
}
