package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dshills/abigate/internal/archive"
	"github.com/dshills/abigate/internal/cache"
	"github.com/dshills/abigate/internal/obs"
	"github.com/dshills/abigate/internal/rpmhdr"
)

var (
	// LibRe matches shared library paths and captures the library name.
	LibRe      = regexp.MustCompile(`^(?:/usr)?/lib(?:64)?/lib([^/]+)\.so(?:\.[^/]+)?`)
	debugPkgRe = regexp.MustCompile(`-debug(?:source|info)(?:-(?:32|64)bit)?$`)
	headerRe   = regexp.MustCompile(`^(.+\.rpm)-[0-9A-Fa-f]{32}$`)
)

// Querier is the part of the build service API the extractor reads.
type Querier interface {
	SourceInfo(ctx context.Context, project, pkg, rev string) (*obs.SourceInfo, error)
	BinaryListing(ctx context.Context, project, repo, arch, pkg string) ([]obs.Binary, error)
	PackedHeaders(ctx context.Context, project, repo, arch, pkg string) (io.ReadCloser, error)
	DownloadBinary(ctx context.Context, project, repo, arch, pkg, filename string, w io.Writer) error
}

// Target is one package build to extract.
type Target struct {
	Project string
	Package string
	Info    *obs.SourceInfo
	Repo    string
	Arch    string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s %s/%s", t.Project, t.Package, t.Repo, t.Arch)
}

// Result describes an extracted tree. Library and debug paths are package
// paths; the files live below Base.
type Result struct {
	// Libs maps each library path to the basenames of symlinks pointing at it.
	Libs map[string]map[string]struct{}
	// Debug maps each library path to its debug file path.
	Debug map[string]string
	Base  string
}

// File returns the on-disk location of a package path.
func (r *Result) File(p string) string {
	return filepath.Join(r.Base, filepath.FromSlash(p))
}

// Extractor unpacks library builds below a root directory.
type Extractor struct {
	q        Querier
	cache    *cache.Cache
	root     string
	verifier *rpmhdr.Verifier
	logger   *slog.Logger
}

// New returns an Extractor. A nil verifier skips signature checks.
func New(q Querier, c *cache.Cache, root string, verifier *rpmhdr.Verifier, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{q: q, cache: c, root: root, verifier: verifier, logger: logger}
}

// Base returns the directory a target is unpacked into.
func (e *Extractor) Base(t Target) string {
	return filepath.Join(e.root, t.Project, t.Package, t.Repo, t.Arch)
}

// Extract scans t and unpacks its qualifying libraries. It returns nil and
// no error when the build contains no libraries.
func (e *Extractor) Extract(ctx context.Context, t Target) (*Result, error) {
	plan, err := e.scan(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(plan.fetch) == 0 {
		e.logger.InfoContext(ctx, fmt.Sprintf("no libraries found in %s", t))
		return nil, nil
	}

	// Header archives carry rewritten mtimes, so ask the listing.
	listing, err := e.q.BinaryListing(ctx, t.Project, t.Repo, t.Arch, t.Package)
	if err != nil {
		return nil, &FetchError{Msg: fmt.Sprintf("failed to list binaries of %s", t), Err: err}
	}
	mtimes := make(map[string]int64, len(listing))
	for _, b := range listing {
		mtimes[b.Filename] = b.Mtime
	}

	res := &Result{Libs: plan.libs, Debug: plan.debug, Base: e.Base(t)}
	if err := os.RemoveAll(res.Base); err != nil {
		return nil, &FetchError{Msg: "failed to clear " + res.Base, Err: err}
	}

	want := make(map[string]bool, len(plan.libs)*2)
	for lib := range plan.libs {
		want[lib] = true
	}
	for _, dbg := range plan.debug {
		want[dbg] = true
	}

	written := map[string]bool{}
	for _, fn := range sortedKeys(plan.fetch) {
		mtime, ok := mtimes[fn]
		if !ok {
			return nil, &FetchError{Msg: fmt.Sprintf("missing mtime information for %s, can't check", fn)}
		}
		local, err := e.download(ctx, t, fn, time.Unix(mtime, 0))
		if err != nil {
			return nil, err
		}
		e.logger.DebugContext(ctx, "extract", "file", fn)
		names, err := rpmhdr.ExtractFiles(local, res.Base, func(name string) bool { return want[name] })
		if err != nil {
			return nil, &FetchError{Msg: fmt.Sprintf("failed to extract %s", fn), Err: err}
		}
		for _, n := range names {
			written[n] = true
		}
	}
	for _, name := range sortedKeys(want) {
		if !written[name] {
			return nil, &FetchError{Msg: fmt.Sprintf("%s not found in the payloads of %s", name, t)}
		}
	}
	return res, nil
}

// Release removes the extracted tree of t.
func (e *Extractor) Release(t Target) error {
	return os.RemoveAll(e.Base(t))
}

func (e *Extractor) download(ctx context.Context, t Target, fn string, mtime time.Time) (string, error) {
	key := cache.Key{Project: t.Project, Package: t.Package, Repo: t.Repo, Arch: t.Arch, Filename: fn}
	local, ok := e.cache.Lookup(key, mtime)
	if !ok {
		e.logger.DebugContext(ctx, "download", "file", fn)
		var err error
		local, err = e.cache.Store(key, mtime, func(w io.Writer) error {
			return e.q.DownloadBinary(ctx, t.Project, t.Repo, t.Arch, t.Package, fn, w)
		})
		if err != nil {
			return "", &FetchError{Msg: fmt.Sprintf("failed to download %s", fn), Err: err}
		}
	}
	if err := e.verifier.Verify(local); err != nil {
		if evictErr := e.cache.Evict(key); evictErr != nil {
			e.logger.WarnContext(ctx, "evicting cached file", "file", fn, "error", evictErr)
		}
		return "", &FetchError{Msg: fmt.Sprintf("signature check of %s failed", fn), Err: err}
	}
	return local, nil
}

type header struct {
	filename string
	pkg      *rpmhdr.Package
}

type plan struct {
	fetch map[string]struct{}
	libs  map[string]map[string]struct{}
	debug map[string]string
}

// scan reads the packed headers of t and decides what to fetch.
func (e *Extractor) scan(ctx context.Context, t Target) (*plan, error) {
	e.logger.DebugContext(ctx, "scanning", "target", t.String())

	rc, err := e.q.PackedHeaders(ctx, t.Project, t.Repo, t.Arch, t.Package)
	if err != nil {
		return nil, &FetchError{Msg: "failed to fetch header information", Err: err}
	}
	defer rc.Close()

	var (
		pkgs        = map[string]header{}
		libPackages = map[string]map[string]struct{}{}
		aliases     = map[string]map[string]struct{}{}
		verified    = map[string]bool{}
	)
	err = archive.Walk(rc, func(entry *archive.Entry, body io.Reader) error {
		if entry.Name == ".errors" {
			return nil
		}
		m := headerRe.FindStringSubmatch(entry.Name)
		if m == nil {
			return nil
		}
		h, err := rpmhdr.Parse(body)
		if err != nil {
			return &FetchError{Msg: fmt.Sprintf("failed to read rpm header for %s", entry.Name), Err: err}
		}
		if h.Source {
			return nil
		}
		// Repackaged biarch variants duplicate the original package.
		if strings.HasSuffix(h.Name, "-32bit") || strings.HasSuffix(h.Name, "-64bit") {
			return nil
		}
		e.logger.DebugContext(ctx, "inspecting", "package", h.Name)
		if err := e.checkDistURL(ctx, t, h.DistURL, verified); err != nil {
			return err
		}
		pkgs[h.Name] = header{filename: m[1], pkg: h}
		if debugPkgRe.MatchString(h.Name) {
			return nil
		}
		for _, f := range h.Files {
			if !LibRe.MatchString(f.Path) {
				continue
			}
			switch {
			case f.IsRegular():
				e.logger.DebugContext(ctx, "found lib", "path", f.Path)
				addTo(libPackages, h.Name, f.Path)
			case f.IsSymlink() && f.LinkTo != "":
				alias := path.Base(f.Path)
				target := path.Base(f.LinkTo)
				e.logger.DebugContext(ctx, "found alias", "alias", alias, "target", target)
				addTo(aliases, target, alias)
			}
		}
		return nil
	})
	if err != nil {
		var fe *FetchError
		var dm *DistURLMismatch
		if errors.As(err, &fe) || errors.As(err, &dm) {
			return nil, err
		}
		return nil, &FetchError{Msg: fmt.Sprintf("failed to read header archive of %s", t), Err: err}
	}

	p := &plan{
		fetch: map[string]struct{}{},
		libs:  map[string]map[string]struct{}{},
		debug: map[string]string{},
	}
	var missing []string
	for _, name := range sortedKeys(libPackages) {
		dbg, ok := pkgs[name+"-debuginfo"]
		if !ok {
			missing = append(missing, fmt.Sprintf("%s %s", t, name))
			continue
		}
		files := make(map[string]bool, len(dbg.pkg.Files))
		for _, f := range dbg.pkg.Files {
			files[f.Path] = true
		}
		for _, lib := range sortedKeys(libPackages[name]) {
			debugPath, ok := findDebugFile(lib, dbg.pkg, files)
			if !ok {
				missing = append(missing, fmt.Sprintf("%s %s %s", t, name, lib))
				continue
			}
			p.fetch[pkgs[name].filename] = struct{}{}
			p.fetch[dbg.filename] = struct{}{}
			p.libs[lib] = map[string]struct{}{}
			for a := range aliases[path.Base(lib)] {
				p.libs[lib][a] = struct{}{}
			}
			p.debug[lib] = debugPath
		}
	}
	if len(missing) > 0 {
		e.logger.ErrorContext(ctx, "missing debuginfo", "target", t.String(), "entries", missing)
		return nil, &MissingDebugInfo{Entries: missing}
	}
	return p, nil
}

// checkDistURL verifies that the binary was built from the revision under
// check. The disturl carries the source md5, which the build service
// resolves to the verify md5 of that revision.
func (e *Extractor) checkDistURL(ctx context.Context, t Target, distURL string, verified map[string]bool) error {
	md5 := DistURLMD5(distURL)
	if verified[md5] {
		return nil
	}
	info, err := e.q.SourceInfo(ctx, t.Project, t.Info.Package, md5)
	if err != nil {
		return &FetchError{Msg: fmt.Sprintf("failed to resolve disturl %s", distURL), Err: err}
	}
	if info == nil || info.VerifyMD5 != t.Info.VerifyMD5 {
		return &DistURLMismatch{DistURL: distURL, Want: t.Info.VerifyMD5}
	}
	verified[md5] = true
	return nil
}

// DistURLMD5 returns the source md5 embedded in a disturl.
func DistURLMD5(distURL string) string {
	base := path.Base(distURL)
	md5, _, _ := strings.Cut(base, "-")
	return md5
}

// findDebugFile looks for the debug file of lib in the debuginfo package,
// first at the plain location and then at the version-qualified one.
func findDebugFile(lib string, dbg *rpmhdr.Package, files map[string]bool) (string, bool) {
	plain := "/usr/lib/debug" + lib + ".debug"
	if files[plain] {
		return plain, true
	}
	arch := dbg.Arch
	if arch == "i586" {
		arch = "i386"
	}
	qualified := fmt.Sprintf("/usr/lib/debug%s-%s-%s.%s.debug", lib, dbg.Version, dbg.Release, arch)
	if files[qualified] {
		return qualified, true
	}
	return "", false
}

func addTo(m map[string]map[string]struct{}, key, value string) {
	if m[key] == nil {
		m[key] = map[string]struct{}{}
	}
	m[key][value] = struct{}{}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
