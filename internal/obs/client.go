package obs

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dshills/abigate/internal/redact"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultAPIURL   = "https://api.opensuse.org"
	sourceCacheSize = 4096
	userAgent       = "abigate"
)

// Client provides access to the build-service API.
type Client struct {
	apiURL   string
	user     string
	password string
	retries  int
	httpCli  *http.Client
	srcCache *lru.Cache[string, *SourceInfo]
}

// NewClient creates a client for apiURL. Empty credentials send anonymous
// requests.
func NewClient(apiURL, user, password string, retries int) (*Client, error) {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL %s: %w", redact.URL(apiURL), err)
	}
	cache, err := lru.New[string, *SourceInfo](sourceCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		user:     user,
		password: password,
		retries:  retries,
		httpCli:  &http.Client{Timeout: 5 * time.Minute},
		srcCache: cache,
	}, nil
}

// APIURL returns the base URL the client talks to.
func (c *Client) APIURL() string { return c.apiURL }

// SourceInfo returns info about a source package revision. An empty rev
// means the current revision. Missing packages yield (nil, nil).
func (c *Client) SourceInfo(ctx context.Context, project, pkg, rev string) (*SourceInfo, error) {
	key := project + "/" + pkg + "@" + rev
	if rev != "" {
		if si, ok := c.srcCache.Get(key); ok {
			return si, nil
		}
	}

	q := url.Values{"view": {"info"}}
	if rev != "" {
		q.Set("rev", rev)
	}
	var doc sourceInfoXML
	if err := c.getXML(ctx, []string{"source", project, pkg}, q, &doc); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if doc.Error != "" {
		return nil, nil
	}
	si := &SourceInfo{
		Project:       project,
		Package:       doc.Package,
		Revision:      doc.Rev,
		SrcMD5:        doc.SrcMD5,
		VerifyMD5:     doc.VerifyMD5,
		OriginProject: strings.TrimSpace(doc.OriginProject),
	}
	if si.Package == "" {
		si.Package = pkg
	}
	if rev != "" {
		c.srcCache.Add(key, si)
	}
	return si, nil
}

// BuildResults returns build results of pkg in project, optionally
// restricted to repos and archs.
func (c *Client) BuildResults(ctx context.Context, project, pkg string, repos, archs []string) ([]BuildResult, error) {
	q := url.Values{}
	if pkg != "" {
		q.Set("package", pkg)
	}
	for _, r := range uniq(repos) {
		q.Add("repository", r)
	}
	for _, a := range uniq(archs) {
		q.Add("arch", a)
	}
	var doc resultListXML
	if err := c.getXML(ctx, []string{"build", project, "_result"}, q, &doc); err != nil {
		return nil, err
	}
	var out []BuildResult
	for _, r := range doc.Results {
		for _, st := range r.Statuses {
			out = append(out, BuildResult{
				Project: r.Project,
				Package: st.Package,
				Repo:    r.Repository,
				Arch:    r.Arch,
				Code:    st.Code,
				Dirty:   r.Dirty == "true",
			})
		}
	}
	return out, nil
}

// LastBuildSuccess returns the repositories in which pkg last built
// successfully from srcmd5 against pathProject. A missing report yields
// ErrNotFound.
func (c *Client) LastBuildSuccess(ctx context.Context, project, pathProject, pkg, srcmd5 string) ([]RepoArch, error) {
	q := url.Values{
		"lastsuccess": {"1"},
		"package":     {pkg},
		"pathproject": {pathProject},
	}
	if srcmd5 != "" {
		q.Set("srcmd5", srcmd5)
	}
	var doc lastSuccessXML
	if err := c.getXML(ctx, []string{"build", project, "_result"}, q, &doc); err != nil {
		return nil, err
	}
	var out []RepoArch
	for _, r := range doc.Repositories {
		for _, a := range r.Archs {
			out = append(out, RepoArch{Repo: r.Name, Arch: a.Arch})
		}
	}
	return out, nil
}

// ProjectRepos returns the repository definitions of a project.
func (c *Client) ProjectRepos(ctx context.Context, project string) ([]Repository, error) {
	var doc projectMetaXML
	if err := c.getXML(ctx, []string{"source", project, "_meta"}, nil, &doc); err != nil {
		return nil, err
	}
	out := make([]Repository, 0, len(doc.Repositories))
	for _, r := range doc.Repositories {
		repo := Repository{Name: r.Name}
		for _, p := range r.Paths {
			repo.Paths = append(repo.Paths, RepoPath{Project: p.Project, Repository: p.Repository})
		}
		for _, a := range r.Archs {
			repo.Archs = append(repo.Archs, strings.TrimSpace(a))
		}
		out = append(out, repo)
	}
	return out, nil
}

// BinaryListing lists the built binaries of a package.
func (c *Client) BinaryListing(ctx context.Context, project, repo, arch, pkg string) ([]Binary, error) {
	var doc binaryListXML
	if err := c.getXML(ctx, []string{"build", project, repo, arch, pkg}, nil, &doc); err != nil {
		return nil, err
	}
	out := make([]Binary, 0, len(doc.Binaries))
	for _, b := range doc.Binaries {
		out = append(out, Binary{Filename: b.Filename, Size: b.Size, Mtime: b.Mtime})
	}
	return out, nil
}

// PackedHeaders streams the newc archive holding the RPM headers of every
// binary of a package. The caller closes the stream.
func (c *Client) PackedHeaders(ctx context.Context, project, repo, arch, pkg string) (io.ReadCloser, error) {
	return c.open(ctx, []string{"build", project, repo, arch, pkg}, url.Values{"view": {"cpioheaders"}})
}

// DownloadBinary copies one built binary to w.
func (c *Client) DownloadBinary(ctx context.Context, project, repo, arch, pkg, filename string, w io.Writer) error {
	rc, err := c.open(ctx, []string{"build", project, repo, arch, pkg, filename}, nil)
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("downloading %s: %w", filename, err)
	}
	return nil
}

// LinkTarget returns the project and package a source package links to.
// Unlinked packages yield empty strings.
func (c *Client) LinkTarget(ctx context.Context, project, pkg string) (string, string, error) {
	var doc directoryXML
	if err := c.getXML(ctx, []string{"source", project, pkg}, nil, &doc); err != nil {
		return "", "", err
	}
	if doc.LinkInfo == nil {
		return "", "", nil
	}
	return doc.LinkInfo.Project, doc.LinkInfo.Package, nil
}

// MaintenanceProject returns the project that maintains project and carries
// attribute, or "" if there is none.
func (c *Client) MaintenanceProject(ctx context.Context, project, attribute string) (string, error) {
	match := fmt.Sprintf("(maintenance/maintains/@project='%s' and attribute/@name='%s')", project, attribute)
	var doc collectionXML
	if err := c.getXML(ctx, []string{"search", "project", "id"}, url.Values{"match": {match}}, &doc); err != nil {
		return "", err
	}
	if len(doc.Projects) == 0 {
		return "", nil
	}
	return doc.Projects[0].Name, nil
}

// Request fetches a request by id.
func (c *Client) Request(ctx context.Context, id string) (*Request, error) {
	var doc requestXML
	if err := c.getXML(ctx, []string{"request", id}, nil, &doc); err != nil {
		return nil, err
	}
	req := &Request{ID: doc.ID, Creator: doc.Creator, State: doc.State.Name}
	if req.ID == "" {
		req.ID = id
	}
	for _, a := range doc.Actions {
		req.Actions = append(req.Actions, Action{
			Type:       a.Type,
			SrcProject: a.Source.Project,
			SrcPackage: a.Source.Package,
			SrcRev:     a.Source.Rev,
			TgtProject: a.Target.Project,
			TgtPackage: a.Target.Package,
		})
	}
	for _, r := range doc.Reviews {
		req.Reviews = append(req.Reviews, Review{
			State:     r.State,
			ByUser:    r.ByUser,
			ByGroup:   r.ByGroup,
			ByProject: r.ByProject,
			ByPackage: r.ByPackage,
		})
	}
	return req, nil
}

// ChangeReviewState accepts or declines the review assigned to byGroup, or
// to the client user when byGroup is empty.
func (c *Client) ChangeReviewState(ctx context.Context, id, newState, byGroup, message string) error {
	q := url.Values{"cmd": {"changereviewstate"}, "newstate": {newState}}
	if byGroup != "" {
		q.Set("by_group", byGroup)
	} else {
		q.Set("by_user", c.user)
	}
	return retryWithBackoff(ctx, c.retries, func() error {
		resp, err := c.send(ctx, http.MethodPost, []string{"request", id}, q, message)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return checkStatus(resp.StatusCode, body)
	})
}

// About returns the server revision. It doubles as a credentials check.
func (c *Client) About(ctx context.Context) (string, error) {
	var doc aboutXML
	if err := c.getXML(ctx, []string{"about"}, nil, &doc); err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Revision), nil
}

func (c *Client) getXML(ctx context.Context, segments []string, q url.Values, v any) error {
	return retryWithBackoff(ctx, c.retries, func() error {
		resp, err := c.send(ctx, http.MethodGet, segments, q, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &retryableError{fmt.Errorf("reading response: %w", err)}
		}
		if err := checkStatus(resp.StatusCode, body); err != nil {
			return err
		}
		if err := xml.Unmarshal(body, v); err != nil {
			return fmt.Errorf("parsing %s: %w", strings.Join(segments, "/"), err)
		}
		return nil
	})
}

func (c *Client) open(ctx context.Context, segments []string, q url.Values) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := retryWithBackoff(ctx, c.retries, func() error {
		resp, err := c.send(ctx, http.MethodGet, segments, q, "")
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return checkStatus(resp.StatusCode, body)
		}
		rc = resp.Body
		return nil
	})
	return rc, err
}

func (c *Client) send(ctx context.Context, method string, segments []string, q url.Values, body string) (*http.Response, error) {
	u := c.endpoint(segments, q)
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{fmt.Errorf("%s %s: %s", method, redact.URL(u), redact.Secrets(err.Error()))}
	}
	return resp, nil
}

func (c *Client) endpoint(segments []string, q url.Values) string {
	var b strings.Builder
	b.WriteString(c.apiURL)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	if len(q) > 0 {
		b.WriteByte('?')
		b.WriteString(q.Encode())
	}
	return b.String()
}

func checkStatus(status int, body []byte) error {
	msg := redact.Secrets(summary(body))
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &authError{status: status, message: msg}
	case status == http.StatusTooManyRequests || status >= 500:
		return &retryableError{&StatusError{Status: status, Body: msg}}
	default:
		return &StatusError{Status: status, Body: msg}
	}
}

// summary extracts the <summary> of an API status document, falling back to
// the raw body.
func summary(body []byte) string {
	var st struct {
		Summary string `xml:"summary"`
	}
	if xml.Unmarshal(body, &st) == nil && st.Summary != "" {
		return st.Summary
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
