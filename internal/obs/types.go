package obs

import "strings"

// SourceInfo describes one revision of a source package.
type SourceInfo struct {
	Project       string `json:"project"`
	Package       string `json:"package"`
	Revision      string `json:"rev"`
	SrcMD5        string `json:"srcmd5"`
	VerifyMD5     string `json:"verifymd5"`
	OriginProject string `json:"originProject,omitempty"`
}

// BuildResult is the build state of one package in one repository/arch.
type BuildResult struct {
	Project string
	Package string
	Repo    string
	Arch    string
	Code    string
	Dirty   bool
}

// RepoPath is a path entry of a repository definition.
type RepoPath struct {
	Project    string
	Repository string
}

// Repository is a repository definition from project meta.
type Repository struct {
	Name  string
	Paths []RepoPath
	Archs []string
}

// RepoArch names one repository/architecture combination.
type RepoArch struct {
	Repo string
	Arch string
}

// Binary is an entry of a binary listing.
type Binary struct {
	Filename string
	Size     int64
	Mtime    int64
}

// Request is a change request with its actions and reviews.
type Request struct {
	ID      string
	Creator string
	State   string
	Actions []Action
	Reviews []Review
}

// Action is one action of a request. Only submit actions carry a source.
type Action struct {
	Type       string
	SrcProject string
	SrcPackage string
	SrcRev     string
	TgtProject string
	TgtPackage string
}

// Review is a review entry of a request.
type Review struct {
	State     string
	ByUser    string
	ByGroup   string
	ByProject string
	ByPackage string
}

// StagingProject returns the staging project reviewing the request, if the
// request has been staged below target.
func (r *Request) StagingProject(target string) string {
	prefix := target + ":Staging:"
	for _, rv := range r.Reviews {
		if rv.ByPackage == "" && strings.HasPrefix(rv.ByProject, prefix) {
			return rv.ByProject
		}
	}
	return ""
}
