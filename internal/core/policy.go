package core

import (
	"sort"
	"strings"
)

// Policy restricts write tools to an allowlist of owner/repo names parsed
// from a comma-separated list.
type Policy struct {
	allowedRepos map[string]bool
}

// NewPolicy creates a Policy from a comma-separated allowlist.
// An empty list allows every repository.
func NewPolicy(repoCSV string) *Policy {
	return &Policy{allowedRepos: parseCSV(repoCSV)}
}

// CheckRepo returns a PermissionDenied error if owner/repo is not allowed.
func (p *Policy) CheckRepo(owner, repo string) error {
	if p == nil || len(p.allowedRepos) == 0 {
		return nil
	}
	full := strings.ToLower(owner + "/" + repo)
	if p.allowedRepos[full] || p.allowedRepos[strings.ToLower(owner)+"/*"] {
		return nil
	}
	return PermissionDenied("repository " + owner + "/" + repo + " is not in REPO_ALLOWLIST")
}

// Repos returns the sorted allowlist entries.
func (p *Policy) Repos() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.allowedRepos))
	for r := range p.allowedRepos {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			m[item] = true
		}
	}
	return m
}
