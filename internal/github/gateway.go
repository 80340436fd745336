package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toolhub/ghmcp/internal/auth"
	"github.com/toolhub/ghmcp/internal/core"
)

const DefaultBaseURL = "https://api.github.com"

const defaultMergeableDelay = time.Second

type GatewayOption func(*Gateway)

// WithMergeableDelay sets how long CheckMergeable waits before asking again
// while upstream is still computing mergeability.
func WithMergeableDelay(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.mergeableDelay = d }
}

func WithSleep(sleep SleepFunc) GatewayOption {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// Gateway maps repository operations onto REST endpoints.
type Gateway struct {
	engine         *Engine
	baseURL        string
	mergeableDelay time.Duration
	sleep          SleepFunc
}

func NewGateway(engine *Engine, baseURL string, opts ...GatewayOption) *Gateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	g := &Gateway{
		engine:         engine,
		baseURL:        strings.TrimRight(baseURL, "/"),
		mergeableDelay: defaultMergeableDelay,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify implements auth.Verifier. Scopes come from X-OAuth-Scopes and the
// expiry from GitHub-Authentication-Token-Expiration when upstream sends them.
func (g *Gateway) Verify(ctx context.Context, token string) (*auth.Verification, error) {
	var u User
	resp, err := g.call(ctx, http.MethodGet, "/user", nil, token, nil, &u)
	if err != nil {
		return nil, err
	}
	v := &auth.Verification{
		Identity: u.Identity(),
		Scopes:   parseScopes(resp.Header.Get("X-OAuth-Scopes")),
	}
	if exp, ok := parseTokenExpiration(resp.Header.Get("GitHub-Authentication-Token-Expiration")); ok {
		v.ExpiresAt = &exp
	}
	return v, nil
}

func (g *Gateway) ListRepositories(ctx context.Context, token string, p ListReposParams) ([]Repository, error) {
	q := url.Values{}
	setIf(q, "visibility", p.Visibility)
	setIf(q, "sort", p.Sort)
	setIf(q, "direction", p.Direction)
	p.apply(q)

	var repos []Repository
	if _, err := g.call(ctx, http.MethodGet, "/user/repos", q, token, nil, &repos); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return repos, nil
}

type searchEnvelope struct {
	TotalCount int              `json:"total_count"`
	Items      *json.RawMessage `json:"items"`
}

func (g *Gateway) SearchRepositories(ctx context.Context, token string, p SearchParams) ([]Repository, error) {
	var repos []Repository
	if err := g.search(ctx, "/search/repositories", token, p, &repos); err != nil {
		return nil, fmt.Errorf("search repositories: %w", err)
	}
	return repos, nil
}

func (g *Gateway) SearchIssues(ctx context.Context, token string, p SearchParams) ([]Issue, error) {
	var issues []Issue
	if err := g.search(ctx, "/search/issues", token, p, &issues); err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	return issues, nil
}

func (g *Gateway) search(ctx context.Context, path, token string, p SearchParams, out any) error {
	q := url.Values{}
	q.Set("q", p.Query)
	setIf(q, "sort", p.Sort)
	setIf(q, "order", p.Order)
	p.apply(q)

	var env searchEnvelope
	if _, err := g.call(ctx, http.MethodGet, path, q, token, nil, &env); err != nil {
		return err
	}
	if env.Items == nil {
		return core.Decode(fmt.Errorf("invalid search response format: missing items"))
	}
	if err := json.Unmarshal(*env.Items, out); err != nil {
		return core.Decode(err)
	}
	return nil
}

func (g *Gateway) GetRepository(ctx context.Context, token, owner, repo string) (*Repository, error) {
	var r Repository
	if _, err := g.call(ctx, http.MethodGet, repoPath(owner, repo), nil, token, nil, &r); err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &r, nil
}

func (g *Gateway) GetFileContent(ctx context.Context, token, owner, repo, path, ref string) (*FileContent, error) {
	var fc FileContent
	if _, err := g.call(ctx, http.MethodGet, contentsPath(owner, repo, path), refQuery(ref), token, nil, &fc); err != nil {
		return nil, fmt.Errorf("get file content: %w", err)
	}
	return &fc, nil
}

func (g *Gateway) ListDirectory(ctx context.Context, token, owner, repo, path, ref string) ([]DirectoryItem, error) {
	var items []DirectoryItem
	if _, err := g.call(ctx, http.MethodGet, contentsPath(owner, repo, path), refQuery(ref), token, nil, &items); err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	return items, nil
}

func (g *Gateway) ListBranches(ctx context.Context, token, owner, repo string, p PageParams) ([]Branch, error) {
	q := url.Values{}
	p.apply(q)
	var branches []Branch
	if _, err := g.call(ctx, http.MethodGet, repoPath(owner, repo)+"/branches", q, token, nil, &branches); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

func (g *Gateway) ListCommits(ctx context.Context, token, owner, repo string, p CommitParams) ([]Commit, error) {
	q := url.Values{}
	setIf(q, "sha", p.SHA)
	setIf(q, "path", p.Path)
	p.apply(q)
	var commits []Commit
	if _, err := g.call(ctx, http.MethodGet, repoPath(owner, repo)+"/commits", q, token, nil, &commits); err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	return commits, nil
}

func (g *Gateway) ListIssues(ctx context.Context, token, owner, repo string, p ListIssuesParams) ([]Issue, error) {
	q := url.Values{}
	setIf(q, "state", p.State)
	setIf(q, "labels", p.Labels)
	setIf(q, "assignee", p.Assignee)
	setIf(q, "sort", p.Sort)
	setIf(q, "direction", p.Direction)
	p.apply(q)
	var issues []Issue
	if _, err := g.call(ctx, http.MethodGet, repoPath(owner, repo)+"/issues", q, token, nil, &issues); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

func (g *Gateway) CreateIssue(ctx context.Context, token, owner, repo string, in CreateIssueInput) (*Issue, error) {
	var issue Issue
	if _, err := g.call(ctx, http.MethodPost, repoPath(owner, repo)+"/issues", nil, token, in, &issue); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &issue, nil
}

func (g *Gateway) UpdateIssue(ctx context.Context, token, owner, repo string, number int, in UpdateIssueInput) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("%s/issues/%d", repoPath(owner, repo), number)
	if _, err := g.call(ctx, http.MethodPatch, path, nil, token, in, &issue); err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}
	return &issue, nil
}

func (g *Gateway) CreateIssueComment(ctx context.Context, token, owner, repo string, number int, body string) (*Comment, error) {
	var c Comment
	path := fmt.Sprintf("%s/issues/%d/comments", repoPath(owner, repo), number)
	if _, err := g.call(ctx, http.MethodPost, path, nil, token, map[string]string{"body": body}, &c); err != nil {
		return nil, fmt.Errorf("create issue comment: %w", err)
	}
	return &c, nil
}

func (g *Gateway) ListPullRequests(ctx context.Context, token, owner, repo string, p ListPullsParams) ([]PullRequest, error) {
	q := url.Values{}
	setIf(q, "state", p.State)
	setIf(q, "head", p.Head)
	setIf(q, "base", p.Base)
	setIf(q, "sort", p.Sort)
	setIf(q, "direction", p.Direction)
	p.apply(q)
	var prs []PullRequest
	if _, err := g.call(ctx, http.MethodGet, repoPath(owner, repo)+"/pulls", q, token, nil, &prs); err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	return prs, nil
}

func (g *Gateway) GetPullRequest(ctx context.Context, token, owner, repo string, number int) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("%s/pulls/%d", repoPath(owner, repo), number)
	if _, err := g.call(ctx, http.MethodGet, path, nil, token, nil, &pr); err != nil {
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return &pr, nil
}

func (g *Gateway) CreatePullRequest(ctx context.Context, token, owner, repo string, in CreatePullRequestInput) (*PullRequest, error) {
	var pr PullRequest
	if _, err := g.call(ctx, http.MethodPost, repoPath(owner, repo)+"/pulls", nil, token, in, &pr); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &pr, nil
}

func (g *Gateway) MergePullRequest(ctx context.Context, token, owner, repo string, number int, in MergeInput) (*MergeResult, error) {
	var res MergeResult
	path := fmt.Sprintf("%s/pulls/%d/merge", repoPath(owner, repo), number)
	if _, err := g.call(ctx, http.MethodPut, path, nil, token, in, &res); err != nil {
		return nil, fmt.Errorf("merge pull request: %w", err)
	}
	return &res, nil
}

// CheckMergeable asks once more after a short wait when upstream has not yet
// computed mergeability. A value that is still unknown reports false.
func (g *Gateway) CheckMergeable(ctx context.Context, token, owner, repo string, number int) (bool, error) {
	pr, err := g.GetPullRequest(ctx, token, owner, repo, number)
	if err != nil {
		return false, err
	}
	if pr.Mergeable != nil {
		return *pr.Mergeable, nil
	}

	if err := g.sleep(ctx, g.mergeableDelay); err != nil {
		return false, fmt.Errorf("wait for mergeability: %w", err)
	}
	pr, err = g.GetPullRequest(ctx, token, owner, repo, number)
	if err != nil {
		return false, err
	}
	return pr.Mergeable != nil && *pr.Mergeable, nil
}

type rateLimitEnvelope struct {
	Rate *RateLimitStatus `json:"rate"`
}

func (g *Gateway) GetRateLimit(ctx context.Context, token string) (*RateLimitStatus, error) {
	var env rateLimitEnvelope
	if _, err := g.call(ctx, http.MethodGet, "/rate_limit", nil, token, nil, &env); err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	if env.Rate == nil {
		return nil, core.Decode(fmt.Errorf("invalid rate limit response"))
	}
	return env.Rate, nil
}

func (g *Gateway) call(ctx context.Context, method, path string, q url.Values, token string, body, out any) (*Response, error) {
	u := g.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := g.engine.Execute(ctx, method, u, token, body)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, core.Decode(err)
		}
	}
	return resp, nil
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// contentsPath escapes each segment of a repository path and keeps the
// separators, so nested files resolve.
func contentsPath(owner, repo, path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return repoPath(owner, repo) + "/contents/"
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return repoPath(owner, repo) + "/contents/" + strings.Join(segs, "/")
}

func refQuery(ref string) url.Values {
	if ref == "" {
		return nil
	}
	return url.Values{"ref": {ref}}
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}

func (p PageParams) apply(q url.Values) {
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
}

func parseScopes(header string) []string {
	var scopes []string
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// parseTokenExpiration reads values like "2026-03-01 12:00:00 UTC".
func parseTokenExpiration(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02 15:04:05 MST", "2006-01-02 15:04:05 -0700", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
