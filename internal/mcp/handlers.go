package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolhub/ghmcp/internal/auth"
	"github.com/toolhub/ghmcp/internal/core"
	gh "github.com/toolhub/ghmcp/internal/github"
	"github.com/toolhub/ghmcp/internal/logging"
)

func (d *Dispatcher) toolHandlers() map[string]toolHandler {
	return map[string]toolHandler{
		"github_auth":                 d.toolAuth,
		"github_list_repos":           d.toolListRepos,
		"github_search_repos":         d.toolSearchRepos,
		"github_get_file":             d.toolGetFile,
		"github_list_directory":       d.toolListDirectory,
		"github_list_issues":          d.toolListIssues,
		"github_create_issue":         d.toolCreateIssue,
		"github_update_issue":         d.toolUpdateIssue,
		"github_list_prs":             d.toolListPulls,
		"github_create_pr":            d.toolCreatePull,
		"github_get_pr_details":       d.toolGetPullDetails,
		"github_merge_pr":             d.toolMergePull,
		"github_get_repo":             d.toolGetRepo,
		"github_list_branches":        d.toolListBranches,
		"github_list_commits":         d.toolListCommits,
		"github_search_issues":        d.toolSearchIssues,
		"github_create_issue_comment": d.toolCreateIssueComment,
		"github_check_pr_mergeable":   d.toolCheckMergeable,
		"github_auth_status":          d.toolAuthStatus,
		"github_rate_limit":           d.toolRateLimit,
	}
}

var errNotAuthenticated = core.Authentication("Not authenticated. Please use github_auth tool first.")

// token resolves the session credential. A user token is revalidated once
// its cache window lapses; an App installation token is re-minted instead,
// since installation tokens cannot call /user.
func (d *Dispatcher) token(ctx context.Context) (string, error) {
	tok, ok := d.auth.Token()

	d.mu.Lock()
	fromApp := d.appToken
	d.mu.Unlock()

	if d.cfg.AppTokens != nil && (!ok || fromApp) {
		minted, exp, err := d.cfg.AppTokens.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("mint installation token: %w", err)
		}
		if minted != tok {
			if err := d.auth.SetCredential(minted); err != nil {
				return "", err
			}
			d.auth.SetExpiry(exp)
			d.mu.Lock()
			d.appToken = true
			d.mu.Unlock()
		}
		return minted, nil
	}

	if !ok {
		return "", errNotAuthenticated
	}
	if _, err := d.auth.EnsureValid(ctx, d.cfg.Gateway); err != nil {
		return "", err
	}
	tok, ok = d.auth.Token()
	if !ok {
		return "", errNotAuthenticated
	}
	return tok, nil
}

// checkWrite guards mutating tools: the repository must be allowlisted and
// the credential must carry a repository write scope when scopes are known.
func (d *Dispatcher) checkWrite(owner, repo string) error {
	if err := d.cfg.Policy.CheckRepo(owner, repo); err != nil {
		return err
	}
	if d.auth.HasScope("public_repo") {
		return nil
	}
	return d.auth.CheckScopePermission("repo")
}

func (d *Dispatcher) failed(ctx context.Context, what string, err error) *mcpgo.CallToolResult {
	d.logger.ErrorContext(ctx, "failed to "+what, "trace_id", traceIDFrom(ctx), "err", err)
	return mcpgo.NewToolResultError(fmt.Sprintf("Failed to %s: %s", what, errorText(err)))
}

func requireString(req mcpgo.CallToolRequest, key string) (string, error) {
	s, ok := req.GetArguments()[key].(string)
	if !ok {
		return "", core.InvalidRequest("Missing required parameter: %s", key)
	}
	return s, nil
}

// uintArg accepts non-negative whole numbers, whichever way the JSON decoder
// produced them.
func uintArg(req mcpgo.CallToolRequest, key string) (int, bool) {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		if v >= 0 && v == math.Trunc(v) && v <= math.MaxInt32 {
			return int(v), true
		}
	case int:
		if v >= 0 {
			return v, true
		}
	case int64:
		if v >= 0 {
			return int(v), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= 0 {
			return int(n), true
		}
	}
	return 0, false
}

func requireUint(req mcpgo.CallToolRequest, key string) (int, error) {
	n, ok := uintArg(req, key)
	if !ok {
		return 0, core.InvalidRequest("Missing required parameter: %s", key)
	}
	return n, nil
}

func pageArgs(req mcpgo.CallToolRequest) gh.PageParams {
	perPage, _ := uintArg(req, "per_page")
	page, _ := uintArg(req, "page")
	return gh.PageParams{PerPage: perPage, Page: page}
}

func ownerRepoArgs(req mcpgo.CallToolRequest) (string, string, error) {
	owner, err := requireString(req, "owner")
	if err != nil {
		return "", "", err
	}
	repo, err := requireString(req, "repo")
	if err != nil {
		return "", "", err
	}
	return owner, repo, nil
}

// stringList keeps only the string elements of an array argument. A missing
// or non-array argument yields nil.
func stringList(req mcpgo.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		if ss, ok := req.GetArguments()[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optionalString(req mcpgo.CallToolRequest, key string) *string {
	if s, ok := req.GetArguments()[key].(string); ok {
		return &s
	}
	return nil
}

func (d *Dispatcher) toolAuth(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	raw, err := requireString(req, "token")
	if err != nil {
		return nil, err
	}

	id, err := d.auth.Login(ctx, raw, d.cfg.Gateway)
	if err != nil {
		d.logger.WarnContext(ctx, "github authentication failed", "trace_id", traceIDFrom(ctx), "token", logging.SanitizeToken(raw), "err", err)
		msg := errorText(err)
		if !core.IsKind(err, core.KindAuthentication) {
			msg = "Authentication failed: " + msg
		}
		return mcpgo.NewToolResultError(msg), nil
	}

	d.mu.Lock()
	d.appToken = false
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "github authentication succeeded", "trace_id", traceIDFrom(ctx), "login", id.Login)
	return mcpgo.NewToolResultText("Successfully authenticated as " + id.Login), nil
}

func (d *Dispatcher) toolAuthStatus(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return mcpgo.NewToolResultText(formatAuthStatus(d.auth.Summary())), nil
}

func (d *Dispatcher) toolRateLimit(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	rl, err := d.cfg.Gateway.GetRateLimit(ctx, token)
	if err != nil {
		return d.failed(ctx, "get rate limit", err), nil
	}
	return mcpgo.NewToolResultText(formatRateLimit(rl)), nil
}

func (d *Dispatcher) toolListRepos(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	p := gh.ListReposParams{
		Visibility: req.GetString("visibility", ""),
		Sort:       req.GetString("sort", ""),
		Direction:  req.GetString("direction", ""),
		PageParams: pageArgs(req),
	}
	repos, err := d.cfg.Gateway.ListRepositories(ctx, token, p)
	if err != nil {
		return d.failed(ctx, "list repositories", err), nil
	}
	return mcpgo.NewToolResultText(formatRepoList(repos)), nil
}

func (d *Dispatcher) toolSearchRepos(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	q, err := requireString(req, "q")
	if err != nil {
		return nil, err
	}
	p := gh.SearchParams{
		Query:      q,
		Sort:       req.GetString("sort", ""),
		Order:      req.GetString("order", ""),
		PageParams: pageArgs(req),
	}
	repos, err := d.cfg.Gateway.SearchRepositories(ctx, token, p)
	if err != nil {
		return d.failed(ctx, "search repositories", err), nil
	}
	return mcpgo.NewToolResultText(formatSearchRepos(q, repos)), nil
}

func (d *Dispatcher) toolGetRepo(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	r, err := d.cfg.Gateway.GetRepository(ctx, token, owner, repo)
	if err != nil {
		return d.failed(ctx, "get repository", err), nil
	}
	return mcpgo.NewToolResultText(formatRepo(r)), nil
}

func (d *Dispatcher) toolGetFile(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	path, err := requireString(req, "path")
	if err != nil {
		return nil, err
	}
	fc, err := d.cfg.Gateway.GetFileContent(ctx, token, owner, repo, path, req.GetString("ref", ""))
	if err != nil {
		return d.failed(ctx, "get file content", err), nil
	}
	return mcpgo.NewToolResultText(formatFile(owner, repo, path, fc)), nil
}

func (d *Dispatcher) toolListDirectory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	path := req.GetString("path", "")
	items, err := d.cfg.Gateway.ListDirectory(ctx, token, owner, repo, path, req.GetString("ref", ""))
	if err != nil {
		return d.failed(ctx, "list directory", err), nil
	}
	return mcpgo.NewToolResultText(formatDirectory(owner, repo, path, items)), nil
}

func (d *Dispatcher) toolListBranches(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	branches, err := d.cfg.Gateway.ListBranches(ctx, token, owner, repo, pageArgs(req))
	if err != nil {
		return d.failed(ctx, "list branches", err), nil
	}
	return mcpgo.NewToolResultText(formatBranches(owner, repo, branches)), nil
}

func (d *Dispatcher) toolListCommits(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	p := gh.CommitParams{
		SHA:        req.GetString("sha", ""),
		Path:       req.GetString("path", ""),
		PageParams: pageArgs(req),
	}
	commits, err := d.cfg.Gateway.ListCommits(ctx, token, owner, repo, p)
	if err != nil {
		return d.failed(ctx, "list commits", err), nil
	}
	return mcpgo.NewToolResultText(formatCommits(owner, repo, commits)), nil
}

func (d *Dispatcher) toolListIssues(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	p := gh.ListIssuesParams{
		State:      req.GetString("state", ""),
		Labels:     req.GetString("labels", ""),
		Assignee:   req.GetString("assignee", ""),
		Sort:       req.GetString("sort", ""),
		Direction:  req.GetString("direction", ""),
		PageParams: pageArgs(req),
	}
	issues, err := d.cfg.Gateway.ListIssues(ctx, token, owner, repo, p)
	if err != nil {
		return d.failed(ctx, "list issues", err), nil
	}
	return mcpgo.NewToolResultText(formatIssueList(owner, repo, issues)), nil
}

func (d *Dispatcher) toolSearchIssues(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	q, err := requireString(req, "q")
	if err != nil {
		return nil, err
	}
	p := gh.SearchParams{
		Query:      q,
		Sort:       req.GetString("sort", ""),
		Order:      req.GetString("order", ""),
		PageParams: pageArgs(req),
	}
	issues, err := d.cfg.Gateway.SearchIssues(ctx, token, p)
	if err != nil {
		return d.failed(ctx, "search issues", err), nil
	}
	return mcpgo.NewToolResultText(formatIssueSearch(q, issues)), nil
}

func (d *Dispatcher) toolCreateIssue(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	title, err := requireString(req, "title")
	if err != nil {
		return nil, err
	}
	if err := d.checkWrite(owner, repo); err != nil {
		return nil, err
	}

	in := gh.CreateIssueInput{
		Title:     title,
		Body:      req.GetString("body", ""),
		Labels:    stringList(req, "labels"),
		Assignees: stringList(req, "assignees"),
	}
	if err := core.ValidateIssueText(in.Title, in.Body); err != nil {
		return nil, err
	}
	if err := core.ValidateIssueLabels(in.Labels, in.Assignees); err != nil {
		return nil, err
	}
	issue, err := d.cfg.Gateway.CreateIssue(ctx, token, owner, repo, in)
	if err != nil {
		return d.failed(ctx, "create issue", err), nil
	}
	d.logger.InfoContext(ctx, "issue created", "trace_id", traceIDFrom(ctx), "repo", owner+"/"+repo, "issue_number", issue.Number)
	return mcpgo.NewToolResultText(fmt.Sprintf("Created issue #%d: %s\nURL: %s", issue.Number, issue.Title, issue.HTMLURL)), nil
}

func (d *Dispatcher) toolUpdateIssue(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	number, err := requireUint(req, "issue_number")
	if err != nil {
		return nil, err
	}
	if err := d.checkWrite(owner, repo); err != nil {
		return nil, err
	}

	in := gh.UpdateIssueInput{
		Title:     optionalString(req, "title"),
		Body:      optionalString(req, "body"),
		Labels:    stringList(req, "labels"),
		Assignees: stringList(req, "assignees"),
	}
	if err := core.ValidateIssuePatch(in.Title, in.Body); err != nil {
		return nil, err
	}
	if err := core.ValidateIssueLabels(in.Labels, in.Assignees); err != nil {
		return nil, err
	}
	// Unrecognised states are dropped rather than rejected.
	if s := optionalString(req, "state"); s != nil && (*s == string(gh.IssueOpen) || *s == string(gh.IssueClosed)) {
		in.State = s
	}

	issue, err := d.cfg.Gateway.UpdateIssue(ctx, token, owner, repo, number, in)
	if err != nil {
		return d.failed(ctx, "update issue", err), nil
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("Updated issue #%d: %s %s\nURL: %s",
		issue.Number, issueIcon(issue.State), issue.Title, issue.HTMLURL)), nil
}

func (d *Dispatcher) toolCreateIssueComment(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	number, err := requireUint(req, "issue_number")
	if err != nil {
		return nil, err
	}
	body, err := requireString(req, "body")
	if err != nil {
		return nil, err
	}
	if err := core.ValidateComment(body); err != nil {
		return nil, err
	}
	if err := d.checkWrite(owner, repo); err != nil {
		return nil, err
	}

	c, err := d.cfg.Gateway.CreateIssueComment(ctx, token, owner, repo, number, body)
	if err != nil {
		return d.failed(ctx, "create comment", err), nil
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("Commented on #%d\nURL: %s", number, c.HTMLURL)), nil
}

func (d *Dispatcher) toolListPulls(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	p := gh.ListPullsParams{
		State:      req.GetString("state", "open"),
		Head:       req.GetString("head", ""),
		Base:       req.GetString("base", ""),
		Sort:       req.GetString("sort", ""),
		Direction:  req.GetString("direction", ""),
		PageParams: pageArgs(req),
	}
	prs, err := d.cfg.Gateway.ListPullRequests(ctx, token, owner, repo, p)
	if err != nil {
		return d.failed(ctx, "list pull requests", err), nil
	}
	return mcpgo.NewToolResultText(formatPullList(owner, repo, prs)), nil
}

func (d *Dispatcher) toolCreatePull(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	in := gh.CreatePullRequestInput{
		Body:  req.GetString("body", ""),
		Draft: req.GetBool("draft", false),
	}
	for _, f := range []struct {
		key string
		dst *string
	}{{"title", &in.Title}, {"head", &in.Head}, {"base", &in.Base}} {
		if *f.dst, err = requireString(req, f.key); err != nil {
			return nil, err
		}
	}
	if err := core.ValidateIssueText(in.Title, in.Body); err != nil {
		return nil, err
	}
	if err := d.checkWrite(owner, repo); err != nil {
		return nil, err
	}

	pr, err := d.cfg.Gateway.CreatePullRequest(ctx, token, owner, repo, in)
	if err != nil {
		return d.failed(ctx, "create pull request", err), nil
	}
	d.logger.InfoContext(ctx, "pull request created", "trace_id", traceIDFrom(ctx), "repo", owner+"/"+repo, "pr_number", pr.Number)
	return mcpgo.NewToolResultText(fmt.Sprintf("Created pull request #%d: %s%s\nURL: %s",
		pr.Number, pr.Title, draftSuffix(pr.Draft), pr.HTMLURL)), nil
}

func (d *Dispatcher) toolGetPullDetails(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	number, err := requireUint(req, "pull_number")
	if err != nil {
		return nil, err
	}
	pr, err := d.cfg.Gateway.GetPullRequest(ctx, token, owner, repo, number)
	if err != nil {
		return d.failed(ctx, "get pull request details", err), nil
	}
	return mcpgo.NewToolResultText(formatPullDetails(pr)), nil
}

func (d *Dispatcher) toolCheckMergeable(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	number, err := requireUint(req, "pull_number")
	if err != nil {
		return nil, err
	}
	ok, err := d.cfg.Gateway.CheckMergeable(ctx, token, owner, repo, number)
	if err != nil {
		return d.failed(ctx, "check mergeability", err), nil
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("Pull Request #%d: %s", number, mergeableText(&ok))), nil
}

func (d *Dispatcher) toolMergePull(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	owner, repo, err := ownerRepoArgs(req)
	if err != nil {
		return nil, err
	}
	number, err := requireUint(req, "pull_number")
	if err != nil {
		return nil, err
	}
	if err := d.checkWrite(owner, repo); err != nil {
		return nil, err
	}

	method := req.GetString("merge_method", "merge")
	in := gh.MergeInput{
		CommitTitle:   req.GetString("commit_title", ""),
		CommitMessage: req.GetString("commit_message", ""),
		MergeMethod:   method,
	}
	res, err := d.cfg.Gateway.MergePullRequest(ctx, token, owner, repo, number, in)
	if err != nil {
		return d.failed(ctx, "merge pull request", err), nil
	}
	sha := "unknown"
	if res.SHA != nil {
		sha = *res.SHA
	}
	d.logger.InfoContext(ctx, "pull request merged", "trace_id", traceIDFrom(ctx), "repo", owner+"/"+repo, "pr_number", number, "merge_method", method)
	return mcpgo.NewToolResultText(fmt.Sprintf("Successfully merged pull request #%d using %s method\nMerge commit: %s", number, method, sha)), nil
}

var _ auth.Verifier = (*gh.Gateway)(nil)
