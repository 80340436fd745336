package mcp

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/toolhub/ghmcp/internal/auth"
	gh "github.com/toolhub/ghmcp/internal/github"
)

func formatRepoList(repos []gh.Repository) string {
	lines := make([]string, 0, len(repos))
	for _, r := range repos {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", r.FullName, r.Visibility, describe(r.Description)))
	}
	return fmt.Sprintf("Found %d repositories:\n%s", len(repos), strings.Join(lines, "\n"))
}

func formatSearchRepos(query string, repos []gh.Repository) string {
	lines := make([]string, 0, len(repos))
	for _, r := range repos {
		lines = append(lines, fmt.Sprintf("- %s ⭐%d: %s", r.FullName, r.StargazersCount, describe(r.Description)))
	}
	return fmt.Sprintf("Found %d repositories matching '%s':\n%s", len(repos), query, strings.Join(lines, "\n"))
}

func formatRepo(r *gh.Repository) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", r.FullName)
	fmt.Fprintf(&b, "Description: %s\n", describe(r.Description))
	visibility := r.Visibility
	if visibility == "" {
		visibility = "public"
		if r.Private {
			visibility = "private"
		}
	}
	fmt.Fprintf(&b, "Visibility: %s\n", visibility)
	fmt.Fprintf(&b, "Default branch: %s\n", r.DefaultBranch)
	if r.Language != nil {
		fmt.Fprintf(&b, "Language: %s\n", *r.Language)
	}
	fmt.Fprintf(&b, "Stars: %d, Forks: %d, Open issues: %d\n", r.StargazersCount, r.ForksCount, r.OpenIssuesCount)
	if len(r.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(r.Topics, ", "))
	}
	if r.Archived {
		b.WriteString("Archived\n")
	}
	fmt.Fprintf(&b, "URL: %s", r.HTMLURL)
	return b.String()
}

func describe(desc *string) string {
	if desc == nil || *desc == "" {
		return "No description"
	}
	return *desc
}

// decodeFileContent mirrors how upstream ships file bodies: base64 with
// embedded line breaks. Invalid UTF-8 is replaced rather than rejected.
func decodeFileContent(fc *gh.FileContent) string {
	if fc.Content == nil {
		return "No content available"
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(*fc.Content, "\n", ""))
	if err != nil {
		return fmt.Sprintf("Binary file (size: %d bytes)", fc.Size)
	}
	return strings.ToValidUTF8(string(raw), "\uFFFD")
}

func formatFile(owner, repo, path string, fc *gh.FileContent) string {
	return fmt.Sprintf("File: %s/%s/%s\nSize: %d bytes\n\n%s", owner, repo, path, fc.Size, decodeFileContent(fc))
}

func formatDirectory(owner, repo, path string, items []gh.DirectoryItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		icon := "❓"
		switch it.Type {
		case "dir":
			icon = "📁"
		case "file":
			icon = "📄"
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s)", icon, it.Name, it.Type))
	}
	if path == "" {
		path = "root"
	}
	return fmt.Sprintf("Directory listing for %s/%s/%s (%d items):\n%s", owner, repo, path, len(items), strings.Join(lines, "\n"))
}

func issueIcon(s gh.IssueState) string {
	if s == gh.IssueClosed {
		return "🔴"
	}
	return "🟢"
}

func pullIcon(s gh.PullRequestState) string {
	switch s {
	case gh.PullMerged:
		return "🟣"
	case gh.PullClosed:
		return "🔴"
	default:
		return "🟢"
	}
}

func formatIssueList(owner, repo string, issues []gh.Issue) string {
	lines := make([]string, 0, len(issues))
	for _, i := range issues {
		lines = append(lines, fmt.Sprintf("%s #%d: %s", issueIcon(i.State), i.Number, i.Title))
	}
	return fmt.Sprintf("Found %d issues in %s/%s:\n%s", len(issues), owner, repo, strings.Join(lines, "\n"))
}

func formatIssueSearch(query string, issues []gh.Issue) string {
	lines := make([]string, 0, len(issues))
	for _, i := range issues {
		kind := "issue"
		if i.PullRequest != nil {
			kind = "pull request"
		}
		lines = append(lines, fmt.Sprintf("%s #%d: %s (%s)\n  %s", issueIcon(i.State), i.Number, i.Title, kind, i.HTMLURL))
	}
	return fmt.Sprintf("Found %d issues matching '%s':\n%s", len(issues), query, strings.Join(lines, "\n"))
}

func formatPullList(owner, repo string, prs []gh.PullRequest) string {
	lines := make([]string, 0, len(prs))
	for i := range prs {
		pr := &prs[i]
		lines = append(lines, fmt.Sprintf("%s #%d: %s (%s→%s)", pullIcon(pr.State()), pr.Number, pr.Title, pr.Head.Ref, pr.Base.Ref))
	}
	return fmt.Sprintf("Found %d pull requests in %s/%s:\n%s", len(prs), owner, repo, strings.Join(lines, "\n"))
}

func draftSuffix(draft bool) string {
	if draft {
		return " (Draft)"
	}
	return ""
}

func mergeableText(m *bool) string {
	switch {
	case m == nil:
		return "❓ Mergeable status unknown"
	case *m:
		return "✅ Mergeable"
	default:
		return "❌ Not mergeable"
	}
}

func formatPullDetails(pr *gh.PullRequest) string {
	return fmt.Sprintf("Pull Request #%d: %s%s\n%s\nBranches: %s → %s\nAuthor: %s\nCreated: %s\n%s\nURL: %s",
		pr.Number, pr.Title, draftSuffix(pr.Draft), pullIcon(pr.State()),
		pr.Head.Ref, pr.Base.Ref, pr.User.Login, pr.CreatedAt, mergeableText(pr.Mergeable), pr.HTMLURL)
}

func formatBranches(owner, repo string, branches []gh.Branch) string {
	lines := make([]string, 0, len(branches))
	for _, b := range branches {
		line := fmt.Sprintf("- %s (%s)", b.Name, shortSHA(b.Commit.SHA))
		if b.Protected {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("Found %d branches in %s/%s:\n%s", len(branches), owner, repo, strings.Join(lines, "\n"))
}

func formatCommits(owner, repo string, commits []gh.Commit) string {
	lines := make([]string, 0, len(commits))
	for _, c := range commits {
		msg, _, _ := strings.Cut(c.Commit.Message, "\n")
		lines = append(lines, fmt.Sprintf("- %s %s (%s)", shortSHA(c.SHA), msg, c.Commit.Author.Name))
	}
	return fmt.Sprintf("Found %d commits in %s/%s:\n%s", len(commits), owner, repo, strings.Join(lines, "\n"))
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func formatAuthStatus(s auth.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s", s.Status)
	if s.Status == auth.StatusNotAuthenticated {
		return b.String()
	}
	if s.Login != "" {
		fmt.Fprintf(&b, "\nUser: %s", s.Login)
	}
	fmt.Fprintf(&b, "\nToken kind: %s", s.TokenKind)
	if len(s.Scopes) > 0 {
		fmt.Fprintf(&b, "\nScopes: %s", strings.Join(s.Scopes, ", "))
	} else {
		b.WriteString("\nScopes: unknown")
	}
	fmt.Fprintf(&b, "\nValidated: %s ago", s.Age.Round(time.Second))
	if s.ExpiresIn != nil {
		fmt.Fprintf(&b, "\nExpires in: %s", s.ExpiresIn.Round(time.Second))
	}
	return b.String()
}

func formatRateLimit(rl *gh.RateLimitStatus) string {
	return fmt.Sprintf("Rate limit: %d/%d remaining (%d used)\nResets at: %s",
		rl.Remaining, rl.Limit, rl.Used, time.Unix(rl.Reset, 0).UTC().Format(time.RFC3339))
}
