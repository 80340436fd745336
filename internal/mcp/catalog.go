package mcp

import (
	"sort"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

var (
	toolsOnce sync.Once
	toolList  []mcpgo.Tool
)

// Tools returns the full tool catalog. The slice is built once and must be
// treated as read-only.
func Tools() []mcpgo.Tool {
	toolsOnce.Do(func() { toolList = buildTools() })
	return toolList
}

func ownerRepo() []mcpgo.ToolOption {
	return []mcpgo.ToolOption{
		mcpgo.WithString("owner", mcpgo.Required(), mcpgo.Description("Repository owner")),
		mcpgo.WithString("repo", mcpgo.Required(), mcpgo.Description("Repository name")),
	}
}

func paging(noun string) []mcpgo.ToolOption {
	return []mcpgo.ToolOption{
		mcpgo.WithNumber("per_page",
			mcpgo.Description("Number of "+noun+" per page"),
			mcpgo.Min(1), mcpgo.Max(100), mcpgo.DefaultNumber(30)),
		mcpgo.WithNumber("page",
			mcpgo.Description("Page number"),
			mcpgo.Min(1), mcpgo.DefaultNumber(1)),
	}
}

func stringArray(name, desc string) mcpgo.ToolOption {
	return mcpgo.WithArray(name, mcpgo.Description(desc), mcpgo.Items(map[string]any{"type": "string"}))
}

func tool(name, desc string, groups ...[]mcpgo.ToolOption) mcpgo.Tool {
	opts := []mcpgo.ToolOption{mcpgo.WithDescription(desc)}
	for _, g := range groups {
		opts = append(opts, g...)
	}
	return mcpgo.NewTool(name, opts...)
}

func opts(o ...mcpgo.ToolOption) []mcpgo.ToolOption { return o }

func buildTools() []mcpgo.Tool {
	return []mcpgo.Tool{
		tool("github_auth", "Authenticate with GitHub using a personal access token",
			opts(mcpgo.WithString("token", mcpgo.Required(), mcpgo.Description("GitHub personal access token")))),

		tool("github_list_repos", "List repositories for the authenticated user",
			opts(
				mcpgo.WithString("visibility", mcpgo.Enum("all", "public", "private"),
					mcpgo.Description("Repository visibility filter"), mcpgo.DefaultString("all")),
				mcpgo.WithString("sort", mcpgo.Enum("created", "updated", "pushed", "full_name"),
					mcpgo.Description("Sort repositories by"), mcpgo.DefaultString("updated")),
				mcpgo.WithString("direction", mcpgo.Enum("asc", "desc"),
					mcpgo.Description("Sort direction"), mcpgo.DefaultString("desc")),
			),
			paging("repositories")),

		tool("github_search_repos", "Search for repositories on GitHub",
			opts(
				mcpgo.WithString("q", mcpgo.Required(), mcpgo.Description("Search query")),
				mcpgo.WithString("sort", mcpgo.Enum("stars", "forks", "help-wanted-issues", "updated"),
					mcpgo.Description("Sort repositories by")),
				mcpgo.WithString("order", mcpgo.Enum("asc", "desc"),
					mcpgo.Description("Sort order"), mcpgo.DefaultString("desc")),
			),
			paging("repositories")),

		tool("github_get_file", "Get the contents of a file from a repository",
			ownerRepo(),
			opts(
				mcpgo.WithString("path", mcpgo.Required(), mcpgo.Description("File path")),
				mcpgo.WithString("ref", mcpgo.Description("Branch, tag, or commit SHA")),
			)),

		tool("github_list_directory", "List the contents of a directory in a repository",
			ownerRepo(),
			opts(
				mcpgo.WithString("path", mcpgo.Description("Directory path"), mcpgo.DefaultString("")),
				mcpgo.WithString("ref", mcpgo.Description("Branch, tag, or commit SHA")),
			)),

		tool("github_list_issues", "List issues for a repository",
			ownerRepo(),
			opts(
				mcpgo.WithString("state", mcpgo.Enum("open", "closed", "all"),
					mcpgo.Description("Issue state filter"), mcpgo.DefaultString("open")),
				mcpgo.WithString("labels", mcpgo.Description("Comma-separated list of label names")),
				mcpgo.WithString("assignee", mcpgo.Description("Username of assignee")),
				mcpgo.WithString("sort", mcpgo.Enum("created", "updated", "comments"),
					mcpgo.Description("Sort issues by"), mcpgo.DefaultString("created")),
				mcpgo.WithString("direction", mcpgo.Enum("asc", "desc"),
					mcpgo.Description("Sort direction"), mcpgo.DefaultString("desc")),
			),
			paging("issues")),

		tool("github_create_issue", "Create a new issue in a repository",
			ownerRepo(),
			opts(
				mcpgo.WithString("title", mcpgo.Required(), mcpgo.Description("Issue title")),
				mcpgo.WithString("body", mcpgo.Description("Issue body")),
				stringArray("labels", "Array of label names"),
				stringArray("assignees", "Array of usernames to assign"),
			)),

		tool("github_update_issue", "Update an existing issue",
			ownerRepo(),
			opts(
				mcpgo.WithNumber("issue_number", mcpgo.Required(), mcpgo.Description("Issue number")),
				mcpgo.WithString("title", mcpgo.Description("Issue title")),
				mcpgo.WithString("body", mcpgo.Description("Issue body")),
				mcpgo.WithString("state", mcpgo.Enum("open", "closed"), mcpgo.Description("Issue state")),
				stringArray("labels", "Array of label names"),
				stringArray("assignees", "Array of usernames to assign"),
			)),

		tool("github_list_prs", "List pull requests for a repository",
			ownerRepo(),
			opts(
				mcpgo.WithString("state", mcpgo.Enum("open", "closed", "all"),
					mcpgo.Description("Pull request state filter"), mcpgo.DefaultString("open")),
				mcpgo.WithString("head", mcpgo.Description("Filter by head branch")),
				mcpgo.WithString("base", mcpgo.Description("Filter by base branch")),
				mcpgo.WithString("sort", mcpgo.Enum("created", "updated", "popularity", "long-running"),
					mcpgo.Description("Sort pull requests by"), mcpgo.DefaultString("created")),
				mcpgo.WithString("direction", mcpgo.Enum("asc", "desc"),
					mcpgo.Description("Sort direction"), mcpgo.DefaultString("desc")),
			),
			paging("pull requests")),

		tool("github_create_pr", "Create a new pull request",
			ownerRepo(),
			opts(
				mcpgo.WithString("title", mcpgo.Required(), mcpgo.Description("Pull request title")),
				mcpgo.WithString("body", mcpgo.Description("Pull request body")),
				mcpgo.WithString("head", mcpgo.Required(), mcpgo.Description("Head branch name")),
				mcpgo.WithString("base", mcpgo.Required(), mcpgo.Description("Base branch name")),
				mcpgo.WithBoolean("draft", mcpgo.Description("Create as draft pull request"), mcpgo.DefaultBool(false)),
			)),

		tool("github_get_pr_details", "Get details of a specific pull request",
			ownerRepo(),
			opts(mcpgo.WithNumber("pull_number", mcpgo.Required(), mcpgo.Description("Pull request number")))),

		tool("github_merge_pr", "Merge a pull request",
			ownerRepo(),
			opts(
				mcpgo.WithNumber("pull_number", mcpgo.Required(), mcpgo.Description("Pull request number")),
				mcpgo.WithString("commit_title", mcpgo.Description("Commit title for merge")),
				mcpgo.WithString("commit_message", mcpgo.Description("Commit message for merge")),
				mcpgo.WithString("merge_method", mcpgo.Enum("merge", "squash", "rebase"),
					mcpgo.Description("Merge method"), mcpgo.DefaultString("merge")),
			)),

		tool("github_get_repo", "Get metadata for a single repository",
			ownerRepo()),

		tool("github_list_branches", "List branches of a repository",
			ownerRepo(),
			paging("branches")),

		tool("github_list_commits", "List commits of a repository",
			ownerRepo(),
			opts(
				mcpgo.WithString("sha", mcpgo.Description("Branch name or commit SHA to start listing from")),
				mcpgo.WithString("path", mcpgo.Description("Only commits touching this path")),
			),
			paging("commits")),

		tool("github_search_issues", "Search issues and pull requests across GitHub",
			opts(
				mcpgo.WithString("q", mcpgo.Required(), mcpgo.Description("Search query")),
				mcpgo.WithString("sort", mcpgo.Enum("comments", "reactions", "created", "updated"),
					mcpgo.Description("Sort results by")),
				mcpgo.WithString("order", mcpgo.Enum("asc", "desc"),
					mcpgo.Description("Sort order"), mcpgo.DefaultString("desc")),
			),
			paging("results")),

		tool("github_create_issue_comment", "Comment on an issue or pull request",
			ownerRepo(),
			opts(
				mcpgo.WithNumber("issue_number", mcpgo.Required(), mcpgo.Description("Issue or pull request number")),
				mcpgo.WithString("body", mcpgo.Required(), mcpgo.Description("Comment body")),
			)),

		tool("github_check_pr_mergeable", "Check whether a pull request can be merged",
			ownerRepo(),
			opts(mcpgo.WithNumber("pull_number", mcpgo.Required(), mcpgo.Description("Pull request number")))),

		tool("github_auth_status", "Show the current session's authentication status"),

		tool("github_rate_limit", "Show the GitHub API rate limit for the current credential"),
	}
}

// ToolDefinition is a flattened view of a catalog entry for documentation.
type ToolDefinition struct {
	Name        string
	Description string
	Inputs      []ToolInput
}

type ToolInput struct {
	Name     string
	Type     string
	Required bool
}

// ToolDefinitions flattens the catalog, with inputs sorted by name.
func ToolDefinitions() []ToolDefinition {
	tools := Tools()
	out := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		required := make(map[string]bool, len(t.InputSchema.Required))
		for _, r := range t.InputSchema.Required {
			required[r] = true
		}
		names := make([]string, 0, len(t.InputSchema.Properties))
		for n := range t.InputSchema.Properties {
			names = append(names, n)
		}
		sort.Strings(names)

		def := ToolDefinition{Name: t.Name, Description: t.Description}
		for _, n := range names {
			typ := "any"
			if prop, ok := t.InputSchema.Properties[n].(map[string]any); ok {
				if s, ok := prop["type"].(string); ok {
					typ = s
				}
			}
			def.Inputs = append(def.Inputs, ToolInput{Name: n, Type: typ, Required: required[n]})
		}
		out = append(out, def)
	}
	return out
}
