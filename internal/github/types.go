package github

import "github.com/toolhub/ghmcp/internal/auth"

type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	HTMLURL   string `json:"html_url"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Type      string `json:"type,omitempty"`
	SiteAdmin bool   `json:"site_admin,omitempty"`
}

func (u User) Identity() auth.Identity {
	return auth.Identity{
		Login:   u.Login,
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		HTMLURL: u.HTMLURL,
		Type:    u.Type,
	}
}

type Repository struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	FullName        string   `json:"full_name"`
	Description     *string  `json:"description"`
	Private         bool     `json:"private"`
	HTMLURL         string   `json:"html_url"`
	CloneURL        string   `json:"clone_url"`
	DefaultBranch   string   `json:"default_branch"`
	Owner           User     `json:"owner"`
	StargazersCount int      `json:"stargazers_count"`
	ForksCount      int      `json:"forks_count"`
	OpenIssuesCount int      `json:"open_issues_count"`
	Language        *string  `json:"language"`
	Topics          []string `json:"topics"`
	Archived        bool     `json:"archived"`
	Visibility      string   `json:"visibility"`
	UpdatedAt       string   `json:"updated_at"`
}

type FileContent struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	SHA         string  `json:"sha"`
	Size        int64   `json:"size"`
	HTMLURL     string  `json:"html_url"`
	DownloadURL *string `json:"download_url"`
	Type        string  `json:"type"`
	Content     *string `json:"content"`
	Encoding    *string `json:"encoding"`
}

type DirectoryItem struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    *int64 `json:"size"`
	HTMLURL string `json:"html_url"`
	Type    string `json:"type"`
}

type Label struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description"`
}

type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

type Issue struct {
	ID          int64      `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        *string    `json:"body"`
	State       IssueState `json:"state"`
	Labels      []Label    `json:"labels"`
	Assignees   []User     `json:"assignees"`
	User        *User      `json:"user"`
	Comments    int        `json:"comments"`
	HTMLURL     string     `json:"html_url"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
	ClosedAt    *string    `json:"closed_at"`
	PullRequest *struct {
		HTMLURL  string  `json:"html_url"`
		MergedAt *string `json:"merged_at"`
	} `json:"pull_request,omitempty"`
}

type PullRequestState string

const (
	PullOpen   PullRequestState = "open"
	PullClosed PullRequestState = "closed"
	PullMerged PullRequestState = "merged"
)

type PullRequestBranch struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
	SHA   string `json:"sha"`
}

type PullRequest struct {
	ID             int64             `json:"id"`
	Number         int               `json:"number"`
	Title          string            `json:"title"`
	Body           *string           `json:"body"`
	RawState       PullRequestState  `json:"state"`
	User           User              `json:"user"`
	Draft          bool              `json:"draft"`
	Head           PullRequestBranch `json:"head"`
	Base           PullRequestBranch `json:"base"`
	Merged         *bool             `json:"merged"`
	Mergeable      *bool             `json:"mergeable"`
	MergeableState *string           `json:"mergeable_state"`
	Commits        int               `json:"commits"`
	Additions      int               `json:"additions"`
	Deletions      int               `json:"deletions"`
	ChangedFiles   int               `json:"changed_files"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	ClosedAt       *string           `json:"closed_at"`
	MergedAt       *string           `json:"merged_at"`
	MergeCommitSHA *string           `json:"merge_commit_sha"`
	HTMLURL        string            `json:"html_url"`
}

// State folds merged_at into the upstream open/closed state.
func (pr *PullRequest) State() PullRequestState {
	if pr.RawState == PullClosed && pr.MergedAt != nil {
		return PullMerged
	}
	return pr.RawState
}

type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
		URL string `json:"url"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

type GitUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author    GitUser `json:"author"`
		Committer GitUser `json:"committer"`
		Message   string  `json:"message"`
	} `json:"commit"`
	HTMLURL string `json:"html_url"`
	Author  *User  `json:"author"`
}

type Comment struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	HTMLURL   string `json:"html_url"`
	User      *User  `json:"user"`
	CreatedAt string `json:"created_at"`
}

type RateLimitStatus struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

type MergeResult struct {
	SHA     *string `json:"sha"`
	Merged  bool    `json:"merged"`
	Message string  `json:"message"`
}

type PageParams struct {
	PerPage int
	Page    int
}

type ListReposParams struct {
	Visibility string
	Sort       string
	Direction  string
	PageParams
}

type SearchParams struct {
	Query string
	Sort  string
	Order string
	PageParams
}

type CommitParams struct {
	SHA  string
	Path string
	PageParams
}

type ListIssuesParams struct {
	State     string
	Labels    string
	Assignee  string
	Sort      string
	Direction string
	PageParams
}

type ListPullsParams struct {
	State     string
	Head      string
	Base      string
	Sort      string
	Direction string
	PageParams
}

type CreateIssueInput struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// UpdateIssueInput only sends the fields that are set.
type UpdateIssueInput struct {
	Title     *string  `json:"title,omitempty"`
	Body      *string  `json:"body,omitempty"`
	State     *string  `json:"state,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

type CreatePullRequestInput struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body,omitempty"`
	Draft bool   `json:"draft,omitempty"`
}

type MergeInput struct {
	CommitTitle   string `json:"commit_title,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
	MergeMethod   string `json:"merge_method,omitempty"`
}
