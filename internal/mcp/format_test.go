package mcp

import (
	"encoding/json"
	"testing"

	gh "github.com/toolhub/ghmcp/internal/github"
)

func TestFormatDirectoryRoot(t *testing.T) {
	size := int64(20)
	items := []gh.DirectoryItem{
		{Name: "src", Type: "dir"},
		{Name: "go.mod", Type: "file", Size: &size},
		{Name: "vendor", Type: "submodule"},
	}
	got := formatDirectory("o", "r", "", items)
	want := "Directory listing for o/r/root (3 items):\n📁 src (dir)\n📄 go.mod (file)\n❓ vendor (submodule)"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestFormatPullDetails(t *testing.T) {
	var pr gh.PullRequest
	raw := `{"number":5,"title":"Add cache","state":"closed","draft":true,"merged_at":"2026-01-02T00:00:00Z",
		"head":{"ref":"feature"},"base":{"ref":"main"},"user":{"login":"octocat"},
		"created_at":"2026-01-01T00:00:00Z","mergeable":false,"html_url":"https://github.com/o/r/pull/5"}`
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := "Pull Request #5: Add cache (Draft)\n🟣\nBranches: feature → main\nAuthor: octocat\nCreated: 2026-01-01T00:00:00Z\n❌ Not mergeable\nURL: https://github.com/o/r/pull/5"
	if got := formatPullDetails(&pr); got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestFormatPullList(t *testing.T) {
	var prs []gh.PullRequest
	raw := `[{"number":1,"title":"a","state":"open","head":{"ref":"x"},"base":{"ref":"main"}},
		{"number":2,"title":"b","state":"closed","head":{"ref":"y"},"base":{"ref":"main"}}]`
	if err := json.Unmarshal([]byte(raw), &prs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := "Found 2 pull requests in o/r:\n🟢 #1: a (x→main)\n🔴 #2: b (y→main)"
	if got := formatPullList("o", "r", prs); got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}
