package core

import "testing"

func TestPolicyCheckRepo(t *testing.T) {
	p := NewPolicy("owner/repo-a, Owner/Repo-B")

	if err := p.CheckRepo("owner", "repo-a"); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := p.CheckRepo("owner", "repo-b"); err != nil {
		t.Fatalf("expected allowed (case-insensitive), got %v", err)
	}
	err := p.CheckRepo("evil", "repo")
	if err == nil {
		t.Fatal("expected denied for unlisted repo")
	}
	if !IsKind(err, KindPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestPolicyOwnerWildcard(t *testing.T) {
	p := NewPolicy("acme/*")

	if err := p.CheckRepo("acme", "anything"); err != nil {
		t.Fatalf("expected allowed by wildcard, got %v", err)
	}
	if err := p.CheckRepo("other", "anything"); err == nil {
		t.Fatal("expected denied for other owner")
	}
}

func TestPolicyEmptyAllowlistAllowsAll(t *testing.T) {
	p := NewPolicy("")

	if err := p.CheckRepo("any", "repo"); err != nil {
		t.Fatalf("expected allowed when allowlist is empty, got %v", err)
	}

	var nilPolicy *Policy
	if err := nilPolicy.CheckRepo("any", "repo"); err != nil {
		t.Fatalf("nil policy should allow, got %v", err)
	}
}

func TestPolicyRepos(t *testing.T) {
	p := NewPolicy("b/two,a/one,,")
	got := p.Repos()
	if len(got) != 2 || got[0] != "a/one" || got[1] != "b/two" {
		t.Fatalf("unexpected repos: %v", got)
	}
}
