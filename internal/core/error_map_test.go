package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMapErrorTypedKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "authentication", err: Authentication("Bad credentials"), wantCode: 401, wantMsg: "Bad credentials"},
		{name: "upstream keeps status", err: UpstreamServer(422, "Validation Failed"), wantCode: 422, wantMsg: "Validation Failed"},
		{name: "rate limited", err: RateLimited(42 * time.Second), wantCode: 429, wantMsg: "Rate limit exceeded. Retry after 42 seconds"},
		{name: "transport", err: Transport(errors.New("connection refused")), wantCode: 503, wantMsg: "connection refused"},
		{name: "permission", err: PermissionDenied("Access denied: nope"), wantCode: 403, wantMsg: "Access denied: nope"},
		{name: "configuration", err: Configuration("bad %s", "url"), wantCode: 500, wantMsg: "bad url"},
		{name: "protocol", err: Protocol("Server not initialized. Call initialize first."), wantCode: 400, wantMsg: "Server not initialized. Call initialize first."},
		{name: "decode", err: Decode(errors.New("unexpected EOF")), wantCode: 500, wantMsg: "unexpected EOF"},
		{name: "invalid request", err: InvalidRequest("Unknown tool: %s", "x"), wantCode: 400, wantMsg: "Unknown tool: x"},
		{name: "wrapped", err: fmt.Errorf("get user: %w", Authentication("expired")), wantCode: 401, wantMsg: "expired"},
		{name: "untyped", err: errors.New("boom"), wantCode: -32603, wantMsg: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Fatalf("want code %d, got %d", tt.wantCode, got.Code)
			}
			if got.Message != tt.wantMsg {
				t.Fatalf("want message %q, got %q", tt.wantMsg, got.Message)
			}
		})
	}
}

func TestErrorDisplayStrings(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Authentication("Token cannot be empty"), "Authentication failed: Token cannot be empty"},
		{UpstreamServer(502, "bad gateway"), "GitHub API error: 502 - bad gateway"},
		{RateLimited(60 * time.Second), "Rate limit exceeded. Retry after: 60"},
		{InvalidRequest("Missing required parameter: owner"), "Invalid request: Missing required parameter: owner"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Fatalf("want %q, got %q", tt.want, got)
		}
	}
}

func TestErrorRetryable(t *testing.T) {
	if !UpstreamServer(503, "").Retryable() {
		t.Fatal("5xx should be retryable")
	}
	if UpstreamServer(404, "").Retryable() {
		t.Fatal("404 should not be retryable")
	}
	if !RateLimited(time.Second).Retryable() {
		t.Fatal("rate limit should be retryable by the caller")
	}
	if Authentication("x").Retryable() {
		t.Fatal("authentication failures are terminal")
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("list repos: %w", PermissionDenied("no"))
	if !IsKind(err, KindPermissionDenied) {
		t.Fatalf("expected permission kind, got %q", KindOf(err))
	}
	if IsKind(nil, KindPermissionDenied) {
		t.Fatal("nil error has no kind")
	}
	if RateLimited(-time.Second).RetryAfter != 0 {
		t.Fatal("negative retry-after should floor at zero")
	}
}
