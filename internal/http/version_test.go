package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/toolhub/ghmcp/internal/core"
	"github.com/toolhub/ghmcp/internal/telemetry"
)

type fixedRateLimit struct {
	snap core.RateLimitSnapshot
	ok   bool
}

func (f fixedRateLimit) LastRateLimit() (core.RateLimitSnapshot, bool) { return f.snap, f.ok }

func newTestServer(build BuildInfo, rl RateLimitReader) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", logger, build, rl, false)
}

func TestVersionEndpointReturnsDefaults(t *testing.T) {
	s := newTestServer(BuildInfo{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if got["version"] != "" {
		t.Fatalf("expected empty version, got %q", got["version"])
	}
	if got["git_commit"] != "" {
		t.Fatalf("expected empty git_commit, got %q", got["git_commit"])
	}
	if got["build_time"] != "" {
		t.Fatalf("expected empty build_time, got %q", got["build_time"])
	}
}

func TestVersionEndpointReturnsInjectedValues(t *testing.T) {
	s := newTestServer(BuildInfo{
		Version:   "1.2.3",
		GitCommit: "abc123",
		BuildTime: "2026-02-21T12:00:00Z",
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if got["version"] != "1.2.3" {
		t.Fatalf("unexpected version: %q", got["version"])
	}
	if got["git_commit"] != "abc123" {
		t.Fatalf("unexpected git_commit: %q", got["git_commit"])
	}
	if got["build_time"] != "2026-02-21T12:00:00Z" {
		t.Fatalf("unexpected build_time: %q", got["build_time"])
	}
}

func TestMetricsEndpointRendersRegistry(t *testing.T) {
	telemetry.IncToolCall("github_list_repos", "ok")
	s := newTestServer(BuildInfo{}, nil)

	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), `ghmcp_tool_calls_total{tool="github_list_repos",status="ok"}`) {
		t.Fatalf("tool call series missing:\n%s", rr.Body.String())
	}
}

func TestHealthzIncludesRateLimit(t *testing.T) {
	s := newTestServer(BuildInfo{}, fixedRateLimit{snap: core.RateLimitSnapshot{Limit: 5000, Remaining: 42}, ok: true})

	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var got healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != "ok" || got.RateLimit == nil || got.RateLimit.Remaining != 42 {
		t.Fatalf("unexpected %+v", got)
	}
}
