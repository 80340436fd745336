package github

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolhub/ghmcp/internal/core"
)

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	err    error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return r.err
}

type apiCallSink struct {
	core.NopSink
	mu    sync.Mutex
	calls []core.APICall
	snaps []core.RateLimitSnapshot
}

func (s *apiCallSink) APICall(_ context.Context, c core.APICall) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *apiCallSink) RateLimit(_ context.Context, snap core.RateLimitSnapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func newTestEngine(maxRetries int, sleeper *recordingSleeper, sink core.EventSink) *Engine {
	return NewEngine(EngineConfig{
		UserAgent:  "ghmcp-test/1.0",
		MaxRetries: maxRetries,
		Sleep:      sleeper.Sleep,
		Sink:       sink,
	})
}

func TestExecuteSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ghp_testtoken123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github.v3+json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got != "2022-11-28" {
			t.Errorf("X-GitHub-Api-Version = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "ghmcp-test/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		wantCT := ""
		if r.Method == http.MethodPost {
			wantCT = "application/json"
			b, _ := io.ReadAll(r.Body)
			if string(b) != `{"title":"t"}` {
				t.Errorf("body = %s", b)
			}
		}
		if got := r.Header.Get("Content-Type"); got != wantCT {
			t.Errorf("%s Content-Type = %q, want %q", r.Method, got, wantCT)
		}
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.Header().Set("X-RateLimit-Used", "1")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sink := &apiCallSink{}
	e := newTestEngine(3, &recordingSleeper{}, sink)

	resp, err := e.Execute(context.Background(), http.MethodGet, srv.URL+"/user", "ghp_testtoken123", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.RateLimit == nil || resp.RateLimit.Remaining != 4999 || resp.RateLimit.Used != 1 {
		t.Fatalf("unexpected rate limit %+v", resp.RateLimit)
	}
	if _, err := e.Execute(context.Background(), http.MethodPost, srv.URL+"/repos/o/r/issues", "ghp_testtoken123", map[string]string{"title": "t"}); err != nil {
		t.Fatalf("post: %v", err)
	}

	last, ok := e.LastRateLimit()
	if !ok || last.Limit != 5000 || last.Reset != 1700000000 {
		t.Fatalf("unexpected last snapshot %+v ok=%v", last, ok)
	}
	if len(sink.snaps) != 2 || len(sink.calls) != 2 {
		t.Fatalf("expected 2 snapshots and 2 api calls, got %d and %d", len(sink.snaps), len(sink.calls))
	}
	if sink.calls[0].Status != 200 || sink.calls[0].Attempts != 1 || sink.calls[0].Err != nil {
		t.Fatalf("unexpected api call event %+v", sink.calls[0])
	}
}

func TestExecuteRetriesServerErrorsWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	sink := &apiCallSink{}
	e := newTestEngine(4, sleeper, sink)

	_, err := e.Execute(context.Background(), http.MethodGet, srv.URL+"/user", "ghp_testtoken123", nil)

	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Kind != core.KindUpstreamServer || cerr.Status != 502 || cerr.Message != "bad gateway" {
		t.Fatalf("expected upstream 502 error, got %v", err)
	}
	if got := hits.Load(); got != 5 {
		t.Fatalf("expected 5 attempts for 4 retries, got %d", got)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	if len(sleeper.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeper.sleeps, want)
	}
	for i := range want {
		if sleeper.sleeps[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", sleeper.sleeps, want)
		}
	}
	if sink.calls[0].Attempts != 5 {
		t.Fatalf("api call event attempts = %d", sink.calls[0].Attempts)
	}
}

func TestExecuteRecoversAfterTransientServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	e := newTestEngine(3, sleeper, nil)
	resp, err := e.Execute(context.Background(), http.MethodGet, srv.URL+"/user", "ghp_testtoken123", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(resp.Body) != `{"login":"octocat"}` || len(sleeper.sleeps) != 1 {
		t.Fatalf("unexpected body %s or sleeps %v", resp.Body, sleeper.sleeps)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	e := newTestEngine(10, sleeper, nil)
	_, _ = e.Execute(context.Background(), http.MethodGet, srv.URL, "ghp_testtoken123", nil)

	if got := sleeper.sleeps[len(sleeper.sleeps)-1]; got != 30*time.Second {
		t.Fatalf("last backoff = %v, want 30s cap", got)
	}
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		body     string
		wantKind core.Kind
		wantMsg  string
		retry    time.Duration
	}{
		{name: "401", status: 401, body: `{"message":"Bad credentials"}`, wantKind: core.KindAuthentication, wantMsg: "Authentication failed: Invalid or expired token"},
		{name: "404", status: 404, body: "Not Found", wantKind: core.KindUpstreamServer, wantMsg: "GitHub API error: 404 - Not Found"},
		{name: "422", status: 422, body: "Validation Failed", wantKind: core.KindUpstreamServer, wantMsg: "GitHub API error: 422 - Validation Failed"},
		{name: "403 permission", status: 403, body: "Resource not accessible", wantKind: core.KindPermissionDenied, wantMsg: "Permission denied: Access denied: Resource not accessible"},
		{name: "403 retry-after", status: 403, header: map[string]string{"Retry-After": "30"}, wantKind: core.KindRateLimited, retry: 30 * time.Second},
		{name: "429 retry-after", status: 429, header: map[string]string{"Retry-After": "7"}, wantKind: core.KindRateLimited, retry: 7 * time.Second},
		{name: "429 default", status: 429, wantKind: core.KindRateLimited, retry: 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sleeper := &recordingSleeper{}
			e := newTestEngine(3, sleeper, nil)
			_, err := e.Execute(context.Background(), http.MethodGet, srv.URL, "ghp_testtoken123", nil)

			var cerr *core.Error
			if !errors.As(err, &cerr) || cerr.Kind != tt.wantKind {
				t.Fatalf("expected %s, got %v", tt.wantKind, err)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Fatalf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			if tt.retry != 0 && cerr.RetryAfter != tt.retry {
				t.Fatalf("retry after = %v, want %v", cerr.RetryAfter, tt.retry)
			}
			if hits.Load() != 1 || len(sleeper.sleeps) != 0 {
				t.Fatalf("expected a single attempt without sleeping, got %d attempts and sleeps %v", hits.Load(), sleeper.sleeps)
			}
		})
	}
}

func TestExhaustedPrimaryRateLimitUsesReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	reset := now.Add(90 * time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("API rate limit exceeded"))
	}))
	defer srv.Close()

	e := NewEngine(EngineConfig{Now: func() time.Time { return now }, Sleep: (&recordingSleeper{}).Sleep})
	_, err := e.Execute(context.Background(), http.MethodGet, srv.URL, "ghp_testtoken123", nil)

	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Kind != core.KindRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if cerr.RetryAfter != 90*time.Second {
		t.Fatalf("retry after = %v, want 90s", cerr.RetryAfter)
	}
	if err.Error() != "Rate limit exceeded. Retry after: 90" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestExhaustedRateLimitWithoutResetWaitsAnHour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := newTestEngine(0, &recordingSleeper{}, nil)
	_, err := e.Execute(context.Background(), http.MethodGet, srv.URL, "ghp_testtoken123", nil)

	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.RetryAfter != time.Hour {
		t.Fatalf("expected one hour retry, got %v", err)
	}
}

func TestTransportErrorsAreNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	sleeper := &recordingSleeper{}
	e := newTestEngine(3, sleeper, nil)
	_, err := e.Execute(context.Background(), http.MethodGet, url, "ghp_testtoken123", nil)

	if !core.IsKind(err, core.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(sleeper.sleeps) != 0 {
		t.Fatalf("transport errors must not be retried, slept %v", sleeper.sleeps)
	}
}

func TestBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewEngine(EngineConfig{MaxRetries: 3})
	start := time.Now()
	_, err := e.Execute(ctx, http.MethodGet, srv.URL, "ghp_testtoken123", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled request should not wait out the backoff")
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := NewEngine(EngineConfig{MaxConcurrent: 2})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Execute(context.Background(), http.MethodGet, srv.URL, "ghp_testtoken123", nil)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestMarshalFailureIsDecodeError(t *testing.T) {
	e := newTestEngine(0, &recordingSleeper{}, nil)
	_, err := e.Execute(context.Background(), http.MethodPost, "http://127.0.0.1:1", "ghp_testtoken123", map[string]any{"bad": make(chan int)})
	if !core.IsKind(err, core.KindDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
