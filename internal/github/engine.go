package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/toolhub/ghmcp/internal/core"
	"github.com/toolhub/ghmcp/internal/logging"
)

const (
	acceptHeader     = "application/vnd.github.v3+json"
	apiVersionHeader = "2022-11-28"

	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second

	defaultMaxConcurrent  = 10
	defaultRetryAfter429  = 60 * time.Second
	defaultRateLimitReset = time.Hour
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// EngineConfig configures NewEngine. Zero values pick the defaults.
type EngineConfig struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	UserAgent     string
	MaxRetries    int
	MaxConcurrent int
	// RateLimitBuffer is the share of the hourly budget, in percent, below
	// which every response logs a warning.
	RateLimitBuffer int
	RequestLogging  bool
	Sink            core.EventSink
	Logger          *slog.Logger
	Now             func() time.Time
	Sleep           SleepFunc
}

// Response is a fully read 2xx upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RateLimit  *core.RateLimitSnapshot
}

// Engine sends authenticated requests upstream. It bounds concurrency,
// retries 5xx responses with exponential backoff and classifies failures
// into core errors. It is safe for concurrent use.
type Engine struct {
	client          *http.Client
	userAgent       string
	maxRetries      int
	rateLimitBuffer int
	requestLogging  bool
	sem             chan struct{}
	sink            core.EventSink
	logger          *slog.Logger
	now             func() time.Time
	sleep           SleepFunc

	mu       sync.Mutex
	last     core.RateLimitSnapshot
	haveLast bool
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		client:          cfg.HTTPClient,
		userAgent:       cfg.UserAgent,
		maxRetries:      cfg.MaxRetries,
		rateLimitBuffer: cfg.RateLimitBuffer,
		requestLogging:  cfg.RequestLogging,
		sink:            cfg.Sink,
		logger:          cfg.Logger,
		now:             cfg.Now,
		sleep:           cfg.Sleep,
	}
	if e.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		e.client = &http.Client{Timeout: timeout}
	}
	if e.userAgent == "" {
		e.userAgent = "github-mcp-server"
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	e.sem = make(chan struct{}, n)
	if e.sink == nil {
		e.sink = core.NopSink{}
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	return e
}

// Execute sends one logical request. 5xx responses are retried up to
// MaxRetries times. Any other non-2xx status, and any transport failure,
// returns immediately.
func (e *Engine) Execute(ctx context.Context, method, rawURL, token string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, core.Decode(fmt.Errorf("marshal request body: %w", err))
		}
		payload = b
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for request slot: %w", ctx.Err())
	}
	defer func() { <-e.sem }()

	endpoint := logging.SanitizeURL(rawURL)
	start := e.now()
	backoff := initialBackoff
	attempts := 0

	finish := func(status int, err error) {
		e.sink.APICall(ctx, core.APICall{
			Method:   method,
			Endpoint: endpoint,
			Status:   status,
			Attempts: attempts,
			Duration: e.now().Sub(start),
			Err:      err,
		})
	}

	for {
		attempts++
		attemptStart := e.now()
		resp, err := e.send(ctx, method, rawURL, token, payload)
		if err != nil {
			terr := core.Transport(err)
			e.logger.Warn("github request failed", "method", method, "url", endpoint, "err", err)
			finish(0, terr)
			return nil, terr
		}

		if e.requestLogging {
			e.logger.Debug("github api request completed",
				"method", method,
				"url", endpoint,
				"status", resp.StatusCode,
				"attempt", attempts,
				"duration_ms", e.now().Sub(attemptStart).Milliseconds(),
			)
		}

		snap, ok := parseRateLimit(resp.Header)
		if ok {
			e.observeRateLimit(ctx, snap)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
			if ok {
				out.RateLimit = &snap
			}
			finish(resp.StatusCode, nil)
			return out, nil
		}

		if resp.StatusCode >= 500 && resp.StatusCode <= 599 && attempts <= e.maxRetries {
			e.logger.Warn("github server error, retrying",
				"status", resp.StatusCode,
				"backoff_ms", backoff.Milliseconds(),
				"attempt", attempts,
				"max_retries", e.maxRetries,
			)
			if err := e.sleep(ctx, backoff); err != nil {
				finish(resp.StatusCode, err)
				return nil, fmt.Errorf("retry backoff: %w", err)
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		cerr := e.classify(resp)
		if core.IsKind(cerr, core.KindUpstreamServer) && resp.StatusCode >= 500 {
			e.logger.Error("github server error after retries", "status", resp.StatusCode, "attempts", attempts)
		}
		finish(resp.StatusCode, cerr)
		return nil, cerr
	}
}

// LastRateLimit returns the snapshot from the most recent response that
// carried rate-limit headers.
func (e *Engine) LastRateLimit() (core.RateLimitSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.haveLast
}

type rawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *Engine) send(ctx context.Context, method, rawURL, token string, payload []byte) (*rawResponse, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersionHeader)
	req.Header.Set("User-Agent", e.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &rawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func (e *Engine) classify(resp *rawResponse) error {
	body := string(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		e.logger.Error("github authentication failed, invalid or expired token")
		return core.Authentication("Invalid or expired token")
	case http.StatusForbidden:
		if remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil && remaining == 0 {
			now := e.now()
			reset := now.Add(defaultRateLimitReset)
			if secs, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
				reset = time.Unix(secs, 0)
			}
			e.logger.Warn("github rate limit exceeded", "reset", reset.Unix())
			return core.RateLimited(reset.Sub(now).Truncate(time.Second))
		}
		if d, ok := retryAfterHeader(resp.Header); ok {
			return core.RateLimited(d)
		}
		e.logger.Error("github access denied", "body", body)
		return core.PermissionDenied("Access denied: " + body)
	case http.StatusTooManyRequests:
		d, ok := retryAfterHeader(resp.Header)
		if !ok {
			d = defaultRetryAfter429
		}
		e.logger.Warn("github secondary rate limit", "retry_after_seconds", int64(d/time.Second))
		return core.RateLimited(d)
	default:
		return core.UpstreamServer(resp.StatusCode, body)
	}
}

func (e *Engine) observeRateLimit(ctx context.Context, snap core.RateLimitSnapshot) {
	e.mu.Lock()
	e.last = snap
	e.haveLast = true
	e.mu.Unlock()

	if e.rateLimitBuffer > 0 && snap.Limit > 0 && snap.Remaining*100 <= snap.Limit*e.rateLimitBuffer {
		e.logger.Warn("github rate limit inside reserve buffer",
			"remaining", snap.Remaining,
			"limit", snap.Limit,
			"buffer_percent", e.rateLimitBuffer,
		)
	}
	e.sink.RateLimit(ctx, snap)
}

// parseRateLimit reads the x-ratelimit-* headers. Limit and remaining are
// required; reset and used default to zero.
func parseRateLimit(h http.Header) (core.RateLimitSnapshot, bool) {
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil {
		return core.RateLimitSnapshot{}, false
	}
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return core.RateLimitSnapshot{}, false
	}
	snap := core.RateLimitSnapshot{Limit: limit, Remaining: remaining}
	if v, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		snap.Reset = v
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Used")); err == nil {
		snap.Used = v
	}
	return snap, true
}

func retryAfterHeader(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
