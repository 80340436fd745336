package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/toolhub/ghmcp/internal/core"
)

func TestLogSinkEscalatesLowRateLimit(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	ctx := context.Background()

	sink.RateLimit(ctx, core.RateLimitSnapshot{Limit: 5000, Remaining: 4000})
	assert.Empty(t, buf.String(), "healthy snapshot should log at debug only")

	sink.RateLimit(ctx, core.RateLimitSnapshot{Limit: 5000, Remaining: 12, Reset: 1700000000})
	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, "github rate limit running low")
	assert.Contains(t, out, `"remaining":12`)
}

func TestLogSinkToolCall(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.ToolCall(context.Background(), core.ToolCall{Tool: "list_repos", TraceID: "abc", Duration: 5 * time.Millisecond})
	sink.ToolCall(context.Background(), core.ToolCall{Tool: "merge_pr", TraceID: "def", IsError: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "tool call completed")
	assert.Contains(t, lines[0], `"tool_name":"list_repos"`)
	assert.Contains(t, lines[1], "tool call failed")
	assert.Contains(t, lines[1], `"trace_id":"def"`)
}

type countingSink struct {
	core.NopSink
	tools int
}

func (c *countingSink) ToolCall(context.Context, core.ToolCall) { c.tools++ }

func TestFanoutSkipsNilAndDeliversToAll(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	sink := Fanout(a, nil, b)

	sink.ToolCall(context.Background(), core.ToolCall{Tool: "x"})
	sink.AuthEvent(context.Background(), core.AuthEvent{Kind: core.AuthCleared})

	assert.Equal(t, 1, a.tools)
	assert.Equal(t, 1, b.tools)
}

func TestMetricsSinkCountsRetriesAndErrors(t *testing.T) {
	defaultRegistry = newRegistry()
	sink := NewMetricsSink()
	ctx := context.Background()

	sink.APICall(ctx, core.APICall{Method: "GET", Status: 502, Attempts: 4, Err: core.UpstreamServer(502, "bad gateway")})
	sink.APICall(ctx, core.APICall{Method: "GET", Status: 0, Attempts: 1, Err: errors.New("dial tcp: refused")})
	sink.ToolCall(ctx, core.ToolCall{Tool: "get_pr", IsError: true})

	out := RenderPrometheus()
	assert.Contains(t, out, "ghmcp_github_api_retries_total 3")
	assert.Contains(t, out, `ghmcp_github_api_errors_total{kind="upstream_server",status_code="502"} 1`)
	assert.Contains(t, out, `ghmcp_github_api_errors_total{kind="unknown",status_code="0"} 1`)
	assert.Contains(t, out, `ghmcp_tool_calls_total{tool="get_pr",status="error"} 1`)
}

func TestOTelSinkRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sink, err := NewOTelSink(noop.NewMeterProvider().Meter("test"), tp.Tracer("test"))
	require.NoError(t, err)

	ctx := context.Background()
	sink.APICall(ctx, core.APICall{Method: "GET", Endpoint: "/user", Status: 200, Attempts: 1, Duration: 20 * time.Millisecond})
	sink.APICall(ctx, core.APICall{Method: "POST", Endpoint: "/repos/o/r/issues", Status: 500, Attempts: 5, Err: core.UpstreamServer(500, "boom")})
	sink.ToolCall(ctx, core.ToolCall{Tool: "create_issue", TraceID: "t1", Duration: time.Second})
	sink.RateLimit(ctx, core.RateLimitSnapshot{Limit: 5000, Remaining: 10})
	sink.AuthEvent(ctx, core.AuthEvent{Kind: core.AuthValidated, TokenKind: "personal_access_token"})

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "github.request", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "mcp.tool_call", spans[2].Name())
	assert.GreaterOrEqual(t, spans[2].EndTime().Sub(spans[2].StartTime()), time.Second)
}
