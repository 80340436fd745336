package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/toolhub/ghmcp/internal/core"
)

// LogSink writes every event as a structured log record.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) AuthEvent(ctx context.Context, ev core.AuthEvent) {
	attrs := []any{"event", string(ev.Kind), "token_kind", ev.TokenKind}
	if ev.Login != "" {
		attrs = append(attrs, "login", ev.Login)
	}
	if ev.Err != nil {
		s.logger.WarnContext(ctx, "auth event", append(attrs, "err", ev.Err)...)
		return
	}
	s.logger.InfoContext(ctx, "auth event", attrs...)
}

func (s *LogSink) RateLimit(ctx context.Context, snap core.RateLimitSnapshot) {
	attrs := []any{
		"limit", snap.Limit,
		"remaining", snap.Remaining,
		"used", snap.Used,
		"reset", time.Unix(snap.Reset, 0).UTC().Format(time.RFC3339),
	}
	if snap.Low() {
		s.logger.WarnContext(ctx, "github rate limit running low", attrs...)
		return
	}
	s.logger.DebugContext(ctx, "github rate limit", attrs...)
}

func (s *LogSink) APICall(ctx context.Context, call core.APICall) {
	attrs := []any{
		"method", call.Method,
		"endpoint", call.Endpoint,
		"status", call.Status,
		"attempts", call.Attempts,
		"duration_ms", call.Duration.Milliseconds(),
	}
	if call.Err != nil {
		s.logger.WarnContext(ctx, "github api call failed", append(attrs, "err", call.Err)...)
		return
	}
	s.logger.DebugContext(ctx, "github api call", attrs...)
}

func (s *LogSink) ToolCall(ctx context.Context, call core.ToolCall) {
	attrs := []any{
		"trace_id", call.TraceID,
		"tool_name", call.Tool,
		"duration_ms", call.Duration.Milliseconds(),
	}
	if call.IsError {
		s.logger.WarnContext(ctx, "tool call failed", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "tool call completed", attrs...)
}

// MetricsSink feeds the process-wide Prometheus registry.
type MetricsSink struct{}

func NewMetricsSink() MetricsSink { return MetricsSink{} }

func (MetricsSink) AuthEvent(_ context.Context, ev core.AuthEvent) {
	IncAuthEvent(string(ev.Kind))
}

func (MetricsSink) RateLimit(_ context.Context, snap core.RateLimitSnapshot) {
	SetRateLimit(snap.Limit, snap.Remaining, snap.Reset)
}

func (MetricsSink) APICall(_ context.Context, call core.APICall) {
	IncGitHubAPICall(call.Method, call.Status)
	AddGitHubAPIRetries(call.Attempts - 1)
	if call.Err != nil {
		kind := string(core.KindOf(call.Err))
		if kind == "" {
			kind = "unknown"
		}
		IncGitHubAPIError(kind, call.Status)
	}
}

func (MetricsSink) ToolCall(_ context.Context, call core.ToolCall) {
	status := "ok"
	if call.IsError {
		status = "error"
	}
	IncToolCall(call.Tool, status)
	ObserveToolDuration(call.Tool, call.Duration)
}

type fanout []core.EventSink

// Fanout delivers each event to every non-nil sink in order.
func Fanout(sinks ...core.EventSink) core.EventSink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f fanout) AuthEvent(ctx context.Context, ev core.AuthEvent) {
	for _, s := range f {
		s.AuthEvent(ctx, ev)
	}
}

func (f fanout) RateLimit(ctx context.Context, snap core.RateLimitSnapshot) {
	for _, s := range f {
		s.RateLimit(ctx, snap)
	}
}

func (f fanout) APICall(ctx context.Context, call core.APICall) {
	for _, s := range f {
		s.APICall(ctx, call)
	}
}

func (f fanout) ToolCall(ctx context.Context, call core.ToolCall) {
	for _, s := range f {
		s.ToolCall(ctx, call)
	}
}
