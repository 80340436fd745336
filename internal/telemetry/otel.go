package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolhub/ghmcp/internal/core"
)

// OTelSink records events as OpenTelemetry instruments and spans. Completed
// API and tool calls become spans back-dated to their start time.
type OTelSink struct {
	tracer trace.Tracer

	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram
	apiCalls     metric.Int64Counter
	apiDuration  metric.Float64Histogram
	authEvents   metric.Int64Counter
	remaining    metric.Int64Gauge
}

func NewOTelSink(meter metric.Meter, tracer trace.Tracer) (*OTelSink, error) {
	s := &OTelSink{tracer: tracer}
	var err error

	s.toolCalls, err = meter.Int64Counter(
		"ghmcp.tool.calls",
		metric.WithDescription("Number of MCP tool calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool call counter: %w", err)
	}

	s.toolDuration, err = meter.Float64Histogram(
		"ghmcp.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool duration histogram: %w", err)
	}

	s.apiCalls, err = meter.Int64Counter(
		"ghmcp.github.calls",
		metric.WithDescription("Number of GitHub API requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create api call counter: %w", err)
	}

	s.apiDuration, err = meter.Float64Histogram(
		"ghmcp.github.duration",
		metric.WithDescription("GitHub API request duration in milliseconds, retries included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create api duration histogram: %w", err)
	}

	s.authEvents, err = meter.Int64Counter(
		"ghmcp.auth.events",
		metric.WithDescription("Credential lifecycle events"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create auth event counter: %w", err)
	}

	s.remaining, err = meter.Int64Gauge(
		"ghmcp.github.rate_limit.remaining",
		metric.WithDescription("Requests left in the current GitHub rate-limit window"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limit gauge: %w", err)
	}

	return s, nil
}

func (s *OTelSink) AuthEvent(ctx context.Context, ev core.AuthEvent) {
	s.authEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.event", string(ev.Kind)),
		attribute.String("auth.token_kind", ev.TokenKind),
	))
}

func (s *OTelSink) RateLimit(ctx context.Context, snap core.RateLimitSnapshot) {
	s.remaining.Record(ctx, int64(snap.Remaining), metric.WithAttributes(
		attribute.Int("rate_limit.limit", snap.Limit),
	))
}

func (s *OTelSink) APICall(ctx context.Context, call core.APICall) {
	opts := metric.WithAttributes(
		attribute.String("http.method", call.Method),
		attribute.Int("http.status_code", call.Status),
	)
	s.apiCalls.Add(ctx, 1, opts)
	s.apiDuration.Record(ctx, float64(call.Duration.Milliseconds()), opts)

	if s.tracer == nil {
		return
	}
	end := time.Now()
	_, span := s.tracer.Start(ctx, "github.request", trace.WithTimestamp(end.Add(-call.Duration)))
	span.SetAttributes(
		attribute.String("http.method", call.Method),
		attribute.String("github.endpoint", call.Endpoint),
		attribute.Int("http.status_code", call.Status),
		attribute.Int("github.attempts", call.Attempts),
	)
	if call.Err != nil {
		span.RecordError(call.Err)
		span.SetStatus(codes.Error, call.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

func (s *OTelSink) ToolCall(ctx context.Context, call core.ToolCall) {
	opts := metric.WithAttributes(
		attribute.String("mcp.tool", call.Tool),
		attribute.Bool("mcp.is_error", call.IsError),
	)
	s.toolCalls.Add(ctx, 1, opts)
	s.toolDuration.Record(ctx, float64(call.Duration.Milliseconds()), opts)

	if s.tracer == nil {
		return
	}
	end := time.Now()
	_, span := s.tracer.Start(ctx, "mcp.tool_call", trace.WithTimestamp(end.Add(-call.Duration)))
	span.SetAttributes(
		attribute.String("mcp.tool", call.Tool),
		attribute.String("trace_id", call.TraceID),
	)
	if call.IsError {
		span.SetStatus(codes.Error, "tool returned an error result")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}
