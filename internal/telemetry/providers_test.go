package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolhub/ghmcp/internal/core"
)

func TestProvidersExportSinkEventsToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := NewProviders(logger, "1.2.3", time.Hour)

	sink, err := NewOTelSink(p.Meter(), p.Tracer())
	require.NoError(t, err)

	ctx := context.Background()
	sink.ToolCall(ctx, core.ToolCall{Tool: "github_list_repos", TraceID: "t1", Duration: 30 * time.Millisecond})
	sink.APICall(ctx, core.APICall{Method: "GET", Endpoint: "/user/repos", Status: 502, Attempts: 4, Err: core.UpstreamServer(502, "bad gateway")})

	// Spans export as they end; metrics wait for the final snapshot.
	out := buf.String()
	assert.Contains(t, out, `"span":"mcp.tool_call"`)
	assert.Contains(t, out, `"span":"github.request"`)
	assert.Contains(t, out, `"status":"Error"`)
	assert.NotContains(t, out, "ghmcp.tool.calls")

	require.NoError(t, p.Shutdown(ctx))
	out = buf.String()
	assert.Contains(t, out, `"metric":"ghmcp.tool.calls"`)
	assert.Contains(t, out, "mcp.tool=github_list_repos")
	assert.Contains(t, out, `"metric":"ghmcp.github.duration"`)
}
