package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolhub/ghmcp/internal/auth"
	"github.com/toolhub/ghmcp/internal/core"
	gh "github.com/toolhub/ghmcp/internal/github"
	"github.com/toolhub/ghmcp/internal/logging"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "github-mcp-server"
)

// TokenSource mints short-lived credentials, such as GitHub App
// installation tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, time.Time, error)
}

// Config is shared by every Dispatcher a server creates.
type Config struct {
	Gateway *gh.Gateway
	Policy  *core.Policy

	// Token preloads each session's credential. AppTokens, when set, is used
	// whenever the session has no credential of its own.
	Token     string
	AppTokens TokenSource

	CacheDuration time.Duration
	Version       string
	Sink          core.EventSink
	Logger        *slog.Logger
	Now           func() time.Time
}

// Session is what the client declared during the handshake.
type Session struct {
	Initialized     bool
	ProtocolVersion string
	Capabilities    mcpgo.ClientCapabilities
	ClientInfo      mcpgo.Implementation
}

type toolHandler func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)

// Dispatcher serves one protocol session. It owns the session's credential;
// the Gateway behind it is shared.
type Dispatcher struct {
	cfg      Config
	auth     *auth.Manager
	sink     core.EventSink
	logger   *slog.Logger
	now      func() time.Time
	handlers map[string]toolHandler

	mu       sync.Mutex
	session  Session
	appToken bool
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Sink == nil {
		cfg.Sink = core.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   cfg.Sink,
		logger: cfg.Logger,
		now:    cfg.Now,
		auth: auth.NewManager(
			auth.WithCacheDuration(cfg.CacheDuration),
			auth.WithClock(cfg.Now),
			auth.WithEventSink(cfg.Sink),
			auth.WithLogger(cfg.Logger),
		),
	}
	d.handlers = d.toolHandlers()

	if cfg.Token != "" {
		if err := d.auth.SetCredential(cfg.Token); err != nil {
			d.logger.Warn("ignoring configured token", "token", logging.SanitizeToken(cfg.Token), "err", err)
		}
	}
	return d
}

// Auth exposes the session credential, mainly for status readers.
func (d *Dispatcher) Auth() *auth.Manager { return d.auth }

func (d *Dispatcher) Session() Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Dispatcher) initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Initialized
}

var errNotInitialized = core.Protocol("Server not initialized. Call initialize first.")

type InitializeParams struct {
	ProtocolVersion string                   `json:"protocolVersion"`
	Capabilities    mcpgo.ClientCapabilities `json:"capabilities"`
	ClientInfo      mcpgo.Implementation     `json:"clientInfo"`
}

// Initialize completes the handshake. A version mismatch leaves the session
// state untouched; a repeated call only re-records the client's declaration.
func (d *Dispatcher) Initialize(p InitializeParams) (map[string]any, error) {
	if p.ProtocolVersion != ProtocolVersion {
		return nil, core.Protocol("Unsupported protocol version: %s. Supported versions: %s", p.ProtocolVersion, ProtocolVersion)
	}

	d.mu.Lock()
	d.session = Session{
		Initialized:     true,
		ProtocolVersion: p.ProtocolVersion,
		Capabilities:    p.Capabilities,
		ClientInfo:      p.ClientInfo,
	}
	d.mu.Unlock()

	d.logger.Info("mcp session initialized", "client_name", p.ClientInfo.Name, "client_version", p.ClientInfo.Version)

	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      mcpgo.Implementation{Name: ServerName, Version: d.cfg.Version},
	}, nil
}

func (d *Dispatcher) ListTools() ([]mcpgo.Tool, error) {
	if !d.initialized() {
		return nil, errNotInitialized
	}
	return Tools(), nil
}

// CallTool runs one tool. The only error it returns is the handshake error;
// everything that goes wrong inside a tool becomes an isError result.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args any) (*mcpgo.CallToolResult, error) {
	if !d.initialized() {
		return nil, errNotInitialized
	}

	start := d.now()
	res := d.callTool(ctx, name, args)
	d.sink.ToolCall(ctx, core.ToolCall{
		Tool:     name,
		TraceID:  traceIDFrom(ctx),
		IsError:  res.IsError,
		Duration: d.now().Sub(start),
	})
	return res, nil
}

func (d *Dispatcher) callTool(ctx context.Context, name string, args any) *mcpgo.CallToolResult {
	h, ok := d.handlers[name]
	if !ok {
		return errorResult(core.InvalidRequest("Unknown tool: %s", name))
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := h(ctx, req)
	if err != nil {
		d.logger.WarnContext(ctx, "tool call rejected", "trace_id", traceIDFrom(ctx), "tool_name", name, "err", err)
		return errorResult(err)
	}
	return res
}

func errorResult(err error) *mcpgo.CallToolResult {
	return mcpgo.NewToolResultError("Error: " + errorText(err))
}

// errorText prefers the typed error's display string over the wrapped chain,
// so callers see "Authentication failed: ..." rather than internal verbs.
func errorText(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// Handle routes one decoded request. The boolean is false for notifications,
// which never get a response.
func (d *Dispatcher) Handle(ctx context.Context, req jsonRPCRequest) (jsonRPCResponse, bool) {
	if req.ID == nil || strings.HasPrefix(req.Method, "notifications/") {
		d.logger.DebugContext(ctx, "mcp notification", "trace_id", traceIDFrom(ctx), "method", req.Method)
		return jsonRPCResponse{}, false
	}

	base := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch mcpgo.MCPMethod(req.Method) {
	case mcpgo.MethodInitialize:
		if isAbsent(req.Params) {
			base.Error = &rpcError{Code: mcpgo.INVALID_PARAMS, Message: "Missing initialize parameters"}
			return base, true
		}
		var p InitializeParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			base.Error = &rpcError{Code: mcpgo.INVALID_PARAMS, Message: "Invalid initialize parameters: " + err.Error()}
			return base, true
		}
		if p.ProtocolVersion == "" {
			base.Error = &rpcError{Code: mcpgo.INVALID_PARAMS, Message: "Invalid initialize parameters: missing field protocolVersion"}
			return base, true
		}
		result, err := d.Initialize(p)
		if err != nil {
			base.Error = envelopeError(err)
			return base, true
		}
		base.Result = result
		return base, true

	case mcpgo.MethodPing:
		base.Result = map[string]any{}
		return base, true

	case mcpgo.MethodToolsList:
		tools, err := d.ListTools()
		if err != nil {
			base.Error = envelopeError(err)
			return base, true
		}
		base.Result = map[string]any{"tools": tools}
		return base, true

	case mcpgo.MethodToolsCall:
		if isAbsent(req.Params) {
			base.Error = &rpcError{Code: mcpgo.INVALID_PARAMS, Message: "Missing tool call parameters"}
			return base, true
		}
		var p struct {
			Name      string `json:"name"`
			Arguments any    `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			base.Error = &rpcError{Code: mcpgo.INVALID_PARAMS, Message: "Invalid tool call parameters: " + err.Error()}
			return base, true
		}
		if p.Name == "" {
			base.Error = &rpcError{Code: mcpgo.INVALID_PARAMS, Message: "Invalid tool call parameters: missing field `name`"}
			return base, true
		}
		if p.Arguments == nil {
			p.Arguments = map[string]any{}
		}
		res, err := d.CallTool(ctx, p.Name, p.Arguments)
		if err != nil {
			base.Error = envelopeError(err)
			return base, true
		}
		base.Result = res
		return base, true

	default:
		base.Error = &rpcError{Code: mcpgo.METHOD_NOT_FOUND, Message: fmt.Sprintf("Method not found: %s", req.Method)}
		return base, true
	}
}

func isAbsent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func envelopeError(err error) *rpcError {
	env := core.MapError(err)
	return &rpcError{Code: env.Code, Message: env.Message, Data: env.Data}
}
