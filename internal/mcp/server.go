package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/google/uuid"
)

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

const maxLineBytes = 1024 * 1024

func traceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyTraceID).(string)
	return id
}

// Server speaks newline-delimited JSON-RPC over stdio or TCP. Every session
// gets its own Dispatcher.
type Server struct {
	cfg    Config
	addr   string
	logger *slog.Logger

	ln     net.Listener
	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
}

func NewServer(addr string, cfg Config) *Server {
	s := &Server{cfg: cfg, addr: addr, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServeStdio runs a single session over r and w until r is exhausted or ctx
// is cancelled.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("mcp server starting", "transport", "stdio")
	return s.serve(ctx, NewDispatcher(s.cfg), r, w)
}

// ListenAndServe accepts TCP sessions until Shutdown is called or ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("mcp server starting", "transport", "tcp", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("mcp accept error", "err", err)
			continue
		}
		s.conns.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the bound listener address once ListenAndServe is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting and waits for open sessions until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
		s.ln = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Unblock the scanner when the server is going away.
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Info("mcp session opened", "remote_addr", remote)
	if err := s.serve(ctx, NewDispatcher(s.cfg), conn, conn); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("mcp session ended with error", "remote_addr", remote, "err", err)
	}
	s.logger.Info("mcp session closed", "remote_addr", remote)
}

func (s *Server) serve(ctx context.Context, d *Dispatcher, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		traceID := uuid.New().String()
		reqCtx := context.WithValue(ctx, ctxKeyTraceID, traceID)

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("mcp parse error", "trace_id", traceID, "err", err)
			if err := s.writeResponse(w, jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      nil,
				Error:   &rpcError{Code: mcpgo.PARSE_ERROR, Message: "Parse error: " + err.Error()},
			}); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		resp, ok := d.Handle(reqCtx, req)
		s.logger.Debug("mcp request handled",
			"trace_id", traceID,
			"method", req.Method,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if !ok {
			continue
		}
		if err := s.writeResponse(w, resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Server) writeResponse(w io.Writer, resp jsonRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp marshal response", "err", err)
		data, _ = json.Marshal(jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &rpcError{Code: mcpgo.INTERNAL_ERROR, Message: "failed to encode response"},
		})
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
