package core

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies every failure the bridge can produce.
type Kind string

const (
	KindAuthentication   Kind = "authentication"
	KindPermissionDenied Kind = "permission_denied"
	KindRateLimited      Kind = "rate_limited"
	KindUpstreamServer   Kind = "upstream_server"
	KindTransport        Kind = "transport"
	KindConfiguration    Kind = "configuration"
	KindProtocol         Kind = "protocol"
	KindDecode           Kind = "decode"
	KindInvalidRequest   Kind = "invalid_request"
)

// Error is the typed error shared by auth, github and mcp.
type Error struct {
	Kind       Kind
	Message    string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuthentication:
		return "Authentication failed: " + e.Message
	case KindPermissionDenied:
		return "Permission denied: " + e.Message
	case KindRateLimited:
		return fmt.Sprintf("Rate limit exceeded. Retry after: %d", retrySeconds(e.RetryAfter))
	case KindUpstreamServer:
		return fmt.Sprintf("GitHub API error: %d - %s", e.Status, e.Message)
	case KindTransport:
		return "Network error: " + e.Message
	case KindConfiguration:
		return "Invalid configuration: " + e.Message
	case KindProtocol:
		return "MCP protocol error: " + e.Message
	case KindDecode:
		return "Serialization error: " + e.Message
	case KindInvalidRequest:
		return "Invalid request: " + e.Message
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a caller may reasonably try again later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimited:
		return true
	case KindUpstreamServer:
		return e.Status >= 500
	default:
		return false
	}
}

func Authentication(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func PermissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

func RateLimited(retryAfter time.Duration) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{Kind: KindRateLimited, Status: 429, RetryAfter: retryAfter}
}

func UpstreamServer(status int, body string) *Error {
	return &Error{Kind: KindUpstreamServer, Status: status, Message: body}
}

func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func Protocol(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func Decode(err error) *Error {
	return &Error{Kind: KindDecode, Message: err.Error(), Err: err}
}

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func retrySeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
