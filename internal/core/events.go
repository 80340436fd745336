package core

import (
	"context"
	"time"
)

// RateLimitSnapshot holds the upstream rate-limit counters of one response.
type RateLimitSnapshot struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

// LowRateLimitThreshold is the remaining count below which rate-limit
// events are escalated.
const LowRateLimitThreshold = 100

func (s RateLimitSnapshot) Low() bool { return s.Remaining < LowRateLimitThreshold }

type AuthEventKind string

const (
	AuthCredentialSet    AuthEventKind = "credential_set"
	AuthValidated        AuthEventKind = "validated"
	AuthValidationFailed AuthEventKind = "validation_failed"
	AuthCleared          AuthEventKind = "cleared"
)

type AuthEvent struct {
	Kind      AuthEventKind
	Login     string
	TokenKind string
	Err       error
}

type APICall struct {
	Method   string
	Endpoint string
	Status   int
	Attempts int
	Duration time.Duration
	Err      error
}

type ToolCall struct {
	Tool     string
	TraceID  string
	IsError  bool
	Duration time.Duration
}

// EventSink receives structured events from every component. Implementations
// must be safe for concurrent use.
type EventSink interface {
	AuthEvent(ctx context.Context, ev AuthEvent)
	RateLimit(ctx context.Context, snap RateLimitSnapshot)
	APICall(ctx context.Context, call APICall)
	ToolCall(ctx context.Context, call ToolCall)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) AuthEvent(context.Context, AuthEvent)         {}
func (NopSink) RateLimit(context.Context, RateLimitSnapshot) {}
func (NopSink) APICall(context.Context, APICall)             {}
func (NopSink) ToolCall(context.Context, ToolCall)           {}
