package gateway

import (
	"context"
	"time"
)

// CallInfo describes one logical call: every attempt, retry and
// deduplicated caller of an identical request share it.
type CallInfo struct {
	Method string
	URL    string
}

// RequestInfo describes a single HTTP attempt.
type RequestInfo struct {
	Method    string
	URL       string
	Attempt   int
	RequestID string
}

// RequestResult is the outcome of a single HTTP attempt.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Retryable  bool
	Error      error
}

// Hooks observes gateway activity. Implementations must be safe for
// concurrent use.
type Hooks interface {
	OnCallStart(ctx context.Context, call CallInfo) context.Context
	OnCallEnd(ctx context.Context, call CallInfo, err error, duration time.Duration)
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRetry(ctx context.Context, info RequestInfo, attempt int, delay time.Duration, err error)
	OnDedupHit(ctx context.Context, call CallInfo)
	OnForcedLogout(ctx context.Context, call CallInfo)
}

// NopHooks ignores every event.
type NopHooks struct{}

func (NopHooks) OnCallStart(ctx context.Context, _ CallInfo) context.Context       { return ctx }
func (NopHooks) OnCallEnd(context.Context, CallInfo, error, time.Duration)         {}
func (NopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context { return ctx }
func (NopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult)          {}
func (NopHooks) OnRetry(context.Context, RequestInfo, int, time.Duration, error)   {}
func (NopHooks) OnDedupHit(context.Context, CallInfo)                              {}
func (NopHooks) OnForcedLogout(context.Context, CallInfo)                          {}
