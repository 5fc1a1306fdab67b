package observability

import (
	"context"
	"sync"
	"time"

	"github.com/renewdesk/renewctl/internal/gateway"
)

// Verify CLIHooks implements gateway.Hooks at compile time.
var _ gateway.Hooks = (*CLIHooks)(nil)

// CLIHooks implements gateway.Hooks for CLI observability.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Calls only (one line per logical call)
//   - 2: Calls + attempts (also every HTTP attempt, retry and dedup hit)
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnCallStart is called when a logical call begins.
func (h *CLIHooks) OnCallStart(ctx context.Context, call gateway.CallInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 1 && writer != nil {
		writer.WriteCallStart(call)
	}
	return ctx
}

// OnCallEnd is called when a logical call settles.
func (h *CLIHooks) OnCallEnd(ctx context.Context, call gateway.CallInfo, err error, duration time.Duration) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordCall(CallMetrics{Method: call.Method, URL: call.URL, Duration: duration, Error: err})
	}
	if level >= 1 && writer != nil {
		writer.WriteCallEnd(call, err, duration)
	}
}

// OnRequestStart is called before an HTTP attempt is sent.
func (h *CLIHooks) OnRequestStart(ctx context.Context, info gateway.RequestInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after an HTTP attempt completes.
func (h *CLIHooks) OnRequestEnd(ctx context.Context, info gateway.RequestInfo, result gateway.RequestResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRequestFromGateway(info, result)
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}

// OnRetry is called before a retry attempt.
func (h *CLIHooks) OnRetry(ctx context.Context, info gateway.RequestInfo, attempt int, delay time.Duration, err error) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRetry(RetryMetrics{Method: info.Method, URL: info.URL, Attempt: attempt, Delay: delay, Error: err})
	}
	if level >= 2 && writer != nil {
		writer.WriteRetry(info, attempt, delay, err)
	}
}

// OnDedupHit is called when a caller joins an in-flight call.
func (h *CLIHooks) OnDedupHit(ctx context.Context, call gateway.CallInfo) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordDedupHit()
	}
	if level >= 2 && writer != nil {
		writer.WriteDedupHit(call)
	}
}

// OnForcedLogout is called after a final 401 cleared the session.
func (h *CLIHooks) OnForcedLogout(ctx context.Context, call gateway.CallInfo) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordForcedLogout()
	}
	if level >= 1 && writer != nil {
		writer.WriteForcedLogout(call)
	}
}
