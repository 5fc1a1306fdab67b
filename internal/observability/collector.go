// Package observability provides metrics collection and tracing for gateway traffic.
package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/renewdesk/renewctl/internal/gateway"
)

// RequestMetrics holds timing and status information for a single HTTP attempt.
type RequestMetrics struct {
	Method     string
	URL        string
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Retryable  bool
	Error      error
}

// CallMetrics holds timing information for one logical gateway call.
type CallMetrics struct {
	Method   string
	URL      string
	Duration time.Duration
	Error    error
}

// RetryMetrics records a retry event.
type RetryMetrics struct {
	Method  string
	URL     string
	Attempt int
	Delay   time.Duration
	Error   error
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalRequests  int
	FailedRequests int
	TotalCalls     int
	FailedCalls    int
	TotalRetries   int
	DedupHits      int
	ForcedLogouts  int
	TotalLatency   time.Duration
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime      time.Time
	totalRequests  int
	failedRequests int
	totalCalls     int
	failedCalls    int
	totalRetries   int
	dedupHits      int
	forcedLogouts  int
	totalLatency   time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for an HTTP attempt.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Error != nil {
		c.failedRequests++
	}
}

// RecordRequestFromGateway records metrics from gateway hook types.
func (c *SessionCollector) RecordRequestFromGateway(info gateway.RequestInfo, result gateway.RequestResult) {
	c.RecordRequest(RequestMetrics{
		Method:     info.Method,
		URL:        info.URL,
		Attempt:    info.Attempt,
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
		Retryable:  result.Retryable,
		Error:      result.Error,
	})
}

// RecordCall records metrics for a logical call.
func (c *SessionCollector) RecordCall(m CallMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCalls++
	if m.Error != nil {
		c.failedCalls++
	}
}

// RecordRetry records a retry event.
func (c *SessionCollector) RecordRetry(_ RetryMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

// RecordDedupHit records a caller that joined an in-flight call.
func (c *SessionCollector) RecordDedupHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedupHits++
}

// RecordForcedLogout records a session cleared by a final 401.
func (c *SessionCollector) RecordForcedLogout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forcedLogouts++
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:      c.startTime,
		EndTime:        time.Now(),
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalCalls:     c.totalCalls,
		FailedCalls:    c.failedCalls,
		TotalRetries:   c.totalRetries,
		DedupHits:      c.dedupHits,
		ForcedLogouts:  c.forcedLogouts,
		TotalLatency:   c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.totalCalls = 0
	c.failedCalls = 0
	c.totalRetries = 0
	c.dedupHits = 0
	c.forcedLogouts = 0
	c.totalLatency = 0
}

// FormatParts returns the non-zero counters as short labels for a one-line summary.
func (m SessionMetrics) FormatParts() []string {
	var parts []string
	if !m.StartTime.IsZero() && !m.EndTime.IsZero() {
		parts = append(parts, m.EndTime.Sub(m.StartTime).Round(time.Millisecond).String())
	}
	if m.TotalRequests > 0 {
		req := fmt.Sprintf("%d requests", m.TotalRequests)
		if m.FailedRequests > 0 {
			req += fmt.Sprintf(" (%d failed)", m.FailedRequests)
		}
		parts = append(parts, req)
	}
	if m.TotalRetries > 0 {
		parts = append(parts, fmt.Sprintf("%d retries", m.TotalRetries))
	}
	if m.DedupHits > 0 {
		parts = append(parts, fmt.Sprintf("%d deduped", m.DedupHits))
	}
	if m.ForcedLogouts > 0 {
		parts = append(parts, "session cleared")
	}
	return parts
}
