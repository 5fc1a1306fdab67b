package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/renewdesk/renewctl/internal/gateway"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"accesstoken":   true,
	"refresh_token": true,
	"refreshtoken":  true,
	"token":         true,
	"otp":           true,
	"password":      true,
	"api_key":       true,
	"secret":        true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteCallStart writes a call start trace line.
// Format: [0.234s] GET /api/vehicles
func (t *TraceWriter) WriteCallStart(call gateway.CallInfo) {
	t.printf("%s %s", call.Method, scrubURL(call.URL))
}

// WriteCallEnd writes a call completion trace line.
func (t *TraceWriter) WriteCallEnd(call gateway.CallInfo, err error, duration time.Duration) {
	if err != nil {
		t.printf("Failed %s %s: %v", call.Method, scrubURL(call.URL), err)
		return
	}
	t.printf("Completed %s %s (%dms)", call.Method, scrubURL(call.URL), duration.Milliseconds())
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET /api/vehicles (attempt 1, 6f1c...)
func (t *TraceWriter) WriteRequestStart(info gateway.RequestInfo) {
	if info.RequestID != "" {
		t.printf("  -> %s %s (attempt %d, %s)", info.Method, scrubURL(info.URL), info.Attempt, info.RequestID)
		return
	}
	t.printf("  -> %s %s (attempt %d)", info.Method, scrubURL(info.URL), info.Attempt)
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 200 (45ms)
func (t *TraceWriter) WriteRequestEnd(_ gateway.RequestInfo, result gateway.RequestResult) {
	if result.StatusCode == 0 && result.Error != nil {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
}

// WriteRetry writes a retry trace line.
// Format: [0.234s]   RETRY #2 in 2s: Http failure response ...
func (t *TraceWriter) WriteRetry(_ gateway.RequestInfo, attempt int, delay time.Duration, err error) {
	t.printf("  RETRY #%d in %v: %v", attempt, delay, err)
}

// WriteDedupHit writes a line for a caller that joined an in-flight call.
func (t *TraceWriter) WriteDedupHit(call gateway.CallInfo) {
	t.printf("  == joined in-flight %s %s", call.Method, scrubURL(call.URL))
}

// WriteForcedLogout writes a line for a session cleared by the server.
func (t *TraceWriter) WriteForcedLogout(call gateway.CallInfo) {
	t.printf("  !! 401 on %s, session cleared", scrubURL(call.URL))
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
