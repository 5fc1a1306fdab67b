package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/renewdesk/renewctl/internal/apierr"
	"github.com/renewdesk/renewctl/internal/observability"
)

// =============================================================================
// Exit Codes Tests
// =============================================================================

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{CodeUsage, apierr.ExitUsage},
		{CodeNotFound, apierr.ExitNotFound},
		{CodeAuth, apierr.ExitAuth},
		{CodeForbidden, apierr.ExitForbidden},
		{CodeValidation, apierr.ExitValidation},
		{CodeNetwork, apierr.ExitNetwork},
		{CodeAPI, apierr.ExitAPI},
		{CodeTokenInvalid, apierr.ExitTokenInvalid},
		{"unknown_code", apierr.ExitAPI},
		{"", apierr.ExitAPI},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ExitCodeFor(tt.code); got != tt.expected {
				t.Errorf("ExitCodeFor(%q) = %d, want %d", tt.code, got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Error Conversion Tests
// =============================================================================

func TestAsErrorPassesThroughOutputError(t *testing.T) {
	orig := ErrNotFound("vehicle", "42")
	wrapped := fmt.Errorf("show: %w", orig)
	if got := AsError(wrapped); got != orig {
		t.Errorf("AsError should unwrap to the original *Error, got %+v", got)
	}
	if orig.Message != "vehicle not found: 42" {
		t.Errorf("unexpected message %q", orig.Message)
	}
}

func TestAsErrorFromGatewayFailures(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		err      error
		code     string
		status   int
		hint     string
		message  string
		exitCode int
	}{
		{
			name:     "unauthorized",
			err:      apierr.FromResponse("GET", "http://x/api/users", 401, []byte(`{"message":"Unauthenticated."}`), now),
			code:     CodeAuth,
			status:   401,
			hint:     "Session expired. Run: renewctl auth login",
			message:  "Unauthenticated.",
			exitCode: apierr.ExitAuth,
		},
		{
			name:     "not found",
			err:      apierr.FromResponse("GET", "http://x/api/users/9", 404, nil, now),
			code:     CodeNotFound,
			status:   404,
			message:  "Http failure response for http://x/api/users/9: 404 Not Found",
			exitCode: apierr.ExitNotFound,
		},
		{
			name:     "validation",
			err:      apierr.FromResponse("POST", "http://x/api/users", 422, []byte(`{"message":"Invalid","errors":{"email":["The email is taken."]}}`), now),
			code:     CodeValidation,
			status:   422,
			hint:     "The email is taken.",
			message:  "Invalid",
			exitCode: apierr.ExitValidation,
		},
		{
			name:     "server",
			err:      apierr.FromResponse("GET", "http://x/api/users", 500, []byte(`{"message":"boom"}`), now),
			code:     CodeAPI,
			status:   500,
			message:  "boom",
			exitCode: apierr.ExitAPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := AsError(tt.err)
			if e.Code != tt.code {
				t.Errorf("Code = %q, want %q", e.Code, tt.code)
			}
			if e.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", e.HTTPStatus, tt.status)
			}
			if e.Hint != tt.hint {
				t.Errorf("Hint = %q, want %q", e.Hint, tt.hint)
			}
			if e.Message != tt.message {
				t.Errorf("Message = %q, want %q", e.Message, tt.message)
			}
			if e.ExitCode() != tt.exitCode {
				t.Errorf("ExitCode = %d, want %d", e.ExitCode(), tt.exitCode)
			}
			if !errors.Is(e, tt.err) {
				t.Error("converted error should wrap the original")
			}
		})
	}
}

func TestAsErrorNetworkRetries(t *testing.T) {
	ee := apierr.FromTransport("GET", "http://x/api/users", errors.New("connection refused"), false, time.Now())
	ee.Attempts = 3

	e := AsError(ee)
	if e.Code != CodeNetwork {
		t.Errorf("Code = %q, want %q", e.Code, CodeNetwork)
	}
	if !e.Retryable {
		t.Error("network failures should be retryable")
	}
	if e.Hint != "gave up after 3 attempts" {
		t.Errorf("Hint = %q", e.Hint)
	}
}

func TestAsErrorFromAuthError(t *testing.T) {
	tests := []struct {
		err  *apierr.AuthError
		code string
		hint string
	}{
		{&apierr.AuthError{Code: apierr.CodeInvalidCredentials, Status: 401, Message: "Invalid email or password"}, CodeAuth, "Run: renewctl auth login"},
		{&apierr.AuthError{Code: apierr.CodeNoRefreshToken, Status: 401, Message: "No refresh token"}, CodeAuth, "Run: renewctl auth login"},
		{&apierr.AuthError{Code: apierr.CodePasswordMismatch, Status: 422, Message: "Passwords do not match"}, CodeValidation, ""},
		{&apierr.AuthError{Code: apierr.CodeInvalidToken, Status: 401, Message: "Invalid token received"}, CodeTokenInvalid, ""},
		{&apierr.AuthError{Code: apierr.CodeNetworkError, Message: "Something went wrong"}, CodeNetwork, ""},
		{&apierr.AuthError{Code: apierr.CodeServerError, Status: 500, Message: "boom"}, CodeAPI, ""},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			e := AsError(tt.err)
			if e.Code != tt.code {
				t.Errorf("Code = %q, want %q", e.Code, tt.code)
			}
			if e.Hint != tt.hint {
				t.Errorf("Hint = %q, want %q", e.Hint, tt.hint)
			}
			if e.Message != tt.err.Message {
				t.Errorf("Message = %q, want %q", e.Message, tt.err.Message)
			}
		})
	}
}

func TestAsErrorPlain(t *testing.T) {
	e := AsError(errors.New("disk full"))
	if e.Code != CodeAPI || e.Message != "disk full" {
		t.Errorf("unexpected conversion: %+v", e)
	}
}

func TestErrorString(t *testing.T) {
	if got := ErrAuth("Not logged in").Error(); got != "Not logged in: Run: renewctl auth login" {
		t.Errorf("Error() = %q", got)
	}
	if got := ErrUsage("missing id").Error(); got != "missing id" {
		t.Errorf("Error() = %q", got)
	}
}

// =============================================================================
// Writer Tests
// =============================================================================

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	return out
}

type vehicle struct {
	ID           int64  `json:"id"`
	Registration string `json:"registration"`
	Status       string `json:"status"`
}

var fleet = []vehicle{
	{ID: 7, Registration: "CA 123-456", Status: "due"},
	{ID: 8, Registration: "GP 999-111", Status: "renewed"},
}

func TestWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	err := w.OK(fleet,
		WithSummary("2 vehicles"),
		WithMeta("pagination", map[string]any{"current_page": 1, "last_page": 1}),
		WithBreadcrumbs(Breadcrumb{Action: "show", Cmd: "renewctl show vehicles 7"}),
	)
	if err != nil {
		t.Fatalf("OK: %v", err)
	}

	out := decode(t, &buf)
	if out["ok"] != true {
		t.Errorf("ok = %v", out["ok"])
	}
	if out["summary"] != "2 vehicles" {
		t.Errorf("summary = %v", out["summary"])
	}
	if data, _ := out["data"].([]any); len(data) != 2 {
		t.Errorf("data = %v", out["data"])
	}
	if _, ok := out["meta"].(map[string]any)["pagination"]; !ok {
		t.Error("meta.pagination missing")
	}
	if crumbs, _ := out["breadcrumbs"].([]any); len(crumbs) != 1 {
		t.Errorf("breadcrumbs = %v", out["breadcrumbs"])
	}
}

func TestWriterErrJSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	ee := apierr.FromResponse("POST", "http://x/api/users", 422, []byte(`{"message":"Invalid","errors":{"email":["taken"]}}`), time.Now())
	if err := w.Err(ee); err != nil {
		t.Fatalf("Err: %v", err)
	}

	out := decode(t, &buf)
	if out["ok"] != false || out["code"] != CodeValidation || out["error"] != "Invalid" {
		t.Errorf("unexpected envelope: %v", out)
	}
	if out["status"] != float64(422) {
		t.Errorf("status = %v", out["status"])
	}
	fields, _ := out["fields"].(map[string]any)
	if fields == nil || fields["email"] == nil {
		t.Errorf("fields = %v", out["fields"])
	}
}

func TestWriterQuiet(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatQuiet, Writer: &buf})
	if err := w.OK(map[string]any{"id": 1}, WithSummary("ignored")); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "ok") || strings.Contains(buf.String(), "ignored") {
		t.Errorf("quiet output should contain only data, got %s", buf.String())
	}
}

func TestWriterIDs(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatIDs, Writer: &buf})
	if err := w.OK(fleet); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "7\n8\n" {
		t.Errorf("ids output = %q", buf.String())
	}

	buf.Reset()
	if err := w.OK(map[string]any{"id": 1234567890}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1234567890\n" {
		t.Errorf("single id output = %q", buf.String())
	}
}

func TestWriterCount(t *testing.T) {
	tests := []struct {
		data any
		want string
	}{
		{fleet, "2\n"},
		{[]vehicle{}, "0\n"},
		{map[string]any{"id": 1}, "1\n"},
		{nil, "0\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		w := New(Options{Format: FormatCount, Writer: &buf})
		if err := w.OK(tt.data); err != nil {
			t.Fatal(err)
		}
		if buf.String() != tt.want {
			t.Errorf("count(%v) = %q, want %q", tt.data, buf.String(), tt.want)
		}
	}
}

func TestWriterAutoIsJSONForNonTTY(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Writer: &buf})
	if w.Format() != FormatJSON {
		t.Errorf("Format() = %v, want FormatJSON", w.Format())
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":       FormatAuto,
		"json":   FormatJSON,
		"styled": FormatStyled,
		"table":  FormatStyled,
		"quiet":  FormatQuiet,
		"ids":    FormatIDs,
		"count":  FormatCount,
	} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	} else if AsError(err).Code != CodeUsage {
		t.Errorf("code = %q", AsError(err).Code)
	}
}

// =============================================================================
// jq Tests
// =============================================================================

func TestWriterJQ(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf, JQ: ".[] | select(.status == \"due\") | .registration"})
	if err := w.OK(fleet, WithSummary("ignored")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "CA 123-456\n" {
		t.Errorf("jq output = %q", buf.String())
	}
}

func TestWriterJQObjects(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Writer: &buf, JQ: "map({id})"})
	if err := w.OK(fleet); err != nil {
		t.Fatal(err)
	}
	if buf.String() != `[{"id":7},{"id":8}]`+"\n" {
		t.Errorf("jq output = %q", buf.String())
	}
}

func TestApplyJQErrors(t *testing.T) {
	if _, err := ApplyJQ(".[", nil); err == nil {
		t.Error("expected parse error")
	} else if AsError(err).Code != CodeUsage {
		t.Errorf("parse error code = %q", AsError(err).Code)
	}

	if _, err := ApplyJQ(".foo", []any{1}); err == nil {
		t.Error("expected runtime error indexing an array with a key")
	}

	got, err := ApplyJQ("halt", map[string]any{"a": 1})
	if err != nil || len(got) != 0 {
		t.Errorf("halt should stop cleanly, got %v, %v", got, err)
	}
}

// =============================================================================
// Styled Renderer Tests
// =============================================================================

func TestStyledTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	err := w.OK(fleet,
		WithSummary("2 vehicles"),
		WithMeta("pagination", map[string]any{"current_page": 1, "last_page": 3, "total": 30}),
	)
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"2 vehicles", "Id", "Registration", "Status", "CA 123-456", "renewed", "Page 1 of 3 (30 total)"} {
		if !strings.Contains(out, want) {
			t.Errorf("styled output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Id") > strings.Index(out, "Registration") {
		t.Error("id column should come first")
	}
}

func TestStyledObjectHidesSecrets(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	err := w.OK(map[string]any{
		"id":         5,
		"name":       "Thandi",
		"password":   "hunter2",
		"created_at": "2026-03-01",
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Error("password should never be rendered")
	}
	for _, want := range []string{"Name", "Thandi", "Created At", "Mar 1, 2026"} {
		if !strings.Contains(out, want) {
			t.Errorf("styled output missing %q:\n%s", want, out)
		}
	}
}

func TestStyledEmptyAndStats(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	start := time.Now()
	stats := observability.SessionMetrics{StartTime: start, EndTime: start.Add(time.Second), TotalRequests: 1}
	if err := w.OK([]vehicle{}, WithMeta("stats", stats)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "(no results)") {
		t.Errorf("missing empty marker:\n%s", out)
	}
	if !strings.Contains(out, "Stats: 1s | 1 requests") {
		t.Errorf("missing stats line:\n%s", out)
	}
}

func TestStyledError(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	err := w.Err(&apierr.AuthError{
		Code:    apierr.CodeValidationError,
		Message: "Please check your input",
		Details: map[string][]string{"password": {"Too short."}},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"Error: Please check your input", "password: Too short."} {
		if !strings.Contains(out, want) {
			t.Errorf("styled error missing %q:\n%s", want, out)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatHeader("renewal_date"); got != "Renewal Date" {
		t.Errorf("formatHeader = %q", got)
	}
	if got := formatCell(3.0); got != "3" {
		t.Errorf("formatCell(3.0) = %q", got)
	}
	if got := formatCell([]any{map[string]any{"name": "admin"}, "x"}); got != "admin, x" {
		t.Errorf("formatCell(list) = %q", got)
	}
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
}
