// Package apierr provides the normalized error type for API failures.
//
// Every failure that leaves the request gateway is an *EnhancedError so
// callers only ever deal with one shape, whatever went wrong underneath.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

// Failure kinds.
const (
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindServerTransient Kind = "server_transient"
	KindServer          Kind = "server_error"
	KindValidation      Kind = "validation"
	KindTokenInvalid    Kind = "token_invalid"
	KindRequest         Kind = "request"
)

// ErrTokenInvalid reports a token that failed decoding or expiry checks.
var ErrTokenInvalid = errors.New("token invalid")

// Details mirrors the structured error body returned by the API.
type Details struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	Data    json.RawMessage     `json:"data,omitempty"`
}

// ParseDetails decodes a response body into Details.
// Bodies that are not JSON objects keep their trimmed text as the message.
func ParseDetails(body []byte) *Details {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}
	var d Details
	if err := json.Unmarshal(body, &d); err != nil {
		return &Details{Message: truncate(trimmed, 512)}
	}
	return &d
}

// EnhancedError is a normalized API failure.
type EnhancedError struct {
	Kind      Kind
	Status    int // 0 when no HTTP response was received
	Message   string
	Method    string
	URL       string
	Timestamp time.Time
	Details   *Details
	Attempts  int
	Cause     error
}

func (e *EnhancedError) Error() string {
	if e.Details != nil && e.Details.Message != "" && e.Details.Message != e.Message {
		return fmt.Sprintf("%s: %s", e.Message, e.Details.Message)
	}
	return e.Message
}

func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure kind is eligible for a local retry.
func (e *EnhancedError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServerTransient:
		return true
	default:
		return false
	}
}

// FieldErrors returns the field-keyed validation messages, if any.
func (e *EnhancedError) FieldErrors() map[string][]string {
	if e.Details == nil {
		return nil
	}
	return e.Details.Errors
}

// FirstFieldError returns one validation message, preferring a stable field order.
func (e *EnhancedError) FirstFieldError() string {
	fields := e.FieldErrors()
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if msgs := fields[k]; len(msgs) > 0 {
			return msgs[0]
		}
	}
	return ""
}

// ServerMessage returns the server-provided message, falling back to Message.
func (e *EnhancedError) ServerMessage() string {
	if e.Details != nil && e.Details.Message != "" {
		return e.Details.Message
	}
	return e.Message
}

// Classify maps an HTTP status to a failure kind.
// Status 0 means no response arrived; timedOut distinguishes a deadline from
// other transport failures.
func Classify(status int, timedOut bool) Kind {
	switch {
	case timedOut:
		return KindTimeout
	case status == 0:
		return KindNetwork
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return KindServerTransient
	default:
		return KindServer
	}
}

// FromResponse builds an EnhancedError for a non-success HTTP response.
func FromResponse(method, url string, status int, body []byte, now time.Time) *EnhancedError {
	return &EnhancedError{
		Kind:      Classify(status, false),
		Status:    status,
		Message:   fmt.Sprintf("Http failure response for %s: %d %s", url, status, http.StatusText(status)),
		Method:    method,
		URL:       url,
		Timestamp: now,
		Details:   ParseDetails(body),
	}
}

// FromTransport builds an EnhancedError for a request that never got a response.
func FromTransport(method, url string, cause error, timedOut bool, now time.Time) *EnhancedError {
	msg := fmt.Sprintf("Http failure response for %s: 0 Unknown Error", url)
	if timedOut {
		msg = fmt.Sprintf("Request to %s timed out", url)
	}
	return &EnhancedError{
		Kind:      Classify(0, timedOut),
		Status:    0,
		Message:   msg,
		Method:    method,
		URL:       url,
		Timestamp: now,
		Cause:     cause,
	}
}

// FromRequest builds an EnhancedError for a request that failed before it
// was sent, such as a malformed URL or a rate limiter that gave up.
func FromRequest(method, url string, cause error, now time.Time) *EnhancedError {
	return &EnhancedError{
		Kind:      KindRequest,
		Message:   fmt.Sprintf("Request to %s could not be sent: %v", url, cause),
		Method:    method,
		URL:       url,
		Timestamp: now,
		Cause:     cause,
	}
}

// As extracts an *EnhancedError from err.
func As(err error) (*EnhancedError, bool) {
	var e *EnhancedError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *EnhancedError of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
