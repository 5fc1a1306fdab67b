package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Request is an outbound API request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest creates a request with an optional raw body.
func NewRequest(method, url string, body []byte) *Request {
	return &Request{Method: strings.ToUpper(method), URL: url, Header: http.Header{}, Body: body}
}

// NewJSONRequest creates a request whose body is v encoded as JSON.
// Map keys are emitted in sorted order, so logically equal map bodies
// produce the same fingerprint.
func NewJSONRequest(method, url string, v any) (*Request, error) {
	req := NewRequest(method, url, nil)
	if v == nil {
		return req, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req.Body = body
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Fingerprint identifies identical requests for deduplication.
func (r *Request) Fingerprint() string {
	var b strings.Builder
	b.Grow(len(r.Method) + len(r.URL) + len(r.Body) + 2)
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.URL)
	b.WriteByte('\n')
	b.Write(r.Body)
	return b.String()
}

func (r *Request) clone() *Request {
	cp := &Request{
		Method: strings.ToUpper(r.Method),
		URL:    r.URL,
		Header: r.Header.Clone(),
		Body:   bytes.Clone(r.Body),
	}
	if cp.Method == "" {
		cp.Method = http.MethodGet
	}
	if cp.Header == nil {
		cp.Header = http.Header{}
	}
	return cp
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{StatusCode: r.StatusCode, Header: r.Header.Clone(), Body: bytes.Clone(r.Body)}
}
