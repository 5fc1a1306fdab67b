package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
)

// Response is the success envelope for JSON output.
type Response struct {
	OK          bool           `json:"ok"`
	Data        any            `json:"data,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Breadcrumbs []Breadcrumb   `json:"breadcrumbs,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Breadcrumb is a suggested follow-up command.
type Breadcrumb struct {
	Action      string `json:"action"`
	Cmd         string `json:"cmd"`
	Description string `json:"description"`
}

// ErrorResponse is the error envelope for JSON output.
type ErrorResponse struct {
	OK     bool                `json:"ok"`
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Hint   string              `json:"hint,omitempty"`
	Status int                 `json:"status,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// Format specifies the output format.
type Format int

const (
	FormatAuto Format = iota // TTY: styled, otherwise JSON
	FormatJSON
	FormatStyled
	FormatQuiet // data only
	FormatIDs
	FormatCount
)

// ParseFormat maps a --format flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "styled", "table":
		return FormatStyled, nil
	case "quiet":
		return FormatQuiet, nil
	case "ids":
		return FormatIDs, nil
	case "count":
		return FormatCount, nil
	default:
		return FormatAuto, ErrUsageHint("unknown format: "+s, "Use one of: auto, json, styled, quiet, ids, count")
	}
}

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer
	// JQ, when set, filters the data before printing. Implies data-only output.
	JQ string
}

// Writer handles all output formatting.
type Writer struct {
	opts Options
}

// New creates a new output writer.
func New(opts Options) *Writer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Writer{opts: opts}
}

// Format returns the resolved format for this writer's destination.
func (w *Writer) Format() Format {
	if w.opts.Format != FormatAuto {
		return w.opts.Format
	}
	if isTTY(w.opts.Writer) {
		return FormatStyled
	}
	return FormatJSON
}

// OK outputs a success response.
func (w *Writer) OK(data any, opts ...ResponseOption) error {
	resp := &Response{OK: true, Data: data}
	for _, opt := range opts {
		opt(resp)
	}
	if w.opts.JQ != "" {
		return w.writeFiltered(resp.Data)
	}
	return w.write(resp)
}

// Err outputs an error response.
func (w *Writer) Err(err error) error {
	e := AsError(err)
	return w.write(&ErrorResponse{
		OK:     false,
		Error:  e.Message,
		Code:   e.Code,
		Hint:   e.Hint,
		Status: e.HTTPStatus,
		Fields: e.Fields,
	})
}

func (w *Writer) write(v any) error {
	switch w.Format() {
	case FormatQuiet:
		if resp, ok := v.(*Response); ok {
			return w.writeJSON(resp.Data)
		}
		return w.writeJSON(v)
	case FormatIDs:
		return w.writeIDs(v)
	case FormatCount:
		return w.writeCount(v)
	case FormatStyled:
		return w.writeStyled(v)
	default:
		return w.writeJSON(v)
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.opts.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (w *Writer) writeFiltered(data any) error {
	results, err := ApplyJQ(w.opts.JQ, normalizeData(data))
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w.opts.Writer, s)
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(w.opts.Writer, string(b))
	}
	return nil
}

func (w *Writer) writeIDs(v any) error {
	resp, ok := v.(*Response)
	if !ok {
		return w.writeJSON(v)
	}

	switch d := normalizeData(resp.Data).(type) {
	case []map[string]any:
		for _, item := range d {
			if id, ok := item["id"]; ok {
				fmt.Fprintln(w.opts.Writer, formatID(id))
			}
		}
	case map[string]any:
		if id, ok := d["id"]; ok {
			fmt.Fprintln(w.opts.Writer, formatID(id))
		}
	}
	return nil
}

func (w *Writer) writeCount(v any) error {
	resp, ok := v.(*Response)
	if !ok {
		return w.writeJSON(v)
	}

	switch d := normalizeData(resp.Data).(type) {
	case []any:
		fmt.Fprintln(w.opts.Writer, len(d))
	case []map[string]any:
		fmt.Fprintln(w.opts.Writer, len(d))
	case nil:
		fmt.Fprintln(w.opts.Writer, 0)
	default:
		fmt.Fprintln(w.opts.Writer, 1)
	}
	return nil
}

// formatID prints whole-number float IDs without an exponent.
func formatID(id any) string {
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(id)
}

// normalizeData converts typed values and raw JSON into plain maps and slices.
func normalizeData(data any) any {
	if raw, ok := data.(json.RawMessage); ok {
		var out any
		if err := json.Unmarshal(raw, &out); err == nil {
			return normalizeUnmarshaled(out)
		}
		return data
	}

	switch data.(type) {
	case []map[string]any, map[string]any, []any, nil:
		return data
	}
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return data
	}
	return normalizeUnmarshaled(out)
}

// normalizeUnmarshaled converts []any to []map[string]any if all elements are maps.
func normalizeUnmarshaled(v any) any {
	d, ok := v.([]any)
	if !ok {
		return v
	}
	maps := make([]map[string]any, 0, len(d))
	for _, item := range d {
		m, ok := item.(map[string]any)
		if !ok {
			return v
		}
		maps = append(maps, m)
	}
	return maps
}

func (w *Writer) writeStyled(v any) error {
	r := NewRenderer(w.opts.Writer)
	switch resp := v.(type) {
	case *Response:
		return r.RenderResponse(resp)
	case *ErrorResponse:
		return r.RenderError(resp)
	default:
		return w.writeJSON(v)
	}
}

// ResponseOption modifies a Response.
type ResponseOption func(*Response)

// WithSummary adds a summary to the response.
func WithSummary(s string) ResponseOption {
	return func(r *Response) { r.Summary = s }
}

// WithBreadcrumbs adds breadcrumbs to the response.
func WithBreadcrumbs(b ...Breadcrumb) ResponseOption {
	return func(r *Response) { r.Breadcrumbs = append(r.Breadcrumbs, b...) }
}

// WithMeta adds metadata to the response.
func WithMeta(key string, value any) ResponseOption {
	return func(r *Response) {
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[key] = value
	}
}
