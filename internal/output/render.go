package output

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"

	"github.com/renewdesk/renewctl/internal/observability"
)

// Renderer handles styled terminal output.
type Renderer struct {
	w     io.Writer
	width int

	Summary   lipgloss.Style
	Muted     lipgloss.Style
	Data      lipgloss.Style
	Error     lipgloss.Style
	Hint      lipgloss.Style
	Header    lipgloss.Style
	Cell      lipgloss.Style
	CellMuted lipgloss.Style
}

// NewRenderer creates a renderer for w. Colors are dropped when NO_COLOR is set.
func NewRenderer(w io.Writer) *Renderer {
	lr := lipgloss.NewRenderer(w)
	r := &Renderer{w: w, width: terminalWidth(w)}

	if os.Getenv("NO_COLOR") != "" {
		plain := lr.NewStyle()
		r.Summary, r.Muted, r.Data, r.Error = plain.Bold(true), plain, plain, plain.Bold(true)
		r.Hint, r.Header, r.Cell, r.CellMuted = plain, plain.Bold(true), plain, plain
		return r
	}

	muted := lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	r.Summary = lr.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0f766e", Dark: "#2dd4bf"}).Bold(true)
	r.Muted = lr.NewStyle().Foreground(muted)
	r.Data = lr.NewStyle()
	r.Error = lr.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#f87171"}).Bold(true)
	r.Hint = lr.NewStyle().Foreground(muted).Italic(true)
	r.Header = lr.NewStyle().Bold(true).PaddingRight(1)
	r.Cell = lr.NewStyle().PaddingRight(1)
	r.CellMuted = lr.NewStyle().Foreground(muted).PaddingRight(1)
	return r
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(f.Fd()); err == nil && width >= 40 {
			return width
		}
	}
	return 100
}

// RenderResponse renders a success response.
func (r *Renderer) RenderResponse(resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, normalizeData(resp.Data))

	if page, ok := resp.Meta["pagination"]; ok {
		if line := formatPagination(normalizeData(page)); line != "" {
			b.WriteString(r.Muted.Render(line))
			b.WriteString("\n")
		}
	}

	if len(resp.Breadcrumbs) > 0 {
		b.WriteString("\n")
		b.WriteString(r.Muted.Render("Next:"))
		b.WriteString("\n")
		for _, bc := range resp.Breadcrumbs {
			line := "  " + bc.Cmd
			if bc.Description != "" {
				line += "  # " + bc.Description
			}
			b.WriteString(r.Muted.Render(line))
			b.WriteString("\n")
		}
	}

	if stats, ok := resp.Meta["stats"].(observability.SessionMetrics); ok {
		if parts := stats.FormatParts(); len(parts) > 0 {
			b.WriteString("\n")
			b.WriteString(r.Muted.Render("Stats: " + strings.Join(parts, " | ")))
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

// RenderError renders an error response.
func (r *Renderer) RenderError(resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")

	fields := make([]string, 0, len(resp.Fields))
	for k := range resp.Fields {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	for _, k := range fields {
		for _, msg := range resp.Fields[k] {
			b.WriteString(r.Muted.Render(fmt.Sprintf("  %s: %s", k, msg)))
			b.WriteString("\n")
		}
	}

	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case []map[string]any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		r.renderTable(b, d)
	case map[string]any:
		r.renderObject(b, d)
	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("- " + formatCell(item)))
			b.WriteString("\n")
		}
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(formatCell(d)))
		b.WriteString("\n")
	}
}

// Lower sorts first. Unlisted keys get 50.
var columnPriority = map[string]int{
	"id":                1,
	"name":              2,
	"surname":           3,
	"email":             4,
	"registration":      4,
	"make":              5,
	"model":             6,
	"status":            7,
	"user_type":         8,
	"renewal_date":      9,
	"expiry_date":       9,
	"license_expiry_at": 9,
	"created_at":        20,
	"updated_at":        21,
}

var mutedColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Secrets and noisy fields never shown in tables or objects.
var hiddenKeys = map[string]bool{
	"password":              true,
	"password_confirmation": true,
	"avatar_path":           true,
	"remember_token":        true,
}

type column struct {
	key      string
	priority int
	width    int
}

func orderKeys(keys []string) []string {
	slices.SortFunc(keys, func(a, b string) int {
		pa, pb := priorityOf(a), priorityOf(b)
		if pa != pb {
			return cmp.Compare(pa, pb)
		}
		return strings.Compare(a, b)
	})
	return keys
}

func priorityOf(key string) int {
	if p, ok := columnPriority[key]; ok {
		return p
	}
	return 50
}

func (r *Renderer) renderTable(b *strings.Builder, data []map[string]any) {
	var keys []string
	for k, v := range data[0] {
		if hiddenKeys[k] {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return
	}
	keys = orderKeys(keys)

	cols := make([]column, len(keys))
	for i, k := range keys {
		cols[i] = column{key: k, priority: priorityOf(k), width: lipgloss.Width(formatHeader(k))}
		for _, row := range data {
			cols[i].width = max(cols[i].width, lipgloss.Width(formatValue(k, row[k])))
		}
		cols[i].width = min(cols[i].width, 40)
	}

	// Drop lowest-priority columns until the table fits.
	for len(cols) > 1 {
		total := 0
		for _, c := range cols {
			total += c.width + 1
		}
		if total <= r.width {
			break
		}
		cols = cols[:len(cols)-1]
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			if col < len(cols) && mutedColumns[cols[col].key] {
				return r.CellMuted
			}
			return r.Cell
		})

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = formatHeader(c.key)
	}
	t.Headers(headers...)

	for _, item := range data {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = truncate(formatValue(c.key, item[c.key]), c.width)
		}
		t.Row(row...)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	var keys []string
	for k, v := range data {
		if hiddenKeys[k] {
			continue
		}
		if _, nested := v.(map[string]any); nested {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
		return
	}
	keys = orderKeys(keys)

	width := 0
	for _, k := range keys {
		width = max(width, len(formatHeader(k)))
	}
	for _, k := range keys {
		label := r.Muted.Render(fmt.Sprintf("%-*s: ", width, formatHeader(k)))
		style := r.Data
		if mutedColumns[k] {
			style = r.CellMuted
		}
		b.WriteString(label + style.Render(formatValue(k, data[k])) + "\n")
	}
}

func formatPagination(page any) string {
	m, ok := page.(map[string]any)
	if !ok {
		return ""
	}
	current, last, total := formatCell(m["current_page"]), formatCell(m["last_page"]), formatCell(m["total"])
	if current == "" || last == "" {
		return ""
	}
	line := fmt.Sprintf("Page %s of %s", current, last)
	if total != "" {
		line += fmt.Sprintf(" (%s total)", total)
	}
	return line
}

// formatHeader turns "renewal_date" into "Renewal Date".
func formatHeader(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// formatValue renders timestamps in date-like columns as local dates.
func formatValue(key string, val any) string {
	s, ok := val.(string)
	if !ok || s == "" || !(strings.HasSuffix(key, "_at") || strings.HasSuffix(key, "_date")) {
		return formatCell(val)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Local().Format("Jan 2, 2006 15:04")
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.Format("Jan 2, 2006 15:04")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("Jan 2, 2006")
	}
	return s
}

func formatCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if name, ok := m["name"].(string); ok {
					items = append(items, name)
					continue
				}
				items = append(items, formatCell(m["id"]))
				continue
			}
			items = append(items, formatCell(item))
		}
		return strings.Join(items, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return string(r[:n-3]) + "..."
}
