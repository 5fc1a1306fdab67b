// Package logging configures the CLI's logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Formatter renders entries as one compact line:
//
//	[15:04:05] [warn ] [6f1c2a9e] token refresh failed, clearing session error=...
type Formatter struct {
	// Timestamp layout; empty means "15:04:05".
	TimeLayout string
}

// fieldOrder lists fields printed first, in this order. Others follow sorted.
var fieldOrder = []string{"method", "url", "status", "attempts", "state", "error"}

// Format renders a single log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	layout := f.TimeLayout
	if layout == "" {
		layout = "15:04:05"
	}
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%-5s]", entry.Time.Format(layout), level)
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		fmt.Fprintf(buffer, " [%s]", shortID(id))
	}
	buffer.WriteByte(' ')
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))

	for _, k := range orderedKeys(entry.Data) {
		fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

func orderedKeys(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	for _, k := range fieldOrder {
		if _, ok := data[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range data {
		if k == "request_id" || slices.Contains(fieldOrder, k) {
			continue
		}
		rest = append(rest, k)
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Options configures New.
type Options struct {
	// Level is a logrus level name. Empty means "warning".
	Level string
	// Verbose raises the level: 1 = info, 2 = debug.
	Verbose int
	// File, when set, receives logs through a rotating writer instead of Stderr.
	File string
	// Stderr is the console destination. Nil means os.Stderr.
	Stderr io.Writer
}

// New builds a logger. The returned close func releases the log file.
func New(opts Options) (*log.Logger, func() error, error) {
	level := log.WarnLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}
	switch {
	case opts.Verbose >= 2 && level < log.DebugLevel:
		level = log.DebugLevel
	case opts.Verbose == 1 && level < log.InfoLevel:
		level = log.InfoLevel
	}

	logger := log.New()
	logger.SetLevel(level)
	logger.SetFormatter(&Formatter{})

	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if opts.File == "" {
		return logger, func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	logger.SetFormatter(&Formatter{TimeLayout: "2006-01-02 15:04:05"})
	logger.SetOutput(rotating)
	return logger, rotating.Close, nil
}
