package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// lockedWriter serializes writes from handler clones sharing one destination.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// consoleHandler renders one line per record:
//
//	2026-05-01T08:00:00Z INFO executor [gpx-speed/0123abcd]: execution claimed attempt=1
//
// The component, execution ID, and tool attributes move into the header.
type consoleHandler struct {
	out    *lockedWriter
	level  *slog.LevelVar
	source bool
	attrs  []slog.Attr
	prefix string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var component, executionID, tool string
	var fields strings.Builder
	emit := func(a slog.Attr, prefix string) {
		walkAttr(a, prefix, func(key string, v slog.Value) {
			switch key {
			case FieldComponent:
				component = first(component, v.String())
			case FieldExecutionID:
				executionID = first(executionID, v.String())
			case FieldTool:
				tool = first(tool, v.String())
			default:
				fields.WriteByte(' ')
				fields.WriteString(key)
				fields.WriteByte('=')
				fields.WriteString(formatValue(v))
			}
		})
	}
	for _, a := range h.attrs {
		emit(a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		emit(a, h.prefix)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var line strings.Builder
	line.WriteString(ts.UTC().Format(time.RFC3339))
	line.WriteByte(' ')
	line.WriteString(levelLabel(r.Level))
	line.WriteByte(' ')
	header := strings.TrimSpace(component + " " + subjectLabel(executionID, tool))
	if header != "" {
		line.WriteString(header)
		line.WriteString(": ")
	}
	if msg := strings.TrimSpace(r.Message); msg != "" {
		line.WriteString(msg)
	} else {
		line.WriteString("(no message)")
	}
	if h.source {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&line, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	line.WriteString(fields.String())
	line.WriteByte('\n')

	_, err := io.WriteString(h.out, line.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// walkAttr flattens groups into dotted keys.
func walkAttr(a slog.Attr, prefix string, fn func(string, slog.Value)) {
	if a.Equal(slog.Attr{}) {
		return
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, child := range v.Group() {
			walkAttr(child, prefix, fn)
		}
		return
	}
	fn(prefix+a.Key, v)
}

func first(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

// subjectLabel renders "[tool/shortid]" so interleaved executions stay readable.
func subjectLabel(executionID, tool string) string {
	if len(executionID) > 8 {
		executionID = executionID[:8]
	}
	switch {
	case executionID == "" && tool == "":
		return ""
	case tool == "":
		return "[" + executionID + "]"
	case executionID == "":
		return "[" + tool + "]"
	default:
		return "[" + tool + "/" + executionID + "]"
	}
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
