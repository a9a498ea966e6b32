package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one header line per record followed by an indented
// list of fields. Info and above show a curated subset; debug shows all.
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Leveler
	bound     []field
	prefix    string
	addSource bool
	color     bool
}

type field struct {
	key   string
	value slog.Value
}

const maxConsoleFields = 8

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource, color bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, out: w, level: level, addSource: addSource, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = append([]field(nil), h.bound...)
	for _, a := range attrs {
		next.bound = appendField(next.bound, h.prefix, a)
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

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.bound...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.prefix, a)
		return true
	})
	fields = lastWins(fields)

	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(ts.In(time.Local).Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(h.paint(r.Level))
	if component := lookup(fields, FieldComponent); component != "" {
		fmt.Fprintf(&b, " [%s]", component)
	}
	if subject := subjectOf(fields); subject != "" {
		b.WriteByte(' ')
		b.WriteString(subject)
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(" – ")
	b.WriteString(msg)
	if h.addSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	b.WriteByte('\n')

	if r.Level < slog.LevelInfo {
		for _, f := range fields {
			fmt.Fprintf(&b, "    %s: %s\n", f.key, renderValue(f.value))
		}
	} else {
		shown, hidden := curate(fields)
		for _, f := range shown {
			fmt.Fprintf(&b, "    - %s: %s\n", labelFor(f.key), renderInfoValue(f))
		}
		switch {
		case hidden == 1:
			b.WriteString("    + 1 more field hidden\n")
		case hidden > 1:
			fmt.Fprintf(&b, "    + %d more fields hidden\n", hidden)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *consoleHandler) paint(level slog.Level) string {
	var label, ansi string
	switch {
	case level >= slog.LevelError:
		label, ansi = "ERROR", "31"
	case level >= slog.LevelWarn:
		label, ansi = "WARN", "33"
	case level >= slog.LevelInfo:
		label, ansi = "INFO", "36"
	default:
		label, ansi = "DEBUG", "90"
	}
	if !h.color {
		return label
	}
	return "\x1b[" + ansi + "m" + label + "\x1b[0m"
}

func appendField(dst []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, member := range a.Value.Group() {
			dst = appendField(dst, inner, member)
		}
		return dst
	}
	if a.Key == "" {
		return dst
	}
	return append(dst, field{key: prefix + a.Key, value: a.Value})
}

// lastWins keeps the first position of each key with its latest value.
func lastWins(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func lookup(fields []field, key string) string {
	for _, f := range fields {
		if f.key == key {
			return plainValue(f.value)
		}
	}
	return ""
}

// subjectOf renders "Run #3 (compile)" or "Candidate #9" style subjects.
func subjectOf(fields []field) string {
	run, stage := lookup(fields, FieldRunID), lookup(fields, FieldStage)
	switch {
	case run != "" && stage != "":
		return "Run #" + run + " (" + stage + ")"
	case run != "":
		return "Run #" + run
	}
	if candidate := lookup(fields, FieldCandidateID); candidate != "" {
		return "Candidate #" + candidate
	}
	return stage
}
