package logging

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// priorityKeys are listed first at info level, in this order.
var priorityKeys = []string{
	FieldAlert, FieldEventType, FieldDecisionType, FieldErrorCode, FieldErrorHint,
	"error", "decision_result", "decision_reason", "status", "capability_status",
	"feasible", "new_gaps", "existing_gaps", "attempt", "backend_calls",
	"violations", "content_hash", "degraded", "stage_duration", FieldImpact,
}

var fieldLabels = map[string]string{
	FieldAlert:        "Alert",
	FieldEventType:    "Event",
	FieldDecisionType: "Decision",
	"decision_result": "Decision",
	FieldErrorCode:    "Error Code",
	FieldErrorHint:    "Hint",
	"stage_duration":  "Duration",
	FieldSpecVersion:  "Spec",
}

// curate picks the info-level fields: header keys are dropped, noisy keys
// are counted as hidden, and the rest are ordered by priority then by
// arrival up to maxConsoleFields.
func curate(fields []field) (shown []field, hidden int) {
	rank := func(key string) int {
		if i := slices.Index(priorityKeys, key); i >= 0 {
			return i
		}
		return len(priorityKeys)
	}
	candidates := make([]field, 0, len(fields))
	for _, f := range fields {
		switch {
		case inHeader(f.key):
		case verbose(f.key):
			hidden++
		default:
			candidates = append(candidates, f)
		}
	}
	slices.SortStableFunc(candidates, func(a, b field) int { return rank(a.key) - rank(b.key) })
	if len(candidates) > maxConsoleFields {
		hidden += len(candidates) - maxConsoleFields
		candidates = candidates[:maxConsoleFields]
	}
	return candidates, hidden
}

func inHeader(key string) bool {
	switch key {
	case FieldComponent, FieldRunID, FieldCandidateID, FieldStage:
		return true
	}
	return false
}

func verbose(key string) bool {
	return strings.Contains(key, "correlation") ||
		strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_dir") ||
		strings.HasPrefix(key, "prompt") || strings.HasPrefix(key, "response")
}

func labelFor(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func renderInfoValue(f field) string {
	if f.value.Kind() == slog.KindBool {
		if f.value.Bool() {
			return "yes"
		}
		return "no"
	}
	out := renderValue(f.value)
	if f.key == "error" && len(out) > 200 {
		out = out[:200] + "…"
	}
	return out
}

// renderValue is plainValue quoted when it would be ambiguous in key: value form.
func renderValue(v slog.Value) string {
	s := plainValue(v)
	if v.Kind() == slog.KindString || v.Kind() == slog.KindAny {
		if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
			return strconv.Quote(s)
		}
	}
	return s
}

func plainValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().Local().Format("2006-01-02 15:04:05")
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}
