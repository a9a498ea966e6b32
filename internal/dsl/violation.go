package dsl

import (
	"fmt"
	"strings"
)

// Violation is one concrete validation failure.
type Violation struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Got      string `json:"got"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", v.Path, v.Expected, v.Got)
}

// Report is the outcome of validating one document.
type Report struct {
	Phase      string      `json:"phase"`
	Violations []Violation `json:"violations"`
}

// OK reports whether validation passed.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// Summary renders violations as one line per entry.
func (r Report) Summary() string {
	lines := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		lines = append(lines, v.String())
	}
	return strings.Join(lines, "\n")
}

// Describe returns a short type label for a decoded YAML value.
func Describe(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		if v == "" {
			return "empty string"
		}
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", value)
	}
}
