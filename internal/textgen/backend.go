// Package textgen defines the text-generation backend boundary used by the
// verifier and compiler, plus adapters for the supported providers.
package textgen

import (
	"context"
	"strings"
)

// Purpose labels why a request is made; it selects prompts and metrics.
type Purpose string

const (
	PurposeVerify   Purpose = "verify"
	PurposeGenerate Purpose = "generate"
	PurposeRepair   Purpose = "repair"
	PurposeHealth   Purpose = "health"
)

// Request is one prompt/context exchange with a backend.
type Request struct {
	Purpose     Purpose
	System      string
	Context     []string
	Instruction string
	// Schema describes the expected output shape and is appended to the prompt.
	Schema      string
	JSON        bool
	Temperature float64
}

// Prompt renders the user turn: context sections, then the instruction, then
// the output schema.
func (r Request) Prompt() string {
	var b strings.Builder
	for _, section := range r.Context {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		b.WriteString(section)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(r.Instruction))
	if schema := strings.TrimSpace(r.Schema); schema != "" {
		b.WriteString("\n\nRespond using exactly this format:\n")
		b.WriteString(schema)
	}
	return strings.TrimSpace(b.String())
}

// Backend produces text for a request. Implementations return *Error for
// every failure so callers can classify it.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// HealthChecker is implemented by backends that can probe their upstream.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
