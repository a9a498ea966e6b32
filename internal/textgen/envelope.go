package textgen

import (
	"context"
	"errors"

	"specforge/internal/dsl"
	"specforge/internal/services/llm"
)

// Outcome tags an Envelope.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeSchemaError Outcome = "schema_error"
	OutcomeBackendErr  Outcome = "backend_error"
)

// Envelope is the result of a schema-gated backend call: exactly one of
// Value (ok), Violations (schema_error), or Err (backend_error) is meaningful.
type Envelope[T any] struct {
	Outcome    Outcome
	Value      T
	Raw        string
	Violations []dsl.Violation
	Err        error
}

// Checker inspects a decoded value and returns every schema violation.
type Checker[T any] func(*T) []dsl.Violation

// Call sends req to backend, decodes the JSON reply into T, and runs check.
func Call[T any](ctx context.Context, backend Backend, req Request, check Checker[T]) Envelope[T] {
	req.JSON = true
	raw, err := backend.Complete(ctx, req)
	if err != nil {
		return Envelope[T]{Outcome: OutcomeBackendErr, Err: err}
	}
	return Gate(backend.Name(), raw, check)
}

// Gate decodes raw and applies check.
func Gate[T any](provider, raw string, check Checker[T]) Envelope[T] {
	var value T
	if err := llm.DecodeJSON(raw, &value); err != nil {
		return Envelope[T]{
			Outcome:    OutcomeSchemaError,
			Raw:        raw,
			Violations: []dsl.Violation{{Path: "$", Expected: "JSON object", Got: "undecodable text"}},
			Err:        Malformed(provider, err),
		}
	}
	if check != nil {
		if violations := check(&value); len(violations) > 0 {
			return Envelope[T]{
				Outcome:    OutcomeSchemaError,
				Raw:        raw,
				Value:      value,
				Violations: violations,
				Err:        Malformed(provider, errors.New(violations[0].String())),
			}
		}
	}
	return Envelope[T]{Outcome: OutcomeOK, Raw: raw, Value: value}
}
