package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPrecondition   = errors.New("precondition failed")
	ErrBackend        = errors.New("backend error")
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrInfrastructure = errors.New("infrastructure error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrCancelled      = errors.New("cancelled")
)

// Code is a stable machine-readable cause attached to terminal failures.
type Code string

const (
	CodeIdeaNotFeasible       Code = "idea_not_feasible"
	CodeDecisionInvalid       Code = "decision_invalid"
	CodeStageOrder            Code = "stage_order"
	CodeGapTransitionInvalid  Code = "gap_transition_invalid"
	CodeUnknownSpecVersion    Code = "unknown_spec_version"
	CodeNoEligibleCandidates  Code = "no_eligible_candidates"
	CodeBackendTimeout        Code = "backend_timeout"
	CodeBackendUnavailable    Code = "backend_unavailable"
	CodeBackendMalformed      Code = "backend_malformed"
	CodeBackendRefused        Code = "backend_refused"
	CodeCompileFailed         Code = "compile_failed"
	CodeAlreadyClaimed        Code = "already_claimed"
	CodeAlreadyDecided        Code = "already_decided"
	CodeStageTimeout          Code = "stage_timeout"
	CodeRunCancelled          Code = "run_cancelled"
	CodeRunFinished           Code = "run_finished"
	CodeRenderFailed          Code = "render_failed"
	CodePersistence           Code = "persistence_failure"
	CodeNotFound              Code = "not_found"
	CodeInvalidArgument       Code = "invalid_argument"
	CodeConfigurationMismatch Code = "configuration_invalid"
)

// Error carries a classification marker, a cause code, and operator-facing text.
type Error struct {
	Kind    error
	Code    Code
	Op      string
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("service failure")
	}
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(string(e.Code))
		b.WriteByte(']')
	}
	if detail := buildDetail("", e.Op, e.Message); detail != "service failure" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Fail builds a classified error with a cause code.
func Fail(marker error, code Code, operation, message string, err error) *Error {
	return &Error{Kind: marker, Code: code, Op: operation, Message: message, Err: err}
}

// WithHint attaches a next-step hint shown to operators.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInfrastructure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// CodeOf returns the first cause code found in the error chain. Errors without
// an explicit code are mapped from their marker.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return CodeRunCancelled
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConfiguration):
		return CodeConfigurationMismatch
	case errors.Is(err, ErrValidation):
		return CodeInvalidArgument
	default:
		return CodePersistence
	}
}

// IsConflict reports whether err is an idempotent concurrency loss.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
