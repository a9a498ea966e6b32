package services

import (
	"errors"
	"strings"
)

// Details is the persisted and displayed form of a failure.
type Details struct {
	Kind    string `json:"kind"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ErrorDetails classifies err for persistence and logging.
func ErrorDetails(err error) Details {
	if err == nil {
		return Details{}
	}
	d := Details{
		Kind:    kindLabel(err),
		Code:    CodeOf(err),
		Message: strings.TrimSpace(err.Error()),
	}
	var se *Error
	if errors.As(err, &se) {
		if msg := strings.TrimSpace(se.Message); msg != "" {
			d.Message = msg
		}
		d.Hint = se.Hint
	}
	if d.Hint == "" {
		d.Hint = defaultHint(d.Code)
	}
	return d
}

func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrBackend):
		return "backend"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "infrastructure"
	}
}

func defaultHint(code Code) string {
	switch code {
	case CodeIdeaNotFeasible:
		return "verify the candidate again after its gaps are implemented"
	case CodeBackendTimeout, CodeBackendUnavailable:
		return "check backend connectivity and retry the stage"
	case CodeBackendMalformed:
		return "retry; persistent failures indicate a prompt or model problem"
	case CodeBackendRefused:
		return "rephrase the candidate; the backend declined the request"
	case CodeCompileFailed:
		return "inspect the attached validation reports"
	case CodeStageTimeout:
		return "retry the stage; the worker stopped heartbeating"
	case CodeDecisionInvalid:
		return "decide every sampled candidate with exactly one pick"
	case CodeNoEligibleCandidates:
		return "verify more candidates before enqueueing another run"
	default:
		return ""
	}
}
