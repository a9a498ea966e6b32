package textgen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"specforge/internal/services"
)

// Kind classifies backend failures.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindUnavailable    Kind = "unavailable"
	KindRefused        Kind = "refused"
	KindMalformed      Kind = "malformed"
	KindInvalidRequest Kind = "invalid_request"
)

// Error is a classified backend failure.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s backend: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s backend: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnavailable
}

// Code maps the kind to the persisted failure code.
func (e *Error) Code() services.Code {
	switch e.Kind {
	case KindTimeout:
		return services.CodeBackendTimeout
	case KindRefused:
		return services.CodeBackendRefused
	case KindMalformed:
		return services.CodeBackendMalformed
	default:
		return services.CodeBackendUnavailable
	}
}

// KindOf returns the classification of err, or "" when err is not a backend error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Retryable()
}

// Malformed builds a malformed-output error.
func Malformed(provider string, err error) *Error {
	return &Error{Kind: KindMalformed, Provider: provider, Err: err}
}

// AsServiceError converts a backend failure into the service taxonomy.
func AsServiceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if !errors.As(err, &te) {
		return services.Fail(services.ErrBackend, services.CodeBackendUnavailable, op, "backend call failed", err)
	}
	return services.Fail(services.ErrBackend, te.Code(), op, fmt.Sprintf("backend %s", te.Kind), err)
}

// classifyTransport maps context and network failures shared by all providers.
func classifyTransport(provider string, err error) (*Error, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}, true
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindUnavailable, Provider: provider, Err: err}, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Provider: provider, Err: err}, true
		}
		return &Error{Kind: KindUnavailable, Provider: provider, Err: err}, true
	}
	return nil, false
}

// classifyStatus maps an HTTP status from a provider response.
func classifyStatus(provider string, status int, err error) *Error {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &Error{Kind: KindUnavailable, Provider: provider, Err: err}
	case status >= http.StatusBadRequest:
		return &Error{Kind: KindInvalidRequest, Provider: provider, Err: err}
	default:
		return &Error{Kind: KindUnavailable, Provider: provider, Err: err}
	}
}
