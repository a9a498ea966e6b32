package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"specforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrBackend, "compile", "generate", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrBackend) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"compile", "generate", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestFailCarriesCodeThroughWrapping(t *testing.T) {
	inner := services.Fail(services.ErrPrecondition, services.CodeIdeaNotFeasible, "compile", "candidate is blocked", nil)
	err := fmt.Errorf("stage compile: %w", inner)

	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition marker, got %v", err)
	}
	if code := services.CodeOf(err); code != services.CodeIdeaNotFeasible {
		t.Fatalf("expected idea_not_feasible, got %q", code)
	}
	details := services.ErrorDetails(err)
	if details.Kind != "precondition" {
		t.Fatalf("expected precondition kind, got %q", details.Kind)
	}
	if details.Message != "candidate is blocked" {
		t.Fatalf("unexpected message %q", details.Message)
	}
	if details.Hint == "" {
		t.Fatal("expected default hint for idea_not_feasible")
	}
}

func TestCodeOfFallsBackToMarker(t *testing.T) {
	cases := []struct {
		err  error
		want services.Code
	}{
		{services.Wrap(services.ErrNotFound, "", "get", "missing", nil), services.CodeNotFound},
		{services.Wrap(services.ErrCancelled, "", "", "", context.Canceled), services.CodeRunCancelled},
		{errors.New("disk full"), services.CodePersistence},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := services.CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsConflict(t *testing.T) {
	err := services.Fail(services.ErrConflict, services.CodeAlreadyClaimed, "verify", "claimed elsewhere", nil)
	if !services.IsConflict(err) {
		t.Fatal("expected conflict classification")
	}
	if services.IsConflict(errors.New("other")) {
		t.Fatal("unexpected conflict classification")
	}
}
