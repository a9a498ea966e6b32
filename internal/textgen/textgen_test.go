package textgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"specforge/internal/dsl"
	"specforge/internal/services"
	"specforge/internal/services/llm"
	"specforge/internal/testsupport"
	"specforge/internal/textgen"
)

type verdict struct {
	OK     *bool  `json:"ok"`
	Reason string `json:"reason"`
}

func checkVerdict(v *verdict) []dsl.Violation {
	if v.OK == nil {
		return []dsl.Violation{{Path: "ok", Expected: "boolean", Got: "missing"}}
	}
	return nil
}

func TestCallReturnsOK(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.Reply("```json\n{\"ok\":true,\"reason\":\"fine\"}\n```"))
	env := textgen.Call(context.Background(), backend, textgen.Request{Instruction: "judge"}, checkVerdict)
	if env.Outcome != textgen.OutcomeOK {
		t.Fatalf("outcome = %s, err = %v", env.Outcome, env.Err)
	}
	if !*env.Value.OK || env.Value.Reason != "fine" {
		t.Fatalf("unexpected value %+v", env.Value)
	}
	if calls := backend.Calls(); len(calls) != 1 || !calls[0].JSON {
		t.Fatalf("expected one JSON call, got %+v", calls)
	}
}

func TestCallSchemaErrorOnMissingField(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.Reply(`{"reason":"no verdict"}`))
	env := textgen.Call(context.Background(), backend, textgen.Request{Instruction: "judge"}, checkVerdict)
	if env.Outcome != textgen.OutcomeSchemaError {
		t.Fatalf("outcome = %s", env.Outcome)
	}
	if len(env.Violations) != 1 || env.Violations[0].Path != "ok" {
		t.Fatalf("unexpected violations %+v", env.Violations)
	}
	if textgen.KindOf(env.Err) != textgen.KindMalformed {
		t.Fatalf("expected malformed error, got %v", env.Err)
	}
}

func TestCallSchemaErrorOnProse(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.Reply("I think it is fine."))
	env := textgen.Call(context.Background(), backend, textgen.Request{Instruction: "judge"}, checkVerdict)
	if env.Outcome != textgen.OutcomeSchemaError {
		t.Fatalf("outcome = %s", env.Outcome)
	}
}

func TestCallBackendError(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.Failure(textgen.KindTimeout))
	env := textgen.Call(context.Background(), backend, textgen.Request{Instruction: "judge"}, checkVerdict)
	if env.Outcome != textgen.OutcomeBackendErr {
		t.Fatalf("outcome = %s", env.Outcome)
	}
	if !textgen.IsRetryable(env.Err) {
		t.Fatalf("timeout should be retryable: %v", env.Err)
	}
	svcErr := textgen.AsServiceError("verify", env.Err)
	if !errors.Is(svcErr, services.ErrBackend) || services.CodeOf(svcErr) != services.CodeBackendTimeout {
		t.Fatalf("unexpected service error %v (code %s)", svcErr, services.CodeOf(svcErr))
	}
}

func TestRequestPromptOrdersSections(t *testing.T) {
	req := textgen.Request{
		Context:     []string{"Grammar: rect", "", "Known gaps: none"},
		Instruction: "Judge the idea.",
		Schema:      `{"ok": true}`,
	}
	prompt := req.Prompt()
	grammar := strings.Index(prompt, "Grammar")
	gaps := strings.Index(prompt, "Known gaps")
	instr := strings.Index(prompt, "Judge the idea.")
	schema := strings.Index(prompt, `{"ok": true}`)
	if !(grammar < gaps && gaps < instr && instr < schema) {
		t.Fatalf("unexpected prompt order:\n%s", prompt)
	}
}

func chatServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func openRouter(url string) *textgen.OpenRouter {
	return textgen.NewOpenRouter(llm.NewClient(
		llm.Config{APIKey: "k", BaseURL: url, Model: "m"},
		llm.WithRetryMaxAttempts(1),
	))
}

func TestOpenRouterClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   textgen.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]any{}, textgen.KindUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, map[string]any{}, textgen.KindTimeout},
		{"bad request", http.StatusBadRequest, map[string]any{}, textgen.KindInvalidRequest},
		{"refusal", http.StatusOK, map[string]any{
			"choices": []any{map[string]any{
				"message":       map[string]any{"content": "", "refusal": "cannot help"},
				"finish_reason": "stop",
			}},
		}, textgen.KindRefused},
		{"empty", http.StatusOK, map[string]any{
			"choices": []any{map[string]any{
				"message":       map[string]any{"content": ""},
				"finish_reason": "length",
			}},
		}, textgen.KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := chatServer(t, tt.status, tt.body)
			_, err := openRouter(server.URL).Complete(context.Background(), textgen.Request{System: "s", Instruction: "u"})
			if got := textgen.KindOf(err); got != tt.want {
				t.Fatalf("kind = %q, want %q (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestOpenRouterSuccess(t *testing.T) {
	server := chatServer(t, http.StatusOK, map[string]any{
		"choices": []any{map[string]any{
			"message":       map[string]any{"content": `{"ok":true}`},
			"finish_reason": "stop",
		}},
	})
	text, err := openRouter(server.URL).Complete(context.Background(), textgen.Request{System: "s", Instruction: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `{"ok":true}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestInstrumentedPassesThrough(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.Reply("hello"))
	wrapped := textgen.Instrument(backend, nil)
	if wrapped.Name() != "fake" {
		t.Fatalf("name = %q", wrapped.Name())
	}
	text, err := wrapped.Complete(context.Background(), textgen.Request{Purpose: textgen.PurposeGenerate, Instruction: "x"})
	if err != nil || text != "hello" {
		t.Fatalf("Complete = %q, %v", text, err)
	}
}
