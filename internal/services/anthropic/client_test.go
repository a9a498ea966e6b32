package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"specforge/internal/services/anthropic"
)

func messageServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func message(stopReason string, blocks ...map[string]any) map[string]any {
	content := make([]any, 0, len(blocks))
	for _, b := range blocks {
		content = append(content, b)
	}
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
	}
}

func newClient(t *testing.T, url string) *anthropic.Client {
	t.Helper()
	client, err := anthropic.NewClient(anthropic.Config{APIKey: "test-key", BaseURL: url, Model: "claude-test"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCompleteReturnsText(t *testing.T) {
	server := messageServer(t, http.StatusOK, message("end_turn", map[string]any{"type": "text", "text": `{"ok":true}`}))
	got, err := newClient(t, server.URL).Complete(context.Background(), "system", "user", 0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestCompleteRefusal(t *testing.T) {
	server := messageServer(t, http.StatusOK, message("refusal"))
	_, err := newClient(t, server.URL).Complete(context.Background(), "system", "user", 0)
	var refusal *anthropic.RefusalError
	if !errors.As(err, &refusal) {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestCompleteEmpty(t *testing.T) {
	server := messageServer(t, http.StatusOK, message("max_tokens"))
	_, err := newClient(t, server.URL).Complete(context.Background(), "system", "user", 0)
	var empty *anthropic.EmptyResponseError
	if !errors.As(err, &empty) || empty.StopReason != "max_tokens" {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestCompleteAPIErrorStatus(t *testing.T) {
	server := messageServer(t, http.StatusBadRequest, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "invalid_request_error", "message": "bad"},
	})
	_, err := newClient(t, server.URL).Complete(context.Background(), "system", "user", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if code := anthropic.StatusCode(err); code != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want 400", code)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := anthropic.NewClient(anthropic.Config{}, nil); !errors.Is(err, anthropic.ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}
