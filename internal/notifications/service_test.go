package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"specforge/internal/config"
	"specforge/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(config.Notifications{})
	if err := svc.Publish(context.Background(), notifications.EventRunFailed, notifications.Payload{"run_id": 1}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "run succeeded",
			event: notifications.EventRunSucceeded,
			payload: notifications.Payload{
				"run_id":     int64(7),
				"window_key": "2026-10-16T09",
				"work_ref":   "idea:3",
			},
			expectTitle:   "specforge - Run Complete",
			expectMessage: "Run 7 (2026-10-16T09) finished: idea:3",
			expectTags:    "specforge,run,completed",
		},
		{
			name:  "run failed",
			event: notifications.EventRunFailed,
			payload: notifications.Payload{
				"run_id": int64(9),
				"stage":  "compile",
				"code":   "compile_exhausted",
				"error":  "no valid document after 2 attempts",
			},
			expectTitle:    "specforge - Run Failed",
			expectMessage:  "Run 9 failed at compile [compile_exhausted]: no valid document after 2 attempts",
			expectTags:     "specforge,run,failed",
			expectPriority: "high",
		},
		{
			name:          "test",
			event:         notifications.EventTest,
			expectTitle:   "specforge - Test",
			expectMessage: "Notifications are configured",
			expectTags:    "specforge,test",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			svc := notifications.NewService(config.Notifications{NtfyTopic: server.URL, RequestTimeout: 5})
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresCancelledRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	svc := notifications.NewService(config.Notifications{NtfyTopic: server.URL})
	if err := svc.Publish(context.Background(), notifications.EventRunCancelled, notifications.Payload{"run_id": 1}); err != nil {
		t.Fatalf("expected no error for suppressed event, got %v", err)
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic is read-only", http.StatusForbidden)
	}))
	defer server.Close()

	svc := notifications.NewService(config.Notifications{NtfyTopic: server.URL})
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
