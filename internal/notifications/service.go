package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"specforge/internal/config"
)

const userAgent = "specforge/0.1"

// Event names a publishable milestone.
type Event string

const (
	EventRunSucceeded Event = "run_succeeded"
	EventRunFailed    Event = "run_failed"
	EventRunCancelled Event = "run_cancelled"
	EventTest         Event = "test"
)

// Payload carries event fields. Unknown keys are ignored.
type Payload map[string]any

// Service delivers events. Implementations must be safe for concurrent use.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when the topic is empty.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewNoop returns a service that drops every event.
func NewNoop() Service { return noopService{} }

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	switch event {
	case EventRunSucceeded:
		body := fmt.Sprintf("Run %s (%s) finished", p.str("run_id"), p.str("window_key"))
		if ref := p.str("work_ref"); ref != "" {
			body += ": " + ref
		}
		return message{
			title: "specforge - Run Complete",
			body:  body,
			tags:  []string{"specforge", "run", "completed"},
		}, true
	case EventRunFailed:
		body := fmt.Sprintf("Run %s failed at %s", p.str("run_id"), p.str("stage"))
		if code := p.str("code"); code != "" {
			body += fmt.Sprintf(" [%s]", code)
		}
		if reason := p.str("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "specforge - Run Failed",
			body:     body,
			tags:     []string{"specforge", "run", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title: "specforge - Test",
			body:  "Notifications are configured",
			tags:  []string{"specforge", "test"},
		}, true
	default:
		// Cancellation is operator initiated; nobody needs to be paged for it.
		return message{}, false
	}
}

func (p Payload) str(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
