package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	snippetLimit          = 160
)

// Config holds the connection settings for an OpenRouter-compatible endpoint.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
	MaxTokens      int
}

// Client talks to a chat completion endpoint and retries transient failures.
type Client struct {
	cfg  Config
	http *http.Client

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	timer     backoff.Timer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetryMaxAttempts sets the total number of requests per call. Values
// below one mean a single request.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.attempts = attempts }
}

// WithRetryBackoff sets the first retry delay and the ceiling for any delay,
// including server supplied Retry-After values.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithSleeper replaces the wait between retries. Tests use it to record
// delays without sleeping.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(c *Client) {
		if sleep != nil {
			c.timer = &sleeperTimer{sleep: sleep, c: make(chan time.Time, 1)}
		}
	}
}

// NewClient constructs a client. Empty fields fall back to OpenRouter defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: timeout},
		attempts:  defaultRetryAttempts,
		baseDelay: defaultRetryBaseDelay,
		maxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx response from the completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// EmptyContentError is a successful response that carried no usable content.
type EmptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

// Refused reports whether the provider declined the request on policy grounds.
func (e *EmptyContentError) Refused() bool {
	return e.Refusal != "" || strings.EqualFold(e.FinishReason, "content_filter")
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op, e.FinishReason, e.Refusal, e.Snippet)
}

// Request is one chat completion exchange.
type Request struct {
	System      string
	User        string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

// Complete issues a chat completion and returns the model's text content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	system := strings.TrimSpace(req.System)
	user := strings.TrimSpace(req.User)
	switch {
	case system == "":
		return "", errors.New("llm complete: system prompt required")
	case user == "":
		return "", errors.New("llm complete: user prompt required")
	case c.cfg.APIKey == "":
		return "", errors.New("llm complete: api key required")
	}
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.cfg.MaxTokens
	}
	if req.JSON {
		body.ResponseFormat = jsonFormat
	}
	return c.call(ctx, "llm complete", body)
}

// HealthCheck sends a tiny JSON request to confirm the key and model work.
// It makes a single attempt.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("llm health: api key required")
	}
	probe := *c
	probe.attempts = 1
	content, err := probe.call(ctx, "llm health", chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You must respond with JSON only."},
			{Role: "user", Content: `Respond with {"ok":true}`},
		},
		ResponseFormat: jsonFormat,
	})
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

var jsonFormat = map[string]string{"type": "json_object"}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatContent `json:"message"`
		// Some providers answer with the streaming shape even when stream=false.
		Delta        chatContent `json:"delta"`
		Text         string      `json:"text"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatContent struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

// content returns the first non-empty choice text, the first finish reason,
// and any refusal.
func (r chatResponse) content() (text, finish, refusal string) {
	for _, choice := range r.Choices {
		if finish == "" {
			finish = strings.TrimSpace(choice.FinishReason)
		}
		if refusal == "" {
			refusal = firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal)
		}
		if text = firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); text != "" {
			return text, finish, refusal
		}
	}
	return "", finish, refusal
}

func (c *Client) call(ctx context.Context, op string, body chatRequest) (string, error) {
	attempts := max(c.attempts, 1)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = max(c.baseDelay, 0)
	policy.MaxInterval = c.maxDelay
	policy.MaxElapsedTime = 0
	schedule := &retryAfter{
		BackOff: backoff.WithMaxRetries(policy, uint64(attempts-1)),
		ceiling: c.maxDelay,
	}

	tries := 0
	operation := func() (string, error) {
		tries++
		text, err := c.send(ctx, op, body)
		if err == nil {
			return text, nil
		}
		if !retryable(ctx, err) {
			return "", backoff.Permanent(err)
		}
		var status *StatusError
		if errors.As(err, &status) {
			schedule.next = status.RetryAfter
		}
		return "", err
	}
	text, err := backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(schedule, ctx), nil, c.timer)
	if err != nil && tries > 1 {
		return "", fmt.Errorf("%s: failed after %d attempts: %w", op, tries, err)
	}
	return text, err
}

func (c *Client) send(ctx context.Context, op string, body chatRequest) (string, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: http error (timeout=%s): %w", c.http.Timeout, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("llm request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", op)
	}
	text, finish, refusal := completion.content()
	if text == "" {
		return "", &EmptyContentError{Op: op, FinishReason: finish, Refusal: refusal, Snippet: snippet(string(raw))}
	}
	return text, nil
}

// retryable reports whether err is worth another request: rate limits,
// server errors, timeouts, and empty completions that were not refusals.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var empty *EmptyContentError
	if errors.As(err, &empty) {
		return !empty.Refused()
	}
	var status *StatusError
	if errors.As(err, &status) {
		code := status.StatusCode
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// retryAfter prefers a server supplied delay over the exponential schedule
// for the next wait only.
type retryAfter struct {
	backoff.BackOff
	next    time.Duration
	ceiling time.Duration
}

func (r *retryAfter) NextBackOff() time.Duration {
	wait := r.BackOff.NextBackOff()
	if wait == backoff.Stop {
		return wait
	}
	if r.next > 0 {
		wait = r.next
		r.next = 0
	}
	if r.ceiling > 0 && wait > r.ceiling {
		wait = r.ceiling
	}
	return wait
}

type sleeperTimer struct {
	sleep func(time.Duration)
	c     chan time.Time
}

func (t *sleeperTimer) Start(d time.Duration) {
	t.sleep(d)
	t.c <- time.Now()
}

func (t *sleeperTimer) Stop() {}

func (t *sleeperTimer) C() <-chan time.Time { return t.c }

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}

// DecodeJSON decodes a model's JSON answer, tolerating code fences and prose
// around a single object or array.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	direct := json.Unmarshal([]byte(trimmed), target)
	if direct == nil {
		return nil
	}
	extracted := extractJSON(trimmed)
	if extracted == "" || extracted == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", direct, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(extracted), target); err != nil {
		return fmt.Errorf("%w (extracted payload snippet: %s)", err, snippet(extracted))
	}
	return nil
}

func extractJSON(content string) string {
	body := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(body, "```"); ok {
		rest = strings.TrimLeft(rest, " \t\r\n")
		if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
			rest = rest[4:]
		}
		if idx := strings.LastIndex(rest, "```"); idx >= 0 {
			rest = rest[:idx]
		}
		body = strings.TrimSpace(rest)
	}
	if body == "" || body[0] == '{' || body[0] == '[' {
		return body
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(body, pair[0])
		end := strings.LastIndex(body, pair[1])
		if start >= 0 && end > start {
			return strings.TrimSpace(body[start : end+1])
		}
	}
	return body
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	if runes := []rune(clean); len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "..."
	}
	return clean
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
