// Package anthropic adapts the Anthropic Messages API for text generation.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
)

// ErrAPIKeyRequired is returned when no API key is configured.
var ErrAPIKeyRequired = errors.New("anthropic: api key required")

// Config captures the runtime settings for the Messages API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	TimeoutSeconds int
	MaxRetries     int
}

// Client wraps the SDK client with the model and limits fixed.
type Client struct {
	client    sdk.Client
	model     sdk.Model
	maxTokens int64
}

// RefusalError reports that the model stopped on policy grounds.
type RefusalError struct {
	StopReason string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("anthropic: response refused (stop_reason=%s)", e.StopReason)
}

// EmptyResponseError reports a response with no text content.
type EmptyResponseError struct {
	StopReason string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("anthropic: no text content (stop_reason=%s)", e.StopReason)
}

// NewClient builds a Messages API client. Retries on 429/5xx are delegated to
// the SDK and bounded by MaxRetries.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrAPIKeyRequired
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		client:    sdk.NewClient(opts...),
		model:     sdk.Model(strings.TrimSpace(cfg.Model)),
		maxTokens: maxTokens,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return string(c.model)
}

// Complete sends one system prompt and one user turn and returns the first
// text block of the reply.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", errors.New("anthropic: user prompt required")
	}
	params := sdk.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if strings.TrimSpace(system) != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	stop := string(message.StopReason)
	if stop == "refusal" {
		return "", &RefusalError{StopReason: stop}
	}
	for _, block := range message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", &EmptyResponseError{StopReason: stop}
}

// StatusCode extracts the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
