package textgen

import (
	"context"
	"errors"

	"specforge/internal/services/llm"
)

// ProviderOpenRouter names the OpenRouter-compatible chat completion backend.
const ProviderOpenRouter = "openrouter"

// OpenRouter adapts the chat completion client to Backend.
type OpenRouter struct {
	client *llm.Client
}

// NewOpenRouter wraps an existing client.
func NewOpenRouter(client *llm.Client) *OpenRouter {
	return &OpenRouter{client: client}
}

func (o *OpenRouter) Name() string { return ProviderOpenRouter }

func (o *OpenRouter) Complete(ctx context.Context, req Request) (string, error) {
	text, err := o.client.Complete(ctx, llm.Request{
		System:      req.System,
		User:        req.Prompt(),
		JSON:        req.JSON,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", classifyOpenRouter(err)
	}
	return text, nil
}

func (o *OpenRouter) HealthCheck(ctx context.Context) error {
	if err := o.client.HealthCheck(ctx); err != nil {
		return classifyOpenRouter(err)
	}
	return nil
}

func classifyOpenRouter(err error) error {
	var empty *llm.EmptyContentError
	if errors.As(err, &empty) {
		if empty.Refused() {
			return &Error{Kind: KindRefused, Provider: ProviderOpenRouter, Err: err}
		}
		return Malformed(ProviderOpenRouter, err)
	}
	var status *llm.StatusError
	if errors.As(err, &status) {
		return classifyStatus(ProviderOpenRouter, status.StatusCode, err)
	}
	if te, ok := classifyTransport(ProviderOpenRouter, err); ok {
		return te
	}
	return &Error{Kind: KindUnavailable, Provider: ProviderOpenRouter, Err: err}
}
