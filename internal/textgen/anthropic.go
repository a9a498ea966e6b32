package textgen

import (
	"context"
	"errors"

	"specforge/internal/services/anthropic"
)

// ProviderAnthropic names the Anthropic Messages API backend.
const ProviderAnthropic = "anthropic"

const jsonOnlySuffix = "\n\nRespond with a single JSON object and nothing else."

// Anthropic adapts the Messages API client to Backend.
type Anthropic struct {
	client *anthropic.Client
}

// NewAnthropic wraps an existing client.
func NewAnthropic(client *anthropic.Client) *Anthropic {
	return &Anthropic{client: client}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.JSON {
		system += jsonOnlySuffix
	}
	text, err := a.client.Complete(ctx, system, req.Prompt(), req.Temperature)
	if err != nil {
		return "", classifyAnthropic(err)
	}
	return text, nil
}

func (a *Anthropic) HealthCheck(ctx context.Context) error {
	_, err := a.Complete(ctx, Request{
		Purpose:     PurposeHealth,
		System:      "You are a health probe.",
		Instruction: `Respond with {"ok":true}`,
		JSON:        true,
	})
	return err
}

func classifyAnthropic(err error) error {
	var refusal *anthropic.RefusalError
	if errors.As(err, &refusal) {
		return &Error{Kind: KindRefused, Provider: ProviderAnthropic, Err: err}
	}
	var empty *anthropic.EmptyResponseError
	if errors.As(err, &empty) {
		return Malformed(ProviderAnthropic, err)
	}
	if status := anthropic.StatusCode(err); status != 0 {
		return classifyStatus(ProviderAnthropic, status, err)
	}
	if te, ok := classifyTransport(ProviderAnthropic, err); ok {
		return te
	}
	return &Error{Kind: KindUnavailable, Provider: ProviderAnthropic, Err: err}
}
