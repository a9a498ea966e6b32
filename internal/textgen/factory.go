package textgen

import (
	"fmt"
	"strings"

	"specforge/internal/config"
	"specforge/internal/services"
	"specforge/internal/services/anthropic"
	"specforge/internal/services/llm"
)

// New builds the configured provider wrapped with telemetry.
func New(cfg config.LLM) (Backend, error) {
	var backend Backend
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenRouter:
		backend = NewOpenRouter(llm.NewClient(llm.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Referer:        cfg.Referer,
			Title:          cfg.Title,
			TimeoutSeconds: cfg.TimeoutSeconds,
			MaxTokens:      cfg.MaxTokens,
		}))
	case ProviderAnthropic:
		client, err := anthropic.NewClient(anthropic.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			MaxTokens:      cfg.MaxTokens,
			TimeoutSeconds: cfg.TimeoutSeconds,
			MaxRetries:     2,
		}, nil)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "textgen", "new anthropic backend", "", err)
		}
		backend = NewAnthropic(client)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "textgen", "new backend", fmt.Sprintf("unknown provider %q", cfg.Provider), nil)
	}
	return Instrument(backend, nil), nil
}
