package api

import (
	"context"

	"specforge/internal/notifications"
	"specforge/internal/preflight"
	"specforge/internal/services"
	"specforge/internal/textgen"
)

// Preflight runs environment readiness checks.
func (s *Service) Preflight(ctx context.Context) []preflight.Result {
	var backend textgen.Backend = s.backend
	if s.cfg.RequireLLM() != nil {
		backend = nil
	}
	return preflight.RunAll(ctx, s.cfg, backend)
}

// TestNotification publishes a test message to the configured ntfy topic.
func (s *Service) TestNotification(ctx context.Context) error {
	if s.cfg.Notifications.NtfyTopic == "" {
		return services.Fail(services.ErrConfiguration, services.CodeConfigurationMismatch, "notifications",
			"notifications.ntfy_topic is not set", nil)
	}
	svc := notifications.NewService(s.cfg.Notifications)
	if err := svc.Publish(ctx, notifications.EventTest, nil); err != nil {
		return services.Wrap(services.ErrInfrastructure, "notifications", "publish test notification", "", err)
	}
	return nil
}
