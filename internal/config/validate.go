package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateTelemetry()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set when store.driver is postgres (or set DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want sqlite or postgres)", c.Store.Driver)
	}
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return fmt.Errorf("llm.provider: unsupported value %q (want openrouter or anthropic)", c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderOpenRouter && c.LLM.BaseURL == "" {
		return errors.New("llm.base_url must be set for the openrouter provider")
	}
	return nil
}

// RequireLLM reports a configuration error when no backend credentials are set.
// Commands that never call the backend skip this check.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	envVar := "OPENROUTER_API_KEY"
	if c.LLM.Provider == ProviderAnthropic {
		envVar = "ANTHROPIC_API_KEY"
	}
	return fmt.Errorf("llm.api_key is required. Set %s or SPECFORGE_LLM_API_KEY, or edit %s (create with 'specforge config init')", envVar, defaultPath)
}

func (c *Config) validateLimits() error {
	if err := ensurePositiveMap(map[string]int{
		"verifier.max_retries":           c.Verifier.MaxRetries,
		"verifier.retry_base_millis":     c.Verifier.RetryBaseMillis,
		"verifier.claim_timeout_seconds": c.Verifier.ClaimTimeoutSeconds,
		"verifier.batch_size":            c.Verifier.BatchSize,
		"gate.pool_size":                 c.Gate.PoolSize,
		"compiler.max_attempts":          c.Compiler.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Compiler.MaxRepairs < 0 {
		return errors.New("compiler.max_repairs must be >= 0")
	}
	return nil
}

func (c *Config) validateRender() error {
	if !c.Render.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Render.Command) == "" {
		return errors.New("render.command must be set when render.enabled is true")
	}
	if c.Render.TimeoutSeconds <= 0 {
		return errors.New("render.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":                c.Workflow.Workers,
		"workflow.queue_poll_interval":    c.Workflow.QueuePollInterval,
		"workflow.select_defer_seconds":   c.Workflow.SelectDeferSeconds,
		"workflow.reverify_poll_interval": c.Workflow.ReverifyPollInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if !c.Telemetry.Enabled {
		return nil
	}
	switch c.Telemetry.Exporter {
	case "stdout":
		return nil
	case "otlp":
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint must be set when telemetry.exporter is otlp")
		}
		return nil
	default:
		return fmt.Errorf("telemetry.exporter: unsupported value %q (want stdout or otlp)", c.Telemetry.Exporter)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
