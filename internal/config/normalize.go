package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeSpec()
	if err := c.normalizeCompiler(); err != nil {
		return err
	}
	c.normalizeRender()
	c.normalizeLogging()
	c.normalizeNotifications()
	c.normalizeTelemetry()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.GrammarDir, err = expandPath(strings.TrimSpace(c.Paths.GrammarDir)); err != nil {
		return fmt.Errorf("paths.grammar_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("SPECFORGE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	if c.Store.Driver == "postgresql" {
		c.Store.Driver = DriverPostgres
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv("SPECFORGE_STORE_DSN"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("DATABASE_URL"); ok && c.Store.Driver == DriverPostgres {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN != "" {
		expanded, err := expandPath(c.Store.DSN)
		if err != nil {
			return fmt.Errorf("store.dsn: %w", err)
		}
		c.Store.DSN = expanded
	}
	if c.Store.BusyTimeoutMS <= 0 {
		c.Store.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		envKeys := []string{"SPECFORGE_LLM_API_KEY"}
		switch c.LLM.Provider {
		case ProviderAnthropic:
			envKeys = append(envKeys, "ANTHROPIC_API_KEY")
		case ProviderOpenRouter:
			envKeys = append(envKeys, "OPENROUTER_API_KEY")
		}
		for _, key := range envKeys {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.LLM.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" && c.LLM.Provider == ProviderOpenRouter {
		c.LLM.BaseURL = defaultOpenRouterBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.Model = defaultAnthropicModel
		default:
			c.LLM.Model = defaultOpenRouterModel
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeout
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = defaultLLMMaxTokens
	}
}

func (c *Config) normalizeSpec() {
	c.Spec.ActiveVersion = strings.TrimSpace(c.Spec.ActiveVersion)
}

func (c *Config) normalizeCompiler() error {
	c.Compiler.TemplatePath = strings.TrimSpace(c.Compiler.TemplatePath)
	if c.Compiler.TemplatePath == "" {
		return nil
	}
	expanded, err := expandPath(c.Compiler.TemplatePath)
	if err != nil {
		return fmt.Errorf("compiler.template_path: %w", err)
	}
	c.Compiler.TemplatePath = expanded
	return nil
}

func (c *Config) normalizeRender() {
	c.Render.Command = strings.TrimSpace(c.Render.Command)
	args := c.Render.Args[:0]
	for _, arg := range c.Render.Args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.Render.Args = args
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(c.Telemetry.Exporter))
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = defaultTelemetryExporter
	}
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	if c.Telemetry.IntervalSeconds <= 0 {
		c.Telemetry.IntervalSeconds = defaultTelemetryInterval
	}
}
