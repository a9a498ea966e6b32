package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"specforge/internal/config"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SPECFORGE_LLM_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY", "SPECFORGE_STORE_DSN", "DATABASE_URL", "SPECFORGE_API_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearLLMEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "specforge")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "specforge.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Store.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.Store.Driver)
	}
	if cfg.LLM.Provider != config.ProviderOpenRouter {
		t.Fatalf("expected openrouter default, got %q", cfg.LLM.Provider)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if err := cfg.RequireLLM(); err == nil {
		t.Fatal("expected RequireLLM to fail without an api key")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ArtifactDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearLLMEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "specforge.toml")

	type payload struct {
		LLM struct {
			Provider string `toml:"provider"`
			APIKey   string `toml:"api_key"`
		} `toml:"llm"`
		Compiler struct {
			MaxAttempts int `toml:"max_attempts"`
			MaxRepairs  int `toml:"max_repairs"`
		} `toml:"compiler"`
		Workflow struct {
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
	}
	custom := payload{}
	custom.LLM.Provider = "Anthropic"
	custom.LLM.APIKey = "abc123"
	custom.Compiler.MaxAttempts = 4
	custom.Compiler.MaxRepairs = 0
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	llm := cfg.GetLLM()
	if llm.Provider != config.ProviderAnthropic {
		t.Fatalf("expected provider to be lowercased, got %q", llm.Provider)
	}
	if llm.APIKey != "abc123" {
		t.Fatalf("expected api key from file, got %q", llm.APIKey)
	}
	if llm.Model == "" {
		t.Fatal("expected provider default model")
	}
	if cfg.Compiler.MaxAttempts != 4 || cfg.Compiler.MaxRepairs != 0 {
		t.Fatalf("unexpected compiler limits: %+v", cfg.Compiler)
	}
	if cfg.HeartbeatTimeout().Seconds() != 200 {
		t.Fatalf("expected heartbeat timeout 200s, got %s", cfg.HeartbeatTimeout())
	}
}

func TestEnvFillsMissingAPIKey(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "env-key")
	t.Chdir(t.TempDir())

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if err := cfg.RequireLLM(); err != nil {
		t.Fatalf("RequireLLM: %v", err)
	}
}

func TestDotEnvBesideConfigIsLoaded(t *testing.T) {
	clearLLMEnv(t)
	os.Unsetenv("SPECFORGE_LLM_API_KEY")
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SPECFORGE_LLM_API_KEY=dotenv-key\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("SPECFORGE_LLM_API_KEY") })

	cfg, _, _, err := config.Load(filepath.Join(dir, "specforge.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "dotenv-key" {
		t.Fatalf("expected key from .env, got %q", cfg.LLM.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres dsn", func(c *config.Config) { c.Store.Driver = config.DriverPostgres; c.Store.DSN = "" }, "store.dsn"},
		{"provider", func(c *config.Config) { c.LLM.Provider = "other" }, "llm.provider"},
		{"attempts", func(c *config.Config) { c.Compiler.MaxAttempts = 0 }, "compiler.max_attempts"},
		{"repairs", func(c *config.Config) { c.Compiler.MaxRepairs = -1 }, "compiler.max_repairs"},
		{"pool", func(c *config.Config) { c.Gate.PoolSize = 0 }, "gate.pool_size"},
		{"render", func(c *config.Config) { c.Render.Enabled = true; c.Render.Command = "" }, "render.command"},
		{"heartbeat", func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }, "heartbeat_timeout"},
		{"ntfy", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/topic" }, "notifications.ntfy_topic"},
		{"otlp", func(c *config.Config) { c.Telemetry.Enabled = true; c.Telemetry.Exporter = "otlp" }, "telemetry.endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.LLM.BaseURL = "https://example.invalid"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	clearLLMEnv(t)
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Gate.PoolSize != config.Default().Gate.PoolSize {
		t.Fatalf("unexpected pool size %d", cfg.Gate.PoolSize)
	}
}
