package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths locates on-disk state and the HTTP API listener.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	GrammarDir  string `toml:"grammar_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Store selects the persistence backend.
type Store struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// LLM contains text-generation backend connection settings.
type LLM struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxTokens      int    `toml:"max_tokens"`
}

// Spec configures the specification registry.
type Spec struct {
	ActiveVersion string `toml:"active_version"`
	Watch         bool   `toml:"watch"`
}

// Verifier configures capability verification.
type Verifier struct {
	MaxRetries          int `toml:"max_retries"`
	RetryBaseMillis     int `toml:"retry_base_millis"`
	ClaimTimeoutSeconds int `toml:"claim_timeout_seconds"`
	BatchSize           int `toml:"batch_size"`
}

// Gate configures the idea selection gate.
type Gate struct {
	PoolSize int  `toml:"pool_size"`
	AutoPick bool `toml:"auto_pick"`
}

// Compiler configures the generate/validate/repair loop.
type Compiler struct {
	MaxAttempts   int    `toml:"max_attempts"`
	MaxRepairs    int    `toml:"max_repairs"`
	AllowFallback bool   `toml:"allow_fallback"`
	TemplatePath  string `toml:"template_path"`
}

// Render configures the external render engine handoff.
type Render struct {
	Enabled        bool     `toml:"enabled"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Workflow sets worker count and the daemon's polling and heartbeat cadence.
type Workflow struct {
	Workers              int `toml:"workers"`
	QueuePollInterval    int `toml:"queue_poll_interval"`
	HeartbeatInterval    int `toml:"heartbeat_interval"`
	HeartbeatTimeout     int `toml:"heartbeat_timeout"`
	SelectDeferSeconds   int `toml:"select_defer_seconds"`
	ReverifyPollInterval int `toml:"reverify_poll_interval"`
}

// Logging selects the log format and minimum level.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Telemetry configures OpenTelemetry metrics and traces.
type Telemetry struct {
	Enabled         bool   `toml:"enabled"`
	Exporter        string `toml:"exporter"`
	Endpoint        string `toml:"endpoint"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

// Notifications configures ntfy delivery of run outcomes. An empty topic
// disables notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for specforge.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact, log, and grammar directories plus API bind address
//   - Store: sqlite (default) or postgres persistence
//   - LLM: text-generation backend (openrouter or anthropic)
//   - Spec: active grammar version and hot reload
//   - Verifier, Gate, Compiler, Render: per-component limits
//   - Workflow: worker count, polling, heartbeats
//   - Notifications: ntfy run outcome messages
//   - Logging, Telemetry: observability
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	LLM           LLM           `toml:"llm"`
	Spec          Spec          `toml:"spec"`
	Verifier      Verifier      `toml:"verifier"`
	Gate          Gate          `toml:"gate"`
	Compiler      Compiler      `toml:"compiler"`
	Render        Render        `toml:"render"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Telemetry     Telemetry     `toml:"telemetry"`
}

// DefaultConfigPath returns the expanded location of the per-user config file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the config at path, or the first of the per-user file and
// ./specforge.toml when path is empty, then applies .env files, defaults,
// and validation. It also reports which file was chosen and whether it
// exists. A missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	source, found, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}
	cfg := Default()
	if found {
		raw, err := os.ReadFile(source)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", source, err)
		}
	}
	for _, step := range []func() error{
		func() error { return loadDotEnv(source) },
		cfg.normalize,
		cfg.Validate,
	} {
		if err := step(); err != nil {
			return nil, "", false, err
		}
	}
	return &cfg, source, found, nil
}

// loadDotEnv applies .env beside the config file, then ./.env. Variables
// already in the environment are left alone.
func loadDotEnv(configPath string) error {
	var files []string
	for _, dir := range []string{filepath.Dir(configPath), "."} {
		abs, err := filepath.Abs(filepath.Join(dir, ".env"))
		if err != nil || slices.Contains(files, abs) || !isFile(abs) {
			continue
		}
		files = append(files, abs)
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files %v: %w", files, err)
	}
	return nil
}

func locate(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		switch _, err := os.Stat(expanded); {
		case err == nil:
			return expanded, true, nil
		case errors.Is(err, fs.ErrNotExist):
			return expanded, false, nil
		default:
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	local, err := filepath.Abs("specforge.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, local} {
		if isFile(candidate) {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// EnsureDirectories creates the data, artifact, log, and grammar directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir, c.Paths.GrammarDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// DaemonLockPath returns the single-instance lock file location.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "specforged.lock")
}

// DatabasePath returns the sqlite database file used when store.driver is sqlite.
func (c *Config) DatabasePath() string {
	if c.Store.Driver == DriverSQLite && strings.TrimSpace(c.Store.DSN) != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.Paths.DataDir, "specforge.db")
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || os.IsPathSeparator(rest[0])) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = home + rest
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return abs, nil
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// GetLLM returns the normalized backend connection settings.
func (c *Config) GetLLM() LLM {
	return c.LLM
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// HeartbeatInterval returns the stage heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration { return seconds(c.Workflow.HeartbeatInterval) }

// HeartbeatTimeout returns the staleness threshold for running stages.
func (c *Config) HeartbeatTimeout() time.Duration { return seconds(c.Workflow.HeartbeatTimeout) }

// PollInterval returns how often idle workers look for queued stages.
func (c *Config) PollInterval() time.Duration { return seconds(c.Workflow.QueuePollInterval) }

// SelectDeferDelay returns how long an undecided select stage waits before
// it is checked again.
func (c *Config) SelectDeferDelay() time.Duration { return seconds(c.Workflow.SelectDeferSeconds) }

// ReverifyPollInterval returns how often the daemon drains the re-verify queue.
func (c *Config) ReverifyPollInterval() time.Duration {
	return seconds(c.Workflow.ReverifyPollInterval)
}

// ClaimTimeout returns the age after which a verification claim is stale.
func (c *Config) ClaimTimeout() time.Duration { return seconds(c.Verifier.ClaimTimeoutSeconds) }
