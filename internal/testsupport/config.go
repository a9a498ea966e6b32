package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"specforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.LLM.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Verifier.RetryBaseMillis = 1
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAutoPick enables automatic picking in the selection gate.
func WithAutoPick() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gate.AutoPick = true
	}
}

// WithGrammarDir points the specification registry at an empty directory
// under the test root.
func WithGrammarDir() ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "grammars")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir grammar dir: %v", err)
		}
		b.cfg.Paths.GrammarDir = dir
	}
}

// WithStubbedRenderer writes a stub render executable that prints stdout,
// exits with exitCode, and enables the render handoff.
func WithStubbedRenderer(stdout string, exitCode int) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "render-stub")
		script := "#!/bin/sh\nprintf '%s\\n' '" + stdout + "'\nexit " + strconv.Itoa(exitCode) + "\n"
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write render stub: %v", err)
		}
		b.cfg.Render.Enabled = true
		b.cfg.Render.Command = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
