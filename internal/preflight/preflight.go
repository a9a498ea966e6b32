package preflight

import (
	"context"

	"specforge/internal/config"
	"specforge/internal/textgen"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// MinFreeBytes is the free space below which the data directory check fails.
const MinFreeBytes uint64 = 256 << 20

// RunAll executes all applicable preflight checks for the given config.
// backend may be nil when no credentials are configured.
func RunAll(ctx context.Context, cfg *config.Config, backend textgen.Backend) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckFreeSpace("Data volume", cfg.Paths.DataDir, MinFreeBytes),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Paths.GrammarDir != "" {
		results = append(results, CheckGrammarDir(cfg.Paths.GrammarDir))
	}

	results = append(results, CheckBackend(ctx, backend))

	if cfg.Render.Enabled {
		results = append(results, CheckRenderCommand(cfg.Render.Command))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
