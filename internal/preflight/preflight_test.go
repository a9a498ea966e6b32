package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"specforge/internal/config"
	"specforge/internal/textgen"
)

type probeBackend struct {
	err error
}

func (p probeBackend) Name() string { return "probe" }

func (p probeBackend) Complete(context.Context, textgen.Request) (string, error) { return "", nil }

func (p probeBackend) HealthCheck(context.Context) error { return p.err }

type plainBackend struct{}

func (plainBackend) Name() string { return "plain" }

func (plainBackend) Complete(context.Context, textgen.Request) (string, error) { return "", nil }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("volume", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a 1 byte floor, got: %s", result.Detail)
	}
	result := CheckFreeSpace("volume", dir, ^uint64(0))
	if result.Passed || !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected failure with an impossible floor, got %+v", result)
	}
	if result := CheckFreeSpace("volume", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckBackend(t *testing.T) {
	ctx := context.Background()
	if result := CheckBackend(ctx, nil); result.Passed {
		t.Fatal("expected failure without a backend")
	}
	if result := CheckBackend(ctx, probeBackend{}); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	result := CheckBackend(ctx, probeBackend{err: errors.New("401 invalid key")})
	if result.Passed || result.Detail != "401 invalid key" {
		t.Fatalf("expected auth failure, got %+v", result)
	}
	result = CheckBackend(ctx, probeBackend{err: context.DeadlineExceeded})
	if result.Passed || !strings.Contains(result.Detail, "timed out") {
		t.Fatalf("expected timeout summary, got %+v", result)
	}
	if result := CheckBackend(ctx, plainBackend{}); !result.Passed {
		t.Fatalf("backends without a probe should pass, got: %s", result.Detail)
	}
}

func TestCheckRenderCommand(t *testing.T) {
	if result := CheckRenderCommand(""); result.Passed {
		t.Fatal("expected failure for empty command")
	}
	if result := CheckRenderCommand("definitely-not-a-render-engine"); result.Passed {
		t.Fatal("expected failure for missing binary")
	}
	if result := CheckRenderCommand("sh"); !result.Passed {
		t.Fatalf("expected sh on PATH, got: %s", result.Detail)
	}
}

func TestCheckNtfy(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	if result := CheckNtfy(context.Background(), ok.URL+"/specforge"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer denied.Close()
	if result := CheckNtfy(context.Background(), denied.URL); result.Passed {
		t.Fatal("expected failure for forbidden topic")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.ArtifactDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()

	results := RunAll(context.Background(), &cfg, probeBackend{})
	// directories, free space, backend
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.Name == "Data volume" {
			continue
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_IncludesOptionalChecks(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.ArtifactDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "missing")
	cfg.Paths.GrammarDir = t.TempDir()
	cfg.Render.Enabled = true
	cfg.Render.Command = "definitely-not-a-render-engine"

	results := RunAll(context.Background(), &cfg, nil)
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"Grammar directory", "Render engine", "Text backend"} {
		if !names[want] {
			t.Fatalf("expected %q check in %+v", want, results)
		}
	}
	failed := Failed(results)
	failedNames := map[string]bool{}
	for _, r := range failed {
		failedNames[r.Name] = true
	}
	if !failedNames["Log directory"] || !failedNames["Render engine"] || !failedNames["Text backend"] {
		t.Fatalf("unexpected failures %+v", failed)
	}
}
