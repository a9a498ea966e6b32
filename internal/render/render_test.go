package render_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"specforge/internal/config"
	"specforge/internal/render"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/testsupport"
)

func compiledIdea(t *testing.T, cfg *config.Config, st *store.Store) *store.Idea {
	t.Helper()
	ctx := context.Background()
	c := testsupport.NewFeasibleCandidate(t, st, "Orbit", "1.0")
	idea, err := st.InsertIdea(ctx, c.ID, 0, 0, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfg.Paths.ArtifactDir, "idea-1", "spec-abc.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("meta: {title: Orbit}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	comp, err := st.InsertCompilation(ctx, store.Compilation{
		IdeaID: idea.ID, Status: store.CompilationSucceeded, SpecVersion: "1.0",
		Seed: 7, ContentHash: "abc", ArtifactPath: path,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateIdeaCompile(ctx, idea.ID, store.CompileCompiled, comp.ID); err != nil {
		t.Fatal(err)
	}
	return idea
}

func TestHandoffRendersWithStub(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedRenderer("artifact: orbit.mp4", 0))
	st := testsupport.MustOpenStore(t, cfg)
	idea := compiledIdea(t, cfg, st)

	h := render.NewHandoff(st, cfg.Render, nil)
	out, err := h.Run(context.Background(), idea.ID, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != store.RenderRendered || out.ExitCode != 0 || out.Seed != 7 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	found := false
	for _, a := range out.Artifacts {
		if strings.HasSuffix(a, "orbit.mp4") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reported artifact, got %v", out.Artifacts)
	}
	updated, _ := st.GetIdea(context.Background(), idea.ID)
	if updated.RenderStatus != store.RenderRendered {
		t.Fatalf("expected rendered, got %s", updated.RenderStatus)
	}
}

func TestHandoffRecordsNonZeroExit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedRenderer("boom", 3))
	st := testsupport.MustOpenStore(t, cfg)
	idea := compiledIdea(t, cfg, st)

	out, err := render.NewHandoff(st, cfg.Render, nil).Run(context.Background(), idea.ID, true)
	if services.CodeOf(err) != services.CodeRenderFailed {
		t.Fatalf("expected render_failed, got %v", err)
	}
	if out == nil || out.ExitCode != 3 || out.Status != store.RenderFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	events, _ := st.ListAudit(context.Background(), store.AuditFilter{EntityType: store.EntityIdea, EntityID: idea.ID, Action: render.ActionHandoff})
	if len(events) != 1 || !strings.Contains(events[0].Payload, "render_failed") {
		t.Fatalf("expected failed handoff audit, got %+v", events)
	}
}

func TestHandoffDisabledIsSkip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	idea := compiledIdea(t, cfg, st)

	h := render.NewHandoff(st, cfg.Render, nil)
	if h.Enabled() {
		t.Fatal("render should be disabled by default")
	}
	out, err := h.Run(context.Background(), idea.ID, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != store.RenderSkipped {
		t.Fatalf("expected skipped, got %s", out.Status)
	}
	updated, _ := st.GetIdea(context.Background(), idea.ID)
	if updated.RenderStatus != store.RenderSkipped {
		t.Fatalf("expected idea skipped, got %s", updated.RenderStatus)
	}
}

func TestHandoffRequiresCompilation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.NewFeasibleCandidate(t, st, "Raw", "1.0")
	idea, err := st.InsertIdea(context.Background(), c.ID, 0, 0, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	_, err = render.NewHandoff(st, cfg.Render, nil).Run(context.Background(), idea.ID, true)
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestCommandTimeout(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "slow")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cmd := render.NewCommand(script, []string{"{spec}"}, nil)
	_, err := cmd.Render(context.Background(), render.Job{
		SpecPath:  filepath.Join(dir, "spec.yaml"),
		OutputDir: filepath.Join(dir, "out"),
		Limits:    render.Limits{Timeout: 50 * time.Millisecond},
	})
	if !errors.Is(err, render.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCommandExpandsPlaceholders(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "echoer")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\"\necho \"env $SPECFORGE_SEED\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	res, err := render.NewCommand(script, nil, nil).Render(context.Background(), render.Job{
		SpecPath:  "/tmp/spec.yaml",
		Seed:      99,
		OutputDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "--spec /tmp/spec.yaml --seed 99 --out " + filepath.Join(dir, "out")
	if !strings.Contains(res.Log, want) || !strings.Contains(res.Log, "env 99") {
		t.Fatalf("unexpected log %q", res.Log)
	}
}
