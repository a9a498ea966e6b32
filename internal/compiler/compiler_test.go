package compiler_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"specforge/internal/compiler"
	"specforge/internal/dsl"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/testsupport"
	"specforge/internal/textgen"
)

const goodDoc = `meta: {title: Bouncing ball}
canvas: {width: 1280, height: 720, fps: 30, duration: 4}
assets: []
entities:
  - {id: ball, primitive: circle, props: {r: 40, color: "#ff0000"}}
timeline:
  - {at: 0, duration: 2, target: ball, action: move, params: {to: [640, 600]}}
  - {at: 2, duration: 2, target: ball, action: move, params: {to: [640, 100]}}
`

// Semantically broken: the event targets an undeclared entity.
const danglingDoc = `meta: {title: Bouncing ball}
canvas: {width: 1280, height: 720, fps: 30, duration: 4}
assets: []
entities:
  - {id: ball, primitive: circle}
timeline:
  - {at: 0, duration: 2, target: ghost, action: move}
`

// Syntactically broken: timeline is missing.
const truncatedDoc = `meta: {title: Bouncing ball}
canvas: {width: 1280, height: 720, fps: 30, duration: 4}
assets: []
entities:
  - {id: ball, primitive: circle}
`

type fixture struct {
	st       *store.Store
	compiler *compiler.Compiler
	backend  *testsupport.FakeBackend
	artifact string
}

func newFixture(t *testing.T, maxAttempts, maxRepairs int, fallback bool, responses ...testsupport.FakeResponse) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Compiler.MaxAttempts = maxAttempts
	cfg.Compiler.MaxRepairs = maxRepairs
	cfg.Compiler.AllowFallback = fallback
	st := testsupport.MustOpenStore(t, cfg)
	specs := testsupport.MustSpecRegistry(t, "1.0")
	backend := testsupport.NewFakeBackend(responses...)
	return &fixture{
		st:       st,
		compiler: compiler.New(st, specs, backend, cfg.Compiler, cfg.Paths.ArtifactDir, nil),
		backend:  backend,
		artifact: cfg.Paths.ArtifactDir,
	}
}

func (f *fixture) feasibleIdea(t *testing.T) *store.Idea {
	t.Helper()
	c := testsupport.NewFeasibleCandidate(t, f.st, "Bouncing ball", "1.0")
	idea, err := f.st.InsertIdea(context.Background(), c.ID, 0, 0, "1.0")
	if err != nil {
		t.Fatalf("InsertIdea: %v", err)
	}
	return idea
}

func TestCompileSucceedsFirstTry(t *testing.T) {
	f := newFixture(t, 2, 1, false, testsupport.Reply("```yaml\n"+goodDoc+"```"))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{Seed: 42})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if f.backend.CallCount() != 1 {
		t.Fatalf("expected 1 backend call, got %d", f.backend.CallCount())
	}
	c := res.Compilation
	if c.Status != store.CompilationSucceeded || c.Degraded {
		t.Fatalf("unexpected compilation %+v", c)
	}
	if c.Seed != 42 || c.SpecVersion != "1.0" {
		t.Fatalf("replay metadata missing: %+v", c)
	}
	if res.Document.Meta.IdeaID != idea.ID || res.Document.Meta.Seed != 42 || res.Document.Meta.SpecVersion != "1.0" {
		t.Fatalf("document meta not stamped: %+v", res.Document.Meta)
	}
	hash, err := dsl.ContentHash(res.Document)
	if err != nil {
		t.Fatal(err)
	}
	if c.ContentHash != hash {
		t.Fatalf("content hash mismatch: %s vs %s", c.ContentHash, hash)
	}
	if c.ArtifactPath != compiler.ArtifactPath(f.artifact, idea.ID, hash) {
		t.Fatalf("unexpected artifact path %q", c.ArtifactPath)
	}
	data, err := os.ReadFile(c.ArtifactPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != c.Document {
		t.Fatalf("artifact differs from persisted document")
	}

	updated, err := f.st.GetIdea(context.Background(), idea.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.CompileStatus != store.CompileCompiled || updated.CompilationID != c.ID {
		t.Fatalf("idea not updated: %+v", updated)
	}
	events, err := f.st.ListAudit(context.Background(), store.AuditFilter{EntityType: store.EntityIdea, EntityID: idea.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Action != compiler.ActionCompiled {
		t.Fatalf("expected one compiled audit event, got %+v", events)
	}
}

func TestCompileRepairsViolations(t *testing.T) {
	f := newFixture(t, 1, 2, false, testsupport.Reply(danglingDoc), testsupport.Reply(goodDoc))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	calls := f.backend.Calls()
	if len(calls) != 2 || calls[1].Purpose != textgen.PurposeRepair {
		t.Fatalf("expected generate then repair, got %d calls", len(calls))
	}
	repairPrompt := calls[1].Prompt()
	if !strings.Contains(repairPrompt, "timeline[0].target") || !strings.Contains(repairPrompt, "ghost") {
		t.Fatalf("repair prompt lacks violations:\n%s", repairPrompt)
	}
	if len(res.Reports) != 1 || res.Reports[0].Phase != "semantic" {
		t.Fatalf("expected one semantic report, got %+v", res.Reports)
	}
	want := []compiler.State{
		compiler.StateGenerating, compiler.StateValidating, compiler.StateRepairing,
		compiler.StateValidating, compiler.StateSucceeded,
	}
	if len(res.Trace) != len(want) {
		t.Fatalf("trace %v, want %v", res.Trace, want)
	}
	for i := range want {
		if res.Trace[i] != want[i] {
			t.Fatalf("trace %v, want %v", res.Trace, want)
		}
	}
	if seed := res.Compilation.Seed; seed != compiler.DeriveSeed(idea.ID, "1.0") {
		t.Fatalf("expected derived seed, got %d", seed)
	}
}

func TestCompileExhaustsRepairBudget(t *testing.T) {
	f := newFixture(t, 1, 2, false, testsupport.Reply(truncatedDoc))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if err == nil {
		t.Fatal("expected compile failure")
	}
	if services.CodeOf(err) != services.CodeCompileFailed || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unexpected error %v", err)
	}
	if f.backend.CallCount() != 3 {
		t.Fatalf("expected 3 backend calls, got %d", f.backend.CallCount())
	}
	if len(res.Reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(res.Reports))
	}
	for _, r := range res.Reports {
		if r.Phase != "syntax" || r.OK() {
			t.Fatalf("unexpected report %+v", r)
		}
	}
	c := res.Compilation
	if c.Status != store.CompilationFailed || c.ErrorCode != string(services.CodeCompileFailed) {
		t.Fatalf("unexpected compilation %+v", c)
	}
	if !strings.Contains(c.Reports, "timeline") {
		t.Fatalf("persisted reports lack violations: %s", c.Reports)
	}
	updated, _ := f.st.GetIdea(context.Background(), idea.ID)
	if updated.CompileStatus != store.CompileFailed {
		t.Fatalf("expected idea compile failed, got %s", updated.CompileStatus)
	}
}

func TestCompileExhaustsRepairBudgetOnSemanticErrors(t *testing.T) {
	f := newFixture(t, 1, 2, false, testsupport.Reply(danglingDoc))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if services.CodeOf(err) != services.CodeCompileFailed {
		t.Fatalf("unexpected error %v", err)
	}
	if f.backend.CallCount() != 3 {
		t.Fatalf("expected 3 backend calls, got %d", f.backend.CallCount())
	}
	if len(res.Reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(res.Reports))
	}
	for _, r := range res.Reports {
		if r.Phase != "semantic" || r.OK() {
			t.Fatalf("unexpected report %+v", r)
		}
	}
	if res.Compilation.Status != store.CompilationFailed {
		t.Fatalf("unexpected compilation %+v", res.Compilation)
	}
	if !strings.Contains(res.Compilation.Reports, "ghost") {
		t.Fatalf("persisted reports lack violations: %s", res.Compilation.Reports)
	}
}

func TestCompileBoundsBackendCalls(t *testing.T) {
	cases := []struct{ attempts, repairs int }{{1, 0}, {2, 0}, {2, 1}, {3, 2}}
	for _, tc := range cases {
		f := newFixture(t, tc.attempts, tc.repairs, false, testsupport.Reply(danglingDoc))
		idea := f.feasibleIdea(t)
		_, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
		if services.CodeOf(err) != services.CodeCompileFailed {
			t.Fatalf("attempts=%d repairs=%d: unexpected error %v", tc.attempts, tc.repairs, err)
		}
		want := tc.attempts * (1 + tc.repairs)
		if got := f.backend.CallCount(); got != want {
			t.Fatalf("attempts=%d repairs=%d: %d calls, want %d", tc.attempts, tc.repairs, got, want)
		}
	}
}

func TestCompileOptionsOverrideConfig(t *testing.T) {
	f := newFixture(t, 3, 3, false, testsupport.Reply(danglingDoc))
	idea := f.feasibleIdea(t)
	zero := 0
	_, _ = f.compiler.Compile(context.Background(), idea.ID, compiler.Options{MaxAttempts: 1, MaxRepairs: &zero})
	if got := f.backend.CallCount(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestCompileRejectsInfeasibleIdea(t *testing.T) {
	f := newFixture(t, 1, 1, true, testsupport.Reply(goodDoc))
	c := testsupport.NewCandidate(t, f.st, "Unverified")
	idea, err := f.st.InsertIdea(context.Background(), c.ID, 0, 0, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if !errors.Is(err, services.ErrPrecondition) || services.CodeOf(err) != services.CodeIdeaNotFeasible {
		t.Fatalf("expected idea_not_feasible, got %v", err)
	}
	if f.backend.CallCount() != 0 {
		t.Fatalf("backend called %d times", f.backend.CallCount())
	}
	if _, err := f.st.LatestCompilationForIdea(context.Background(), idea.ID); !store.IsNotFound(err) {
		t.Fatalf("expected no compilation, got %v", err)
	}
}

func TestCompileRefusalIsTerminal(t *testing.T) {
	f := newFixture(t, 3, 2, true, testsupport.Failure(textgen.KindRefused))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if services.CodeOf(err) != services.CodeBackendRefused {
		t.Fatalf("expected backend_refused, got %v", err)
	}
	if f.backend.CallCount() != 1 {
		t.Fatalf("expected a single call, got %d", f.backend.CallCount())
	}
	if res.Degraded || res.Compilation.Status != store.CompilationFailed {
		t.Fatalf("refusal must not fall back: %+v", res.Compilation)
	}
}

func TestCompileRetriesTransientFailureWithinAttempts(t *testing.T) {
	f := newFixture(t, 2, 0, false, testsupport.Failure(textgen.KindTimeout), testsupport.Reply(goodDoc))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Compilation.BackendCalls != 2 {
		t.Fatalf("expected 2 backend calls recorded, got %d", res.Compilation.BackendCalls)
	}
}

func TestCompileFallbackIsDegraded(t *testing.T) {
	f := newFixture(t, 1, 1, true, testsupport.Reply(danglingDoc))
	idea := f.feasibleIdea(t)

	res, err := f.compiler.Compile(context.Background(), idea.ID, compiler.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Degraded || res.Compilation.Status != store.CompilationDegraded || !res.Compilation.Degraded {
		t.Fatalf("expected degraded compilation, got %+v", res.Compilation)
	}
	if !res.Document.Meta.Degraded {
		t.Fatal("document meta must carry the degraded flag")
	}
	if len(res.Reports) != 2 {
		t.Fatalf("failure reports must stay attached, got %d", len(res.Reports))
	}
	if !strings.Contains(res.Compilation.Reports, "ghost") {
		t.Fatalf("persisted reports lack violations: %s", res.Compilation.Reports)
	}
	if _, err := os.Stat(res.Compilation.ArtifactPath); err != nil {
		t.Fatalf("degraded artifact missing: %v", err)
	}
}

func TestCompileUnknownIdea(t *testing.T) {
	f := newFixture(t, 1, 0, false)
	_, err := f.compiler.Compile(context.Background(), 999, compiler.Options{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	legal := [][2]compiler.State{
		{compiler.StateGenerating, compiler.StateValidating},
		{compiler.StateValidating, compiler.StateRepairing},
		{compiler.StateValidating, compiler.StateGenerating},
		{compiler.StateRepairing, compiler.StateValidating},
		{compiler.StateRepairing, compiler.StateGenerating},
	}
	for _, e := range legal {
		if !compiler.CanTransition(e[0], e[1]) {
			t.Fatalf("expected %s -> %s to be legal", e[0], e[1])
		}
	}
	illegal := [][2]compiler.State{
		{compiler.StateGenerating, compiler.StateSucceeded},
		{compiler.StateRepairing, compiler.StateSucceeded},
		{compiler.StateSucceeded, compiler.StateGenerating},
		{compiler.StateFailed, compiler.StateValidating},
	}
	for _, e := range illegal {
		if compiler.CanTransition(e[0], e[1]) {
			t.Fatalf("expected %s -> %s to be illegal", e[0], e[1])
		}
	}
}
