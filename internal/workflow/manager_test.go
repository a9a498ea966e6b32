package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"specforge/internal/compiler"
	"specforge/internal/config"
	"specforge/internal/gaps"
	"specforge/internal/gate"
	"specforge/internal/notifications"
	"specforge/internal/render"
	"specforge/internal/services"
	"specforge/internal/stage"
	"specforge/internal/store"
	"specforge/internal/testsupport"
	"specforge/internal/textgen"
	"specforge/internal/verifier"
	"specforge/internal/workflow"
)

type stubHandler struct {
	name store.StageName

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, env stage.Env) (stage.Outcome, error)
}

func newStub(name store.StageName) *stubHandler {
	return &stubHandler{name: name}
}

func (s *stubHandler) Name() store.StageName { return s.name }

func (s *stubHandler) Execute(ctx context.Context, env stage.Env) (stage.Outcome, error) {
	s.mu.Lock()
	s.calls++
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, env)
	}
	return stage.Outcome{WorkRef: string(s.name) + ":done"}, nil
}

func (s *stubHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy(string(s.name)) }

func (s *stubHandler) set(fn func(ctx context.Context, env stage.Env) (stage.Outcome, error)) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *stubHandler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type claimStub struct {
	mu        sync.Mutex
	olderThan time.Duration
}

func (c *claimStub) ReleaseStaleClaims(_ context.Context, olderThan time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.olderThan = olderThan
	return 2, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func (r *recordingNotifier) snapshot() ([]notifications.Event, notifications.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...), r.last
}

type harness struct {
	cfg     *config.Config
	store   *store.Store
	manager *workflow.Manager
	stubs   map[store.StageName]*stubHandler
	claims  *claimStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	specs := testsupport.MustSpecRegistry(t, "1.0")
	claims := &claimStub{}
	mgr := workflow.NewManager(cfg, st, specs, claims, nil)
	h := &harness{cfg: cfg, store: st, manager: mgr, stubs: map[store.StageName]*stubHandler{}, claims: claims}
	for _, name := range store.StageOrder {
		stub := newStub(name)
		h.stubs[name] = stub
		mgr.ConfigureStages(stub)
	}
	return h
}

func (h *harness) enqueue(t *testing.T) *store.PipelineRun {
	t.Helper()
	run, created, err := h.manager.Enqueue(context.Background(), workflow.EnqueueRequest{WindowKey: "test-window"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !created {
		t.Fatalf("expected a new run")
	}
	return run
}

func (h *harness) run(t *testing.T, id int64) *store.PipelineRun {
	t.Helper()
	run, err := h.store.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return run
}

func (h *harness) audits(t *testing.T, action string) []*store.AuditEvent {
	t.Helper()
	events, err := h.store.ListAudit(context.Background(), store.AuditFilter{Action: action, Limit: 100})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	return events
}

func TestEnqueueIsIdempotentPerWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.enqueue(t)

	second, created, err := h.manager.Enqueue(ctx, workflow.EnqueueRequest{WindowKey: "test-window"})
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing run %d, got %d created=%v", first.ID, second.ID, created)
	}
	stages, err := h.store.ListStages(ctx, first.ID)
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	if len(stages) != 1 || stages[0].Stage != store.StageVerify || stages[0].Status != store.StageQueued {
		t.Fatalf("expected one queued verify stage, got %+v", stages)
	}
	if got := len(h.audits(t, workflow.ActionRunEnqueued)); got != 1 {
		t.Fatalf("expected 1 enqueue audit, got %d", got)
	}
	if first.SpecVersion != "1.0" {
		t.Fatalf("expected spec version 1.0, got %q", first.SpecVersion)
	}
	params := first.Params()
	if params.PoolSize != h.cfg.Gate.PoolSize || params.MaxAttempts != h.cfg.Compiler.MaxAttempts {
		t.Fatalf("expected configured defaults, got %+v", params)
	}
}

func TestEnqueueDefaultWindowIsHourly(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)
	h.store.SetClock(func() time.Time { return fixed })

	a, _, err := h.manager.Enqueue(context.Background(), workflow.EnqueueRequest{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.store.SetClock(func() time.Time { return fixed.Add(30 * time.Minute) })
	b, created, err := h.manager.Enqueue(context.Background(), workflow.EnqueueRequest{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if created || a.ID != b.ID {
		t.Fatalf("expected same run within the hour")
	}
	if a.WindowKey != workflow.WindowKey(fixed) {
		t.Fatalf("unexpected window key %q", a.WindowKey)
	}
}

func TestRunStageEnforcesOrder(t *testing.T) {
	h := newHarness(t)
	run := h.enqueue(t)

	_, err := h.manager.RunStage(context.Background(), run.ID, store.StageCompile)
	if services.CodeOf(err) != services.CodeStageOrder {
		t.Fatalf("expected stage_order, got %v", err)
	}
	if h.stubs[store.StageCompile].count() != 0 {
		t.Fatalf("compile handler should not run")
	}
	if _, err := h.manager.RunStage(context.Background(), run.ID, store.StageName("bogus")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
}

func TestRunStageSequenceCompletesRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)

	for _, name := range store.StageOrder {
		sr, err := h.manager.RunStage(ctx, run.ID, name)
		if err != nil {
			t.Fatalf("RunStage %s: %v", name, err)
		}
		if sr.Status != store.StageSucceeded || sr.WorkRef != string(name)+":done" {
			t.Fatalf("unexpected %s stage %+v", name, sr)
		}
		if sr.SpecVersion != "1.0" {
			t.Fatalf("expected stage stamped with 1.0, got %q", sr.SpecVersion)
		}
	}
	if got := h.run(t, run.ID); got.Status != store.RunSucceeded {
		t.Fatalf("expected run succeeded, got %s", got.Status)
	}
	if got := len(h.audits(t, workflow.ActionRunFinished)); got != 1 {
		t.Fatalf("expected run_finished audit, got %d", got)
	}

	// Running a succeeded stage again is a no-op.
	sr, err := h.manager.RunStage(ctx, run.ID, store.StageVerify)
	if err != nil {
		t.Fatalf("rerun verify: %v", err)
	}
	if sr.Status != store.StageSucceeded || h.stubs[store.StageVerify].count() != 1 {
		t.Fatalf("expected no-op rerun, calls=%d", h.stubs[store.StageVerify].count())
	}
}

func TestRunOutcomesAreNotified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	h.manager.SetNotifier(notifier)

	run := h.enqueue(t)
	for _, name := range store.StageOrder {
		if _, err := h.manager.RunStage(ctx, run.ID, name); err != nil {
			t.Fatalf("RunStage %s: %v", name, err)
		}
	}
	events, payload := notifier.snapshot()
	if len(events) != 1 || events[0] != notifications.EventRunSucceeded {
		t.Fatalf("expected one run_succeeded event, got %v", events)
	}
	if payload["run_id"] != run.ID || payload["work_ref"] != "handoff:done" {
		t.Fatalf("unexpected success payload %v", payload)
	}

	failing, _, err := h.manager.Enqueue(ctx, workflow.EnqueueRequest{WindowKey: "failing-window"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.stubs[store.StageVerify].set(func(context.Context, stage.Env) (stage.Outcome, error) {
		return stage.Outcome{}, services.Fail(services.ErrBackend, services.CodeBackendUnavailable, "verify", "backend down", nil)
	})
	if _, err := h.manager.RunStage(ctx, failing.ID, store.StageVerify); err == nil {
		t.Fatal("expected verify failure")
	}
	events, payload = notifier.snapshot()
	if len(events) != 2 || events[1] != notifications.EventRunFailed {
		t.Fatalf("expected run_failed event, got %v", events)
	}
	if payload["code"] != services.CodeBackendUnavailable || payload["error"] != "backend down" {
		t.Fatalf("unexpected failure payload %v", payload)
	}
}

func TestStageFailureFailsRunAndRetryRecovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	verify := h.stubs[store.StageVerify]
	verify.set(func(context.Context, stage.Env) (stage.Outcome, error) {
		return stage.Outcome{}, services.Fail(services.ErrBackend, services.CodeBackendUnavailable, "verify", "backend down", nil)
	})

	sr, err := h.manager.RunStage(ctx, run.ID, store.StageVerify)
	if services.CodeOf(err) != services.CodeBackendUnavailable {
		t.Fatalf("expected backend_unavailable, got %v", err)
	}
	if sr.Status != store.StageFailed || sr.ErrorCode != string(services.CodeBackendUnavailable) {
		t.Fatalf("unexpected failed stage %+v", sr)
	}
	failed := h.run(t, run.ID)
	if failed.Status != store.RunFailed || failed.ErrorCode != string(services.CodeBackendUnavailable) {
		t.Fatalf("expected failed run, got %+v", failed)
	}
	if _, err := h.store.GetStage(ctx, run.ID, store.StageSelect); !store.IsNotFound(err) {
		t.Fatalf("select must not be queued after a failure, got %v", err)
	}
	if _, err := h.manager.RunStage(ctx, run.ID, store.StageSelect); services.CodeOf(err) != services.CodeStageOrder {
		t.Fatalf("expected stage_order for select, got %v", err)
	}

	verify.set(nil)
	sr, err = h.manager.RunStage(ctx, run.ID, store.StageVerify)
	if err != nil {
		t.Fatalf("retry verify: %v", err)
	}
	if sr.Status != store.StageSucceeded || sr.Attempts != 2 {
		t.Fatalf("expected succeeded second attempt, got %+v", sr)
	}
	if got := h.run(t, run.ID); got.Status != store.RunRunning {
		t.Fatalf("expected run running after retry, got %s", got.Status)
	}
	if got := len(h.audits(t, workflow.ActionStageRetried)); got != 1 {
		t.Fatalf("expected stage_retried audit, got %d", got)
	}
	next, err := h.store.GetStage(ctx, run.ID, store.StageSelect)
	if err != nil || next.Status != store.StageQueued {
		t.Fatalf("expected select queued after retry, got %+v err=%v", next, err)
	}
}

func TestDeferredStageReturnsToQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	if _, err := h.manager.RunStage(ctx, run.ID, store.StageVerify); err != nil {
		t.Fatalf("verify: %v", err)
	}
	h.stubs[store.StageSelect].set(func(context.Context, stage.Env) (stage.Outcome, error) {
		return stage.Outcome{WorkRef: "round:1", Defer: time.Minute, Note: "awaiting decision"}, nil
	})

	sr, err := h.manager.RunStage(ctx, run.ID, store.StageSelect)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sr.Status != store.StageQueued || sr.Attempts != 0 {
		t.Fatalf("expected queued stage without attempt, got %+v", sr)
	}
	if !sr.AvailableAt.Time.After(h.store.Now()) {
		t.Fatalf("expected availability in the future, got %v", sr.AvailableAt.Time)
	}
	if got := h.run(t, run.ID); got.Status != store.RunRunning {
		t.Fatalf("deferral must keep the run running, got %s", got.Status)
	}
	if got := len(h.audits(t, workflow.ActionStageDeferred)); got != 1 {
		t.Fatalf("expected stage_deferred audit, got %d", got)
	}
}

func TestCancelInterruptsRunningStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	started := make(chan struct{})
	h.stubs[store.StageVerify].set(func(ctx context.Context, _ stage.Env) (stage.Outcome, error) {
		close(started)
		<-ctx.Done()
		return stage.Outcome{}, ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.manager.RunStage(ctx, run.ID, store.StageVerify)
		errCh <- err
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("stage did not start")
	}
	cancelled, err := h.manager.Cancel(services.WithActor(ctx, "operator:kim"), run.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != store.RunCancelled {
		t.Fatalf("expected cancelled run, got %s", cancelled.Status)
	}
	select {
	case err := <-errCh:
		if services.CodeOf(err) != services.CodeRunCancelled {
			t.Fatalf("expected run_cancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stage did not stop")
	}
	sr, err := h.store.GetStage(ctx, run.ID, store.StageVerify)
	if err != nil {
		t.Fatalf("GetStage: %v", err)
	}
	if sr.Status != store.StageFailed || sr.ErrorCode != string(services.CodeRunCancelled) {
		t.Fatalf("expected stage failed with run_cancelled, got %+v", sr)
	}
	events := h.audits(t, workflow.ActionRunCancelled)
	if len(events) != 1 || events[0].Actor != "operator:kim" {
		t.Fatalf("expected one cancel audit by operator:kim, got %+v", events)
	}

	// Cancelling again is a no-op.
	if _, err := h.manager.Cancel(ctx, run.ID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if _, err := h.manager.RunStage(ctx, run.ID, store.StageVerify); services.CodeOf(err) != services.CodeRunCancelled {
		t.Fatalf("expected run_cancelled for a cancelled run, got %v", err)
	}
}

func TestCancelFinishedRunIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	if _, err := h.store.UpdateRunStatus(ctx, run.ID, []store.RunStatus{store.RunPending, store.RunRunning},
		store.RunFailed, string(services.CodeCompileFailed), "compile exhausted"); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	_, err := h.manager.Cancel(ctx, run.ID)
	if !errors.Is(err, services.ErrConflict) || services.CodeOf(err) != services.CodeRunFinished {
		t.Fatalf("expected run_finished conflict, got %v", err)
	}
	got, err := h.store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != store.RunFailed {
		t.Fatalf("finished run must keep its status, got %s", got.Status)
	}
	if events := h.audits(t, workflow.ActionRunCancelled); len(events) != 0 {
		t.Fatalf("no cancel audit expected, got %d", len(events))
	}
}

func TestLateResultAfterCancellationIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	// Another process cancels while the handler runs; its success must not land.
	h.stubs[store.StageVerify].set(func(ctx context.Context, env stage.Env) (stage.Outcome, error) {
		if _, err := h.store.UpdateRunStatus(ctx, env.Run.ID, []store.RunStatus{store.RunPending, store.RunRunning},
			store.RunCancelled, "run_cancelled", "remote"); err != nil {
			return stage.Outcome{}, err
		}
		return stage.Outcome{WorkRef: "late"}, nil
	})

	sr, err := h.manager.RunStage(ctx, run.ID, store.StageVerify)
	if services.CodeOf(err) != services.CodeRunCancelled {
		t.Fatalf("expected run_cancelled, got %v", err)
	}
	if sr.Status != store.StageFailed || sr.WorkRef == "late" {
		t.Fatalf("late result must be rejected, got %+v", sr)
	}
	if got := len(h.audits(t, workflow.ActionStageRejected)); got != 1 {
		t.Fatalf("expected stage_result_rejected audit, got %d", got)
	}
	if _, err := h.store.GetStage(ctx, run.ID, store.StageSelect); !store.IsNotFound(err) {
		t.Fatalf("select must not be queued for a cancelled run")
	}
}

func TestCancelFinishedRunConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	for _, name := range store.StageOrder {
		if _, err := h.manager.RunStage(ctx, run.ID, name); err != nil {
			t.Fatalf("RunStage %s: %v", name, err)
		}
	}
	if _, err := h.manager.Cancel(ctx, run.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict cancelling a finished run, got %v", err)
	}
	if _, err := h.manager.Cancel(ctx, 9999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCleanupStaleStagesFailsRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.enqueue(t)
	base := time.Now().UTC()
	h.store.SetClock(func() time.Time { return base })

	claimed, err := h.store.ClaimNextStage(ctx, "ghost-worker")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextStage: %+v %v", claimed, err)
	}
	h.store.SetClock(func() time.Time { return base.Add(10 * time.Minute) })

	result, err := h.manager.CleanupStaleStages(ctx, time.Minute)
	if err != nil {
		t.Fatalf("CleanupStaleStages: %v", err)
	}
	if len(result.Stages) != 1 || result.Stages[0].ID != claimed.ID {
		t.Fatalf("expected the claimed stage reclaimed, got %+v", result.Stages)
	}
	if len(result.RunsFailed) != 1 || result.RunsFailed[0] != run.ID || result.ClaimsReleased != 2 {
		t.Fatalf("unexpected cleanup result %+v", result)
	}
	if h.claims.olderThan != time.Minute {
		t.Fatalf("expected claims released with the same threshold, got %v", h.claims.olderThan)
	}
	failed := h.run(t, run.ID)
	if failed.Status != store.RunFailed || failed.ErrorCode != string(services.CodeStageTimeout) {
		t.Fatalf("expected run failed with stage_timeout, got %+v", failed)
	}
	ok, err := h.store.FinishStage(ctx, claimed.ID, "ghost-worker", store.StageOutcome{Status: store.StageSucceeded})
	if err != nil || ok {
		t.Fatalf("late finish must be rejected: ok=%v err=%v", ok, err)
	}
	if got := len(h.audits(t, workflow.ActionStageTimedOut)); got != 1 {
		t.Fatalf("expected stage_timed_out audit, got %d", got)
	}

	again, err := h.manager.CleanupStaleStages(ctx, time.Minute)
	if err != nil || len(again.Stages) != 0 {
		t.Fatalf("second cleanup should find nothing: %+v %v", again, err)
	}
}

func TestWorkersDriveRunToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.manager.Stop()
	if err := h.manager.Start(ctx); err == nil {
		t.Fatalf("second Start should fail")
	}

	run := h.enqueue(t)
	deadline := time.Now().Add(10 * time.Second)
	for {
		got := h.run(t, run.ID)
		if got.Status == store.RunSucceeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, status %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	for _, name := range store.StageOrder {
		if n := h.stubs[name].count(); n != 1 {
			t.Fatalf("expected %s to run once, ran %d", name, n)
		}
	}
	status := h.manager.Status(context.Background())
	if !status.Running || status.StageCounts[store.StageSucceeded] != len(store.StageOrder) {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.StageHealth) != len(store.StageOrder) {
		t.Fatalf("expected health for every stage, got %+v", status.StageHealth)
	}
}

const pipelineDoc = `meta: {title: Orbit}
canvas: {width: 1280, height: 720, fps: 30, duration: 4}
assets: []
entities:
  - {id: sun, primitive: circle, props: {r: 60}}
  - {id: planet, primitive: circle, props: {r: 20}}
timeline:
  - {at: 0, duration: 4, target: planet, action: rotate, params: {around: sun, turns: 1}}
`

func TestPipelineEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoPick())
	st := testsupport.MustOpenStore(t, cfg)
	specs := testsupport.MustSpecRegistry(t, "1.0")
	backend := testsupport.NewFakeBackend()
	backend.Handler = func(req textgen.Request) (string, error) {
		if req.Purpose == textgen.PurposeVerify {
			return `{"features": [{"feature": "orbiting circles", "representable": true, "reason": "circle and rotate", "impact": "low"}], "confidence": 0.9, "summary": "ok"}`, nil
		}
		return pipelineDoc, nil
	}
	gapRegistry := gaps.New(st, specs, nil)
	v := verifier.New(st, specs, gapRegistry, backend, cfg.Verifier, nil)
	g := gate.New(st, specs, cfg.Gate, nil)
	c := compiler.New(st, specs, backend, cfg.Compiler, cfg.Paths.ArtifactDir, nil)
	mgr := workflow.NewManager(cfg, st, specs, v, nil)
	mgr.ConfigureStages(
		stage.NewVerify(v, backend),
		stage.NewSelect(g, st, time.Second),
		stage.NewCompile(c, st, backend),
		stage.NewHandoff(render.NewHandoff(st, cfg.Render, nil), st),
	)
	ctx := context.Background()
	cand := testsupport.NewCandidate(t, st, "Orbit")

	run, _, err := mgr.Enqueue(ctx, workflow.EnqueueRequest{WindowKey: "e2e"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for _, name := range store.StageOrder {
		if _, err := mgr.RunStage(ctx, run.ID, name); err != nil {
			t.Fatalf("RunStage %s: %v", name, err)
		}
	}
	detail, err := mgr.Describe(ctx, run.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail.Run.Status != store.RunSucceeded || len(detail.Stages) != len(store.StageOrder) {
		t.Fatalf("unexpected run detail %+v", detail.Run)
	}
	if detail.Idea == nil || detail.Idea.CandidateID != cand.ID {
		t.Fatalf("expected idea for candidate %d, got %+v", cand.ID, detail.Idea)
	}
	if detail.Idea.CompileStatus != store.CompileCompiled || detail.Idea.RenderStatus != store.RenderSkipped {
		t.Fatalf("unexpected idea state %+v", detail.Idea)
	}
	if detail.Compilation == nil || detail.Compilation.SpecVersion != "1.0" || detail.Compilation.ContentHash == "" {
		t.Fatalf("unexpected compilation %+v", detail.Compilation)
	}
	if detail.Round == nil || detail.Round.Status != store.RoundDecided {
		t.Fatalf("expected decided round, got %+v", detail.Round)
	}
}
