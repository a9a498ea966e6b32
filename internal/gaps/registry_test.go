package gaps_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"specforge/internal/gaps"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/testsupport"
)

func newRegistry(t *testing.T) (*gaps.Registry, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	return gaps.New(st, testsupport.MustSpecRegistry(t, "1.0"), nil), st
}

func TestKeyIsStableAcrossFormatting(t *testing.T) {
	a := gaps.Key("Motion Blur", "no blur primitive", "1.0")
	b := gaps.Key("  motion   blur!", "No blur primitive.", "1.0")
	if a != b {
		t.Fatalf("expected equal keys, got %s and %s", a, b)
	}
	if a == gaps.Key("motion blur", "no blur primitive", "1.1") {
		t.Fatal("expected spec version to change the key")
	}
	if a == gaps.Key("motion blur", "other reason", "1.0") {
		t.Fatal("expected reason to change the key")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to store.GapStatus
		want     bool
	}{
		{store.GapNew, store.GapAccepted, true},
		{store.GapNew, store.GapImplemented, true},
		{store.GapAccepted, store.GapInProgress, true},
		{store.GapInProgress, store.GapRejected, true},
		{store.GapAccepted, store.GapNew, false},
		{store.GapImplemented, store.GapRejected, false},
		{store.GapRejected, store.GapInProgress, false},
		{store.GapNew, store.GapStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := gaps.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCreateDeduplicates(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	first, created, err := reg.Create(ctx, gaps.Draft{Feature: "Motion blur", Reason: "no blur primitive", Impact: "major", SpecVersion: "1.0"})
	if err != nil || !created {
		t.Fatalf("Create: created=%v err=%v", created, err)
	}
	if first.Impact != gaps.ImpactHigh {
		t.Fatalf("impact = %q, want high", first.Impact)
	}
	second, created, err := reg.Create(ctx, gaps.Draft{Feature: "motion  blur", Reason: "No blur primitive", SpecVersion: "1.0"})
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing gap %d, got %d (created=%v)", first.ID, second.ID, created)
	}
	found, err := reg.FindByKey(ctx, gaps.Key("motion blur", "no blur primitive", "1.0"))
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindByKey: %v, %v", found, err)
	}
	events, err := st.ListAudit(ctx, store.AuditFilter{EntityType: store.EntityGap, Action: gaps.ActionCreated})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one creation event, got %d", len(events))
	}
}

func TestCreateConcurrentConvergesOnOneGap(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gap, _, err := reg.Create(ctx, gaps.Draft{Feature: "particles", Reason: "no emitter", SpecVersion: "1.0"})
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids[i] = gap.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one gap id, got %v", ids)
		}
	}
	list, err := st.ListGaps(ctx, store.GapFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one gap row, got %d (%v)", len(list), err)
	}
}

func TestSetStatusForwardOnly(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	gap, _, err := reg.Create(ctx, gaps.Draft{Feature: "3d camera", Reason: "2d only", SpecVersion: "1.0"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.SetStatus(ctx, gap.ID, store.GapInProgress, ""); err != nil {
		t.Fatalf("skip forward: %v", err)
	}
	_, err = reg.SetStatus(ctx, gap.ID, store.GapAccepted, "")
	if !errors.Is(err, services.ErrValidation) || services.CodeOf(err) != services.CodeGapTransitionInvalid {
		t.Fatalf("expected gap_transition_invalid, got %v", err)
	}
	same, err := reg.SetStatus(ctx, gap.ID, store.GapInProgress, "")
	if err != nil || same.Status != store.GapInProgress {
		t.Fatalf("repeat status should be a no-op: %v %v", same, err)
	}
	if _, err := reg.SetStatus(ctx, gap.ID, store.GapRejected, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := reg.SetStatus(ctx, gap.ID, store.GapImplemented, "1.1"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected terminal state to refuse transition, got %v", err)
	}
}

func TestSetImplementedRequiresRegisteredVersion(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	gap, _, err := reg.Create(ctx, gaps.Draft{Feature: "audio sync", Reason: "no audio", SpecVersion: "1.0"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.SetStatus(ctx, gap.ID, store.GapImplemented, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without version, got %v", err)
	}
	if _, err := reg.SetStatus(ctx, gap.ID, store.GapImplemented, "9.9"); services.CodeOf(err) != services.CodeUnknownSpecVersion {
		t.Fatalf("expected unknown_spec_version, got %v", err)
	}
}

func TestSetImplementedEnqueuesReverify(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := services.WithActor(context.Background(), "operator:ana")
	gap, _, err := reg.Create(ctx, gaps.Draft{Feature: "motion blur", Reason: "no blur", SpecVersion: "1.0"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	a := testsupport.NewCandidate(t, st, "Racing cars")
	b := testsupport.NewCandidate(t, st, "Falling leaves")
	for _, c := range []*store.Candidate{a, b} {
		if err := st.LinkGap(ctx, c.ID, gap.ID); err != nil {
			t.Fatalf("LinkGap: %v", err)
		}
	}

	updated, err := reg.SetStatus(ctx, gap.ID, store.GapImplemented, "1.1")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated.Status != store.GapImplemented || updated.ImplementedInVersion != "1.1" {
		t.Fatalf("unexpected gap %+v", updated)
	}
	pending, err := st.PendingReverify(ctx, 0)
	if err != nil {
		t.Fatalf("PendingReverify: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 reverify entries, got %d", len(pending))
	}
	events, err := st.ListAudit(ctx, store.AuditFilter{EntityType: store.EntityGap, EntityID: gap.ID, Action: gaps.ActionStatusChanged})
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one status event, got %d (%v)", len(events), err)
	}
	if events[0].Actor != "operator:ana" {
		t.Fatalf("actor = %q", events[0].Actor)
	}

	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Introduced["1.0"] != 1 || stats.Resolved["1.1"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
