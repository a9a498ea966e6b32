package testsupport

import (
	"context"
	"testing"

	"specforge/internal/config"
	"specforge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewCandidate inserts an unverified candidate.
func NewCandidate(t testing.TB, st *store.Store, title string) *store.Candidate {
	t.Helper()

	c, err := st.InsertCandidate(context.Background(), store.NewCandidate{
		Title:           title,
		Summary:         title + " summary",
		ExpectedOutcome: title + " outcome",
	})
	if err != nil {
		t.Fatalf("store.InsertCandidate: %v", err)
	}
	return c
}

// NewFeasibleCandidate inserts a candidate already verified as feasible
// against specVersion.
func NewFeasibleCandidate(t testing.TB, st *store.Store, title, specVersion string) *store.Candidate {
	t.Helper()

	ctx := context.Background()
	c := NewCandidate(t, st, title)
	token := "test-claim"
	ok, err := st.ClaimCandidateForVerify(ctx, c.ID, token)
	if err != nil || !ok {
		t.Fatalf("claim candidate %d: ok=%v err=%v", c.ID, ok, err)
	}
	ok, err = st.SetCandidateCapability(ctx, c.ID, token, store.CapabilityResult{
		Status:      store.CapabilityFeasible,
		SpecVersion: specVersion,
		Confidence:  0.9,
	})
	if err != nil || !ok {
		t.Fatalf("mark candidate %d feasible: ok=%v err=%v", c.ID, ok, err)
	}
	fetched, err := st.GetCandidate(ctx, c.ID)
	if err != nil {
		t.Fatalf("store.GetCandidate: %v", err)
	}
	return fetched
}
