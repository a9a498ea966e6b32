package stage

import (
	"context"
	"fmt"
	"time"

	"specforge/internal/gate"
	"specforge/internal/services"
	"specforge/internal/store"
)

// SelectResult is persisted when the select stage finishes.
type SelectResult struct {
	RoundID     int64 `json:"round_id"`
	IdeaID      int64 `json:"idea_id"`
	CandidateID int64 `json:"candidate_id"`
	Auto        bool  `json:"auto"`
}

// Select opens a decision round for the run and waits until it is decided.
type Select struct {
	gate       *gate.Gate
	st         *store.Store
	deferDelay time.Duration
}

// NewSelect builds the select stage. deferDelay is how long an undecided
// round waits before the stage is checked again.
func NewSelect(g *gate.Gate, st *store.Store, deferDelay time.Duration) *Select {
	if deferDelay <= 0 {
		deferDelay = 30 * time.Second
	}
	return &Select{gate: g, st: st, deferDelay: deferDelay}
}

func (s *Select) Name() store.StageName { return store.StageSelect }

func (s *Select) Execute(ctx context.Context, env Env) (Outcome, error) {
	runID := env.Run.ID
	params := env.Params()
	auto := params.AutoPick || s.gate.AutoPick()

	round, err := s.gate.RoundForRun(ctx, runID)
	switch {
	case store.IsNotFound(err):
		round = nil
	case err != nil:
		return Outcome{}, services.Wrap(services.ErrInfrastructure, "select", "load round", "", err)
	}
	if round != nil && round.Status == store.RoundDecided {
		return s.finished(ctx, round, auto)
	}
	if round == nil || len(round.CandidateIDs) == 0 {
		round, err = s.gate.Sample(ctx, params.PoolSize, runID)
		if err != nil {
			return Outcome{}, err
		}
	}
	if len(round.CandidateIDs) == 0 {
		return Outcome{}, services.Fail(services.ErrPrecondition, services.CodeNoEligibleCandidates, "select",
			"no feasible candidates are awaiting a decision", nil).
			WithHint("add candidates or implement gaps, then retry the stage")
	}
	if auto {
		if _, err := s.gate.AutoDecide(ctx, round.ID); err != nil {
			return Outcome{}, err
		}
		decided, err := s.gate.GetRound(ctx, round.ID)
		if err != nil {
			return Outcome{}, services.Wrap(services.ErrInfrastructure, "select", "reload round", "", err)
		}
		return s.finished(ctx, decided, true)
	}
	return Outcome{
		WorkRef: RoundRef(round.ID),
		Defer:   s.deferDelay,
		Note:    fmt.Sprintf("awaiting decision on round %d", round.ID),
	}, nil
}

func (s *Select) finished(ctx context.Context, round *gate.Round, auto bool) (Outcome, error) {
	idea, err := s.st.GetIdeaByCandidate(ctx, round.PickedCandidateID)
	if err != nil {
		return Outcome{}, services.Wrap(services.ErrInfrastructure, "select", "load picked idea", "", err)
	}
	return Outcome{
		WorkRef: IdeaRef(idea.ID),
		Result: SelectResult{
			RoundID:     round.ID,
			IdeaID:      idea.ID,
			CandidateID: idea.CandidateID,
			Auto:        auto,
		},
	}, nil
}

func (s *Select) HealthCheck(ctx context.Context) Health {
	if err := s.st.CheckHealth(ctx); err != nil {
		return Unhealthy(string(store.StageSelect), err.Error())
	}
	return Healthy(string(store.StageSelect))
}
