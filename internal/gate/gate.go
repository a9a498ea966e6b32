// Package gate samples feasible candidates for a human (or automatic)
// decision and promotes exactly one of them to an Idea per round.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"specforge/internal/config"
	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/specreg"
	"specforge/internal/store"
)

// ActorAutoGate attributes unattended decisions.
const ActorAutoGate = "system:auto-gate"

// Audit actions written by the gate.
const (
	ActionRoundOpened    = "round_opened"
	ActionRoundDecided   = "round_decided"
	ActionDecision       = "decision_recorded"
	ActionIdeaCreated    = "idea_created"
	ActionRejectedPurged = "rejected_purged"
)

// Choice is the outcome assigned to one sampled candidate.
type Choice string

const (
	ChoicePicked   Choice = "picked"
	ChoiceLater    Choice = "later"
	ChoiceRejected Choice = "rejected"
)

func (c Choice) status() (store.DecisionStatus, bool) {
	switch c {
	case ChoicePicked:
		return store.DecisionPicked, true
	case ChoiceLater:
		return store.DecisionLater, true
	case ChoiceRejected:
		return store.DecisionRejected, true
	default:
		return "", false
	}
}

// Decision assigns a choice to a candidate.
type Decision struct {
	CandidateID int64  `json:"candidate_id"`
	Choice      Choice `json:"choice"`
}

// Round is a decision round with its sampled candidates loaded.
type Round struct {
	*store.DecisionRound
	CandidateIDs []int64            `json:"candidate_ids"`
	Candidates   []*store.Candidate `json:"candidates"`
}

// Gate implements candidate sampling and batch decisions.
type Gate struct {
	store   *store.Store
	specs   *specreg.Registry
	cfg     config.Gate
	logger  *slog.Logger
	shuffle func([]int64)
}

// New constructs a gate.
func New(st *store.Store, specs *specreg.Registry, cfg config.Gate, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		store:  st,
		specs:  specs,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "gate"),
		shuffle: func(ids []int64) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
	}
}

// AutoPick reports whether rounds opened by the pipeline decide themselves.
func (g *Gate) AutoPick() bool { return g.cfg.AutoPick }

// Sample opens a round over at most n random eligible candidates. An empty
// pool yields an empty round, not an error. runID may be zero.
func (g *Gate) Sample(ctx context.Context, n int, runID int64) (*Round, error) {
	if n <= 0 {
		n = g.cfg.PoolSize
	}
	if n <= 0 {
		return nil, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "sample", "sample size must be positive", nil)
	}
	var round *store.DecisionRound
	err := g.store.WithTx(ctx, func(q *store.Queries) error {
		ids, err := q.EligibleCandidateIDs(ctx)
		if err != nil {
			return err
		}
		g.shuffle(ids)
		if len(ids) > n {
			ids = ids[:n]
		}
		round, err = q.InsertRound(ctx, runID, ids)
		if err != nil {
			return err
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityRound,
			EntityID:   round.ID,
			Action:     ActionRoundOpened,
			Actor:      services.ActorFromContext(ctx),
			Payload:    map[string]any{"run_id": runID, "sampled": ids, "requested": n},
		})
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "gate", "sample", "", err)
	}
	g.logger.Info("decision round opened",
		logging.Int64("round_id", round.ID),
		logging.Int("sampled", len(round.SampledIDs())),
		logging.Int64(logging.FieldRunID, runID),
	)
	return g.GetRound(ctx, round.ID)
}

// GetRound loads a round and its candidates.
func (g *Gate) GetRound(ctx context.Context, id int64) (*Round, error) {
	r, err := g.store.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.expand(ctx, r)
}

// RoundForRun loads the newest round opened by a pipeline run.
func (g *Gate) RoundForRun(ctx context.Context, runID int64) (*Round, error) {
	r, err := g.store.GetRoundByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return g.expand(ctx, r)
}

func (g *Gate) expand(ctx context.Context, r *store.DecisionRound) (*Round, error) {
	round := &Round{DecisionRound: r, CandidateIDs: r.SampledIDs()}
	for _, id := range round.CandidateIDs {
		c, err := g.store.GetCandidate(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		round.Candidates = append(round.Candidates, c)
	}
	return round, nil
}

func invalid(format string, args ...any) error {
	return services.Fail(services.ErrValidation, services.CodeDecisionInvalid, "decide", fmt.Sprintf(format, args...), nil)
}

// validateBatch checks that batch covers exactly the sampled candidates with
// exactly one pick.
func validateBatch(sampled []int64, batch []Decision) (int64, error) {
	if len(sampled) == 0 {
		return 0, invalid("round has no candidates to decide")
	}
	want := make(map[int64]bool, len(sampled))
	for _, id := range sampled {
		want[id] = true
	}
	seen := make(map[int64]bool, len(batch))
	var picked []int64
	for _, d := range batch {
		if _, ok := d.Choice.status(); !ok {
			return 0, invalid("candidate %d has unknown choice %q", d.CandidateID, d.Choice)
		}
		if !want[d.CandidateID] {
			return 0, invalid("candidate %d was not sampled in this round", d.CandidateID)
		}
		if seen[d.CandidateID] {
			return 0, invalid("candidate %d is decided more than once", d.CandidateID)
		}
		seen[d.CandidateID] = true
		if d.Choice == ChoicePicked {
			picked = append(picked, d.CandidateID)
		}
	}
	if len(seen) != len(want) {
		return 0, invalid("batch decides %d of %d sampled candidates", len(seen), len(want))
	}
	if len(picked) != 1 {
		return 0, invalid("batch must pick exactly one candidate, got %d", len(picked))
	}
	return picked[0], nil
}

// Decide applies a batch of decisions atomically. Any invalid entry, or any
// candidate that is no longer eligible, fails the whole batch with no
// mutation. The picked candidate becomes an Idea stamped with the active
// spec version.
func (g *Gate) Decide(ctx context.Context, roundID int64, batch []Decision) (*store.Idea, error) {
	specVersion := g.specs.ActiveVersion()
	actor := services.ActorFromContext(ctx)
	var idea *store.Idea
	err := g.store.WithTx(ctx, func(q *store.Queries) error {
		round, err := q.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		if round.Status != store.RoundOpen {
			return services.Fail(services.ErrConflict, services.CodeAlreadyDecided, "decide",
				fmt.Sprintf("round %d is already decided", roundID), nil)
		}
		pickedID, err := validateBatch(round.SampledIDs(), batch)
		if err != nil {
			return err
		}
		for _, d := range batch {
			c, err := q.GetCandidate(ctx, d.CandidateID)
			if err != nil {
				if store.IsNotFound(err) {
					return invalid("candidate %d no longer exists", d.CandidateID)
				}
				return err
			}
			if !c.Eligible() {
				return invalid("candidate %d is no longer eligible (capability %s, decision %s)",
					c.ID, c.CapabilityStatus, c.DecisionStatus)
			}
		}
		for _, d := range batch {
			to, _ := d.Choice.status()
			ok, err := q.SetCandidateDecision(ctx, d.CandidateID,
				[]store.DecisionStatus{store.DecisionNew, store.DecisionLater}, to)
			if err != nil {
				return err
			}
			if !ok {
				return services.Fail(services.ErrConflict, services.CodeAlreadyDecided, "decide",
					fmt.Sprintf("candidate %d was decided concurrently", d.CandidateID), nil)
			}
			if err := q.AppendAudit(ctx, store.AuditRecord{
				EntityType: store.EntityCandidate,
				EntityID:   d.CandidateID,
				Action:     ActionDecision,
				Actor:      actor,
				Payload:    map[string]any{"round_id": roundID, "decision": to},
			}); err != nil {
				return err
			}
		}
		idea, err = q.InsertIdea(ctx, pickedID, roundID, round.RunID, specVersion)
		if err != nil {
			return err
		}
		if err := q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityIdea,
			EntityID:   idea.ID,
			Action:     ActionIdeaCreated,
			Actor:      actor,
			Payload:    map[string]any{"candidate_id": pickedID, "round_id": roundID, "spec_version": specVersion},
		}); err != nil {
			return err
		}
		ok, err := q.MarkRoundDecided(ctx, roundID, pickedID)
		if err != nil {
			return err
		}
		if !ok {
			return services.Fail(services.ErrConflict, services.CodeAlreadyDecided, "decide",
				fmt.Sprintf("round %d was decided concurrently", roundID), nil)
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityRound,
			EntityID:   roundID,
			Action:     ActionRoundDecided,
			Actor:      actor,
			Payload:    map[string]any{"picked_candidate_id": pickedID, "decisions": batch},
		})
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("decision round decided",
		logging.Int64("round_id", roundID),
		logging.Int64(logging.FieldCandidateID, idea.CandidateID),
		logging.Int64(logging.FieldIdeaID, idea.ID),
		logging.String(logging.FieldActor, actor),
	)
	return idea, nil
}

// AutoDecide picks the first sampled candidate and defers the rest.
func (g *Gate) AutoDecide(ctx context.Context, roundID int64) (*store.Idea, error) {
	round, err := g.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	sampled := round.SampledIDs()
	batch := make([]Decision, 0, len(sampled))
	for i, id := range sampled {
		choice := ChoiceLater
		if i == 0 {
			choice = ChoicePicked
		}
		batch = append(batch, Decision{CandidateID: id, Choice: choice})
	}
	return g.Decide(services.WithActor(ctx, ActorAutoGate), roundID, batch)
}

// PurgeRejected deletes rejected candidates that never became ideas.
func (g *Gate) PurgeRejected(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := g.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		ids, err = q.DeleteRejectedCandidates(ctx)
		if err != nil || len(ids) == 0 {
			return err
		}
		for _, id := range ids {
			if err := q.AppendAudit(ctx, store.AuditRecord{
				EntityType: store.EntityCandidate,
				EntityID:   id,
				Action:     ActionRejectedPurged,
				Actor:      services.ActorFromContext(ctx),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "gate", "purge rejected", "", err)
	}
	if len(ids) > 0 {
		g.logger.Info("rejected candidates purged", logging.Int("count", len(ids)))
	}
	return ids, nil
}
