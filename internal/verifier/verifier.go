// Package verifier decides whether idea candidates are expressible in the
// active specification version and records the capability gaps that block
// them.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"specforge/internal/config"
	"specforge/internal/gaps"
	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/specreg"
	"specforge/internal/store"
	"specforge/internal/telemetry"
	"specforge/internal/textgen"
)

// Audit actions written by the verifier.
const (
	ActionVerified      = "capability_verified"
	ActionVerifyFailed  = "verification_failed"
	ActionReverifyReset = "reverify_reset"
)

// Evidence is the judgement for one feature of an idea.
type Evidence struct {
	Feature       string `json:"feature"`
	Representable bool   `json:"representable"`
	Reason        string `json:"reason,omitempty"`
	Impact        string `json:"impact,omitempty"`
	GapID         int64  `json:"gap_id,omitempty"`
}

// Report is the outcome of verifying one candidate.
type Report struct {
	CandidateID    int64                  `json:"candidate_id"`
	Feasible       bool                   `json:"feasible"`
	Status         store.CapabilityStatus `json:"status"`
	NewGapIDs      []int64                `json:"new_gap_ids"`
	ExistingGapIDs []int64                `json:"existing_gap_ids"`
	Evidence       []Evidence             `json:"evidence"`
	Confidence     float64                `json:"confidence"`
	Summary        string                 `json:"summary,omitempty"`
	SpecVersion    string                 `json:"spec_version"`
}

// Verifier runs capability verification against the text-generation backend.
type Verifier struct {
	store    *store.Store
	specs    *specreg.Registry
	gaps     *gaps.Registry
	backend  textgen.Backend
	cfg      config.Verifier
	logger   *slog.Logger
	recorder *telemetry.Recorder
}

// New constructs a verifier.
func New(st *store.Store, specs *specreg.Registry, gapRegistry *gaps.Registry, backend textgen.Backend, cfg config.Verifier, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Verifier{
		store:    st,
		specs:    specs,
		gaps:     gapRegistry,
		backend:  backend,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "verifier"),
		recorder: telemetry.Default(),
	}
}

// Verify judges one candidate. A candidate that is already verified or held
// by another verifier yields a conflict error; callers treat it as skipped.
func (v *Verifier) Verify(ctx context.Context, candidateID int64) (*Report, error) {
	ctx = services.WithCandidateID(ctx, candidateID)
	logger := logging.WithContext(ctx, v.logger)

	grammar := v.specs.Active()
	if grammar == nil {
		return nil, services.Fail(services.ErrConfiguration, services.CodeUnknownSpecVersion, "verify", "no active spec version", nil)
	}

	token := uuid.NewString()
	claimed, err := v.store.ClaimCandidateForVerify(ctx, candidateID, token)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "verify", "claim candidate", "", err)
	}
	if !claimed {
		if _, err := v.store.GetCandidate(ctx, candidateID); err != nil {
			return nil, err
		}
		v.recorder.Verified(ctx, "skipped")
		return nil, services.Fail(services.ErrConflict, services.CodeAlreadyClaimed, "verify",
			fmt.Sprintf("candidate %d is already verified or being verified", candidateID), nil)
	}

	report, err := v.verifyClaimed(ctx, candidateID, token, grammar)
	if err != nil {
		v.fail(ctx, candidateID, token, grammar.Version, err)
		v.recorder.Verified(ctx, "failed")
		return nil, err
	}
	v.recorder.Verified(ctx, string(report.Status))
	logger.Info("candidate verified",
		logging.String("status", string(report.Status)),
		logging.String(logging.FieldSpecVersion, report.SpecVersion),
		logging.Int("new_gaps", len(report.NewGapIDs)),
		logging.Int("existing_gaps", len(report.ExistingGapIDs)),
		logging.Float64("confidence", report.Confidence),
	)
	return report, nil
}

func (v *Verifier) verifyClaimed(ctx context.Context, candidateID int64, token string, grammar *specreg.Grammar) (*Report, error) {
	candidate, err := v.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	known, err := v.store.ListGaps(ctx, store.GapFilter{
		Status:      store.ActiveGapStatuses,
		SpecVersion: grammar.Version,
		Limit:       maxKnownGaps,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "verify", "load known gaps", "", err)
	}

	verdict, err := v.judge(ctx, buildRequest(candidate, grammar, known))
	if err != nil {
		return nil, err
	}

	report := &Report{
		CandidateID:    candidateID,
		Confidence:     *verdict.Confidence,
		Summary:        verdict.Summary,
		SpecVersion:    grammar.Version,
		NewGapIDs:      []int64{},
		ExistingGapIDs: []int64{},
	}
	var created []*store.Gap
	err = v.store.WithTx(ctx, func(q *store.Queries) error {
		created = created[:0]
		report.NewGapIDs = report.NewGapIDs[:0]
		report.ExistingGapIDs = report.ExistingGapIDs[:0]
		report.Evidence = report.Evidence[:0]
		for _, f := range verdict.Features {
			ev := Evidence{Feature: f.Feature, Representable: *f.Representable, Reason: f.Reason, Impact: f.Impact}
			if !ev.Representable {
				gap, isNew, err := v.gaps.Ensure(ctx, q, gaps.Draft{
					Feature:     f.Feature,
					Reason:      f.Reason,
					Impact:      f.Impact,
					SpecVersion: grammar.Version,
				})
				if err != nil {
					return err
				}
				if err := q.LinkGap(ctx, candidateID, gap.ID); err != nil {
					return err
				}
				ev.GapID = gap.ID
				if isNew {
					created = append(created, gap)
					report.NewGapIDs = append(report.NewGapIDs, gap.ID)
				}
			}
			report.Evidence = append(report.Evidence, ev)
		}
		// Links outlive the verdict that created them, so blocking is
		// decided by every linked gap that is not yet implemented.
		linked, err := q.LinkedGaps(ctx, candidateID)
		if err != nil {
			return err
		}
		for _, gap := range linked {
			if gap.Status == store.GapImplemented || slices.Contains(report.NewGapIDs, gap.ID) {
				continue
			}
			report.ExistingGapIDs = append(report.ExistingGapIDs, gap.ID)
		}
		active := len(report.NewGapIDs) + len(report.ExistingGapIDs)
		report.Feasible = active == 0
		report.Status = store.CapabilityFeasible
		if !report.Feasible {
			report.Status = store.CapabilityBlocked
		}
		encoded, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		ok, err := q.SetCandidateCapability(ctx, candidateID, token, store.CapabilityResult{
			Status:      report.Status,
			SpecVersion: grammar.Version,
			Confidence:  report.Confidence,
			Report:      string(encoded),
		})
		if err != nil {
			return err
		}
		if !ok {
			return services.Fail(services.ErrConflict, services.CodeAlreadyClaimed, "verify",
				fmt.Sprintf("claim on candidate %d was released before the result was stored", candidateID), nil)
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityCandidate,
			EntityID:   candidateID,
			Action:     ActionVerified,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"status":           report.Status,
				"spec_version":     grammar.Version,
				"new_gap_ids":      report.NewGapIDs,
				"existing_gap_ids": report.ExistingGapIDs,
				"active_gaps":      active,
				"confidence":       report.Confidence,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	for _, gap := range created {
		v.recorder.GapCreated(ctx, gap.SpecVersion, gap.Impact)
	}
	return report, nil
}

// judge calls the backend with bounded exponential backoff. Only transient
// failures are retried; refusals and malformed output end the attempt.
func (v *Verifier) judge(ctx context.Context, req textgen.Request) (judgement, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.retryBase()
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(v.cfg.MaxRetries, 0))), ctx)

	op := func() (judgement, error) {
		env := textgen.Call(ctx, v.backend, req, checkJudgement)
		switch env.Outcome {
		case textgen.OutcomeOK:
			return env.Value, nil
		case textgen.OutcomeSchemaError:
			return judgement{}, backoff.Permanent(env.Err)
		default:
			if textgen.IsRetryable(env.Err) && ctx.Err() == nil {
				return judgement{}, env.Err
			}
			return judgement{}, backoff.Permanent(env.Err)
		}
	}
	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(logging.WithContext(ctx, v.logger), "verification backend call failed; retrying", "backend_retry",
			logging.Error(err),
			logging.Duration("wait", wait),
			logging.String(logging.FieldImpact, "verification delayed"),
		)
	}
	verdict, err := backoff.RetryNotifyWithData(op, bounded, notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && textgen.KindOf(err) == "" {
			return judgement{}, services.Wrap(services.ErrCancelled, "verify", "backend call", "", ctxErr)
		}
		return judgement{}, textgen.AsServiceError("verify", err)
	}
	return verdict, nil
}

func (v *Verifier) retryBase() time.Duration {
	if v.cfg.RetryBaseMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(v.cfg.RetryBaseMillis) * time.Millisecond
}

// fail releases the claim so the candidate stays unverified and records why.
func (v *Verifier) fail(ctx context.Context, candidateID int64, token, version string, cause error) {
	details := services.ErrorDetails(cause)
	// A cancelled caller still releases its claim.
	cleanupCtx := context.WithoutCancel(ctx)
	err := v.store.WithTx(cleanupCtx, func(q *store.Queries) error {
		if err := q.ReleaseVerifyClaim(cleanupCtx, candidateID, token); err != nil {
			return err
		}
		return q.AppendAudit(cleanupCtx, store.AuditRecord{
			EntityType: store.EntityCandidate,
			EntityID:   candidateID,
			Action:     ActionVerifyFailed,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"spec_version": version,
				"error_code":   details.Code,
				"message":      details.Message,
			},
		})
	})
	attrs := append([]logging.Attr{
		logging.String(logging.FieldImpact, "candidate stays unverified"),
	}, logging.ErrorDetails(cause)...)
	if err != nil {
		attrs = append(attrs, logging.String("release_error", err.Error()))
	}
	logging.WarnWithContext(logging.WithContext(ctx, v.logger), "verification failed", "verification_failed", attrs...)
}

// BatchResult summarizes VerifyBatch.
type BatchResult struct {
	Reports []*Report        `json:"reports"`
	Skipped []int64          `json:"skipped"`
	Failed  map[int64]string `json:"failed"`
}

// VerifyBatch verifies up to limit unverified candidates sequentially. Per
// candidate failures are collected, not returned.
func (v *Verifier) VerifyBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = v.cfg.BatchSize
	}
	ids, err := v.store.ListUnverifiedCandidateIDs(ctx, limit)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "verify batch", "list candidates", "", err)
	}
	result := &BatchResult{Failed: map[int64]string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, services.Wrap(services.ErrCancelled, "verify batch", "", "", err)
		}
		report, err := v.Verify(ctx, id)
		switch {
		case err == nil:
			result.Reports = append(result.Reports, report)
		case services.IsConflict(err) || store.IsNotFound(err):
			result.Skipped = append(result.Skipped, id)
		default:
			result.Failed[id] = string(services.CodeOf(err))
		}
	}
	return result, nil
}

// ReverifyResult summarizes ProcessReverifyQueue.
type ReverifyResult struct {
	Processed int       `json:"processed"`
	Reports   []*Report `json:"reports"`
	Failed    int       `json:"failed"`
}

// ProcessReverifyQueue drains re-verification entries written when gaps were
// implemented. Blocked candidates are reset to unverified and verified again.
func (v *Verifier) ProcessReverifyQueue(ctx context.Context, limit int) (*ReverifyResult, error) {
	entries, err := v.store.PendingReverify(ctx, limit)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "reverify", "list queue", "", err)
	}
	result := &ReverifyResult{}
	seen := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, services.Wrap(services.ErrCancelled, "reverify", "", "", err)
		}
		reset := false
		err := v.store.WithTx(ctx, func(q *store.Queries) error {
			reset = false
			candidate, err := q.GetCandidate(ctx, entry.CandidateID)
			switch {
			case store.IsNotFound(err):
			case err != nil:
				return err
			case candidate.CapabilityStatus == store.CapabilityBlocked:
				reset, err = q.ResetCandidateForReverify(ctx, entry.CandidateID)
				if err != nil {
					return err
				}
				if reset {
					if err := q.AppendAudit(ctx, store.AuditRecord{
						EntityType: store.EntityCandidate,
						EntityID:   entry.CandidateID,
						Action:     ActionReverifyReset,
						Actor:      services.ActorFromContext(ctx),
						Payload:    map[string]any{"gap_id": entry.GapID},
					}); err != nil {
						return err
					}
				}
			case candidate.CapabilityStatus == store.CapabilityUnverified:
				reset = true
			}
			return q.MarkReverifyProcessed(ctx, entry.ID)
		})
		if err != nil {
			return result, services.Wrap(services.ErrInfrastructure, "reverify", "reset candidate", "", err)
		}
		result.Processed++
		if !reset || seen[entry.CandidateID] {
			continue
		}
		seen[entry.CandidateID] = true
		report, err := v.Verify(ctx, entry.CandidateID)
		switch {
		case err == nil:
			result.Reports = append(result.Reports, report)
		case services.IsConflict(err):
		default:
			result.Failed++
			if errors.Is(err, services.ErrCancelled) {
				return result, err
			}
		}
	}
	return result, nil
}

// ReleaseStaleClaims frees verification claims older than olderThan.
func (v *Verifier) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = time.Duration(v.cfg.ClaimTimeoutSeconds) * time.Second
	}
	n, err := v.store.ReleaseStaleClaims(ctx, v.store.Now().Add(-olderThan))
	if err != nil {
		return 0, services.Wrap(services.ErrInfrastructure, "verifier", "release stale claims", "", err)
	}
	if n > 0 {
		v.logger.Info("stale verification claims released", logging.Int64("count", n))
	}
	return n, nil
}
