package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/store"
)

// EnqueueRequest describes a pipeline run to create.
type EnqueueRequest struct {
	// WindowKey makes enqueueing idempotent. Empty means the current UTC hour.
	WindowKey string
	// Params overrides the configured defaults. Zero limits fall back to them.
	Params *store.RunParams
}

// DefaultParams returns run parameters derived from configuration.
func (m *Manager) DefaultParams() store.RunParams {
	return store.RunParams{
		VerifyLimit:   m.cfg.Verifier.BatchSize,
		PoolSize:      m.cfg.Gate.PoolSize,
		MaxAttempts:   m.cfg.Compiler.MaxAttempts,
		MaxRepairs:    m.cfg.Compiler.MaxRepairs,
		AllowFallback: m.cfg.Compiler.AllowFallback,
		AutoPick:      m.cfg.Gate.AutoPick,
		Render:        m.cfg.Render.Enabled,
	}
}

func (m *Manager) resolveParams(p *store.RunParams) store.RunParams {
	defaults := m.DefaultParams()
	if p == nil {
		return defaults
	}
	out := *p
	if out.VerifyLimit <= 0 {
		out.VerifyLimit = defaults.VerifyLimit
	}
	if out.PoolSize <= 0 {
		out.PoolSize = defaults.PoolSize
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaults.MaxAttempts
	}
	if out.MaxRepairs < 0 {
		out.MaxRepairs = defaults.MaxRepairs
	}
	return out
}

// WindowKey returns the default idempotency key for t.
func WindowKey(t time.Time) string {
	return "hour:" + t.UTC().Truncate(time.Hour).Format("2006-01-02T15")
}

// Enqueue creates a run and queues its first stage. A second request for
// the same window returns the existing run with created=false.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*store.PipelineRun, bool, error) {
	version := m.specs.ActiveVersion()
	if version == "" {
		return nil, false, services.Fail(services.ErrConfiguration, services.CodeUnknownSpecVersion, "enqueue",
			"no active spec version", nil)
	}
	key := req.WindowKey
	if key == "" {
		key = WindowKey(m.store.Now())
	}
	params := m.resolveParams(req.Params)

	var (
		run     *store.PipelineRun
		created bool
	)
	err := m.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		run, created, err = q.InsertRunIgnoreConflict(ctx, key, params, version)
		if err != nil || !created {
			return err
		}
		if _, err := q.InsertStageIgnoreConflict(ctx, run.ID, store.StageOrder[0], "", version, time.Time{}); err != nil {
			return err
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityRun,
			EntityID:   run.ID,
			Action:     ActionRunEnqueued,
			Actor:      services.ActorFromContext(ctx),
			Payload:    map[string]any{"window_key": key, "spec_version": version, "params": params},
		})
	})
	if err != nil {
		return nil, false, services.Wrap(services.ErrInfrastructure, "workflow", "enqueue run", "", err)
	}
	logger := logging.WithContext(services.WithRunID(ctx, run.ID), m.logger)
	if created {
		logger.Info("run enqueued",
			logging.String(logging.FieldEventType, "run_enqueued"),
			logging.String("window_key", key),
			logging.String(logging.FieldSpecVersion, version),
		)
	} else {
		logger.Debug("run already exists for window", logging.String("window_key", key))
	}
	return run, created, nil
}

// RunStage executes one stage of a run synchronously on behalf of an
// operator. Earlier stages must have succeeded. A succeeded stage is
// returned unchanged and a failed stage is retried.
func (m *Manager) RunStage(ctx context.Context, runID int64, name store.StageName) (*store.StageRun, error) {
	if name.Index() < 0 {
		return nil, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "run stage",
			fmt.Sprintf("unknown stage %q", name), nil)
	}
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, notFoundOr(err, "run", runID)
	}
	if run.Status == store.RunCancelled {
		return nil, services.Fail(services.ErrPrecondition, services.CodeRunCancelled, "run stage",
			fmt.Sprintf("run %d is cancelled", runID), nil)
	}
	for _, prior := range store.StageOrder[:name.Index()] {
		sr, err := m.store.GetStage(ctx, runID, prior)
		if err != nil && !store.IsNotFound(err) {
			return nil, services.Wrap(services.ErrInfrastructure, "workflow", "load stage", "", err)
		}
		if sr == nil || sr.Status != store.StageSucceeded {
			return nil, services.Fail(services.ErrPrecondition, services.CodeStageOrder, "run stage",
				fmt.Sprintf("stage %s requires %s to succeed first", name, prior), nil).
				WithHint(fmt.Sprintf("run the %s stage first", prior))
		}
	}

	workerID := "operator:" + uuid.NewString()[:8]
	var (
		sr   *store.StageRun
		done bool
	)
	err = m.store.WithTx(ctx, func(q *store.Queries) error {
		done = false
		if _, err := q.InsertStageIgnoreConflict(ctx, runID, name, "", m.specs.ActiveVersion(), time.Time{}); err != nil {
			return err
		}
		var err error
		sr, err = q.GetStage(ctx, runID, name)
		if err != nil {
			return err
		}
		switch sr.Status {
		case store.StageSucceeded:
			done = true
			return nil
		case store.StageRunning:
			return services.Fail(services.ErrConflict, services.CodeAlreadyClaimed, "run stage",
				fmt.Sprintf("stage %s of run %d is already running", name, runID), nil)
		case store.StageFailed:
			if _, err := q.RetryStage(ctx, runID, name); err != nil {
				return err
			}
			if _, err := q.UpdateRunStatus(ctx, runID, []store.RunStatus{store.RunFailed}, store.RunRunning, "", ""); err != nil {
				return err
			}
			if err := q.AppendAudit(ctx, store.AuditRecord{
				EntityType: store.EntityStage,
				EntityID:   sr.ID,
				Action:     ActionStageRetried,
				Actor:      services.ActorFromContext(ctx),
				Payload:    map[string]any{"run_id": runID, "stage": name, "previous_error": sr.ErrorCode},
			}); err != nil {
				return err
			}
		}
		ok, err := q.ClaimStage(ctx, sr.ID, workerID)
		if err != nil {
			return err
		}
		if !ok {
			return services.Fail(services.ErrConflict, services.CodeAlreadyClaimed, "run stage",
				fmt.Sprintf("stage %s of run %d was claimed concurrently", name, runID), nil)
		}
		_, err = q.UpdateRunStatus(ctx, runID, []store.RunStatus{store.RunPending}, store.RunRunning, "", "")
		return err
	})
	if err != nil {
		var svcErr *services.Error
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "claim stage", "", err)
	}
	if done {
		return sr, nil
	}
	run, err = m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "reload run", "", err)
	}
	return m.execute(ctx, run, sr, workerID)
}

// Cancel marks a run cancelled and interrupts a locally running stage.
// Results that arrive later are rejected. Cancelling twice is a no-op.
func (m *Manager) Cancel(ctx context.Context, runID int64) (*store.PipelineRun, error) {
	var run *store.PipelineRun
	err := m.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		run, err = q.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		switch {
		case run.Status == store.RunCancelled:
			return nil
		case run.Status.IsTerminal():
			return services.Fail(services.ErrConflict, services.CodeRunFinished, "cancel run",
				fmt.Sprintf("run %d already %s", runID, run.Status), nil)
		}
		ok, err := q.UpdateRunStatus(ctx, runID, []store.RunStatus{store.RunPending, store.RunRunning},
			store.RunCancelled, string(services.CodeRunCancelled), "cancelled by "+services.ActorFromContext(ctx))
		if err != nil || !ok {
			return err
		}
		if err := q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityRun,
			EntityID:   runID,
			Action:     ActionRunCancelled,
			Actor:      services.ActorFromContext(ctx),
			Payload:    map[string]any{"previous_status": run.Status},
		}); err != nil {
			return err
		}
		run, err = q.GetRun(ctx, runID)
		return err
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFoundOr(err, "run", runID)
		}
		var svcErr *services.Error
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "cancel run", "", err)
	}
	interrupted := m.interrupt(runID)
	logging.WithContext(services.WithRunID(ctx, runID), m.logger).Info("run cancelled",
		logging.String(logging.FieldEventType, "run_cancelled"),
		logging.Bool("interrupted", interrupted),
	)
	return run, nil
}

// CleanupResult summarizes a stale-stage sweep.
type CleanupResult struct {
	Stages         []*store.StageRun `json:"stages"`
	RunsFailed     []int64           `json:"runs_failed"`
	ClaimsReleased int64             `json:"claims_released"`
}

// CleanupStaleStages fails running stages whose heartbeat is older than
// olderThan, fails their runs, and frees stale verification claims. A zero
// olderThan uses the configured heartbeat timeout.
func (m *Manager) CleanupStaleStages(ctx context.Context, olderThan time.Duration) (*CleanupResult, error) {
	if olderThan <= 0 {
		olderThan = m.heartbeat.Timeout()
	}
	if olderThan <= 0 {
		return nil, services.Fail(services.ErrValidation, services.CodeInvalidArgument, "cleanup",
			"a positive staleness threshold is required", nil)
	}
	cutoff := m.store.Now().Add(-olderThan)
	message := fmt.Sprintf("no heartbeat for %s", olderThan)
	result := &CleanupResult{}
	err := m.store.WithTx(ctx, func(q *store.Queries) error {
		result.Stages, result.RunsFailed = nil, nil
		stale, err := q.ReclaimStaleStages(ctx, cutoff, string(services.CodeStageTimeout), message)
		if err != nil {
			return err
		}
		result.Stages = stale
		for _, sr := range stale {
			ok, err := q.UpdateRunStatus(ctx, sr.RunID, []store.RunStatus{store.RunPending, store.RunRunning},
				store.RunFailed, string(services.CodeStageTimeout), message)
			if err != nil {
				return err
			}
			if ok {
				result.RunsFailed = append(result.RunsFailed, sr.RunID)
			}
			if err := q.AppendAudit(ctx, store.AuditRecord{
				EntityType: store.EntityStage,
				EntityID:   sr.ID,
				Action:     ActionStageTimedOut,
				Actor:      services.ActorFromContext(ctx),
				Payload:    map[string]any{"run_id": sr.RunID, "stage": sr.Stage, "worker_id": sr.WorkerID, "older_than": olderThan.String()},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "reclaim stale stages", "", err)
	}
	if m.claims != nil {
		released, err := m.claims.ReleaseStaleClaims(ctx, olderThan)
		if err != nil {
			return result, services.Wrap(services.ErrInfrastructure, "workflow", "release stale claims", "", err)
		}
		result.ClaimsReleased = released
	}
	if len(result.Stages) > 0 || result.ClaimsReleased > 0 {
		logging.WarnWithContext(m.logger, "stale work reclaimed", "stale_reclaimed",
			logging.Int("stages", len(result.Stages)),
			logging.Int64("claims", result.ClaimsReleased),
			logging.String(logging.FieldImpact, "affected runs failed with stage_timeout"),
		)
	}
	return result, nil
}

// ListRuns returns runs matching filter, newest first.
func (m *Manager) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.PipelineRun, error) {
	runs, err := m.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "list runs", "", err)
	}
	return runs, nil
}

// RunDetail is a run with everything it produced so far.
type RunDetail struct {
	Run         *store.PipelineRun   `json:"run"`
	Stages      []*store.StageRun    `json:"stages"`
	Round       *store.DecisionRound `json:"round,omitempty"`
	Idea        *store.Idea          `json:"idea,omitempty"`
	Compilation *store.Compilation   `json:"compilation,omitempty"`
}

// Describe loads a run with its stages, round, idea, and compilation.
func (m *Manager) Describe(ctx context.Context, runID int64) (*RunDetail, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, notFoundOr(err, "run", runID)
	}
	detail := &RunDetail{Run: run}
	if detail.Stages, err = m.store.ListStages(ctx, runID); err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "list stages", "", err)
	}
	if round, err := m.store.GetRoundByRun(ctx, runID); err == nil {
		detail.Round = round
	} else if !store.IsNotFound(err) {
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "load round", "", err)
	}
	if idea, err := m.store.GetIdeaByRun(ctx, runID); err == nil {
		detail.Idea = idea
		if idea.CompilationID > 0 {
			if c, err := m.store.GetCompilation(ctx, idea.CompilationID); err == nil {
				detail.Compilation = c
			}
		}
	} else if !store.IsNotFound(err) {
		return nil, services.Wrap(services.ErrInfrastructure, "workflow", "load idea", "", err)
	}
	return detail, nil
}

func notFoundOr(err error, entity string, id int64) error {
	if store.IsNotFound(err) {
		return services.Fail(services.ErrNotFound, services.CodeNotFound, "lookup",
			fmt.Sprintf("%s %d not found", entity, id), err)
	}
	return services.Wrap(services.ErrInfrastructure, "workflow", "load "+entity, "", err)
}
