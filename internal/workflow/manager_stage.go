package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"specforge/internal/logging"
	"specforge/internal/notifications"
	"specforge/internal/services"
	"specforge/internal/stage"
	"specforge/internal/store"
	"specforge/internal/telemetry"
)

var (
	errRunCancelled   = errors.New("run cancelled")
	errOwnershipLost  = errors.New("stage ownership lost")
	errMissingHandler = errors.New("stage handler unavailable")
)

// execute runs a claimed stage and records its outcome. It returns the
// reloaded stage record and the handler's error, if any.
func (m *Manager) execute(ctx context.Context, run *store.PipelineRun, sr *store.StageRun, workerID string) (*store.StageRun, error) {
	ctx = services.WithRunID(ctx, run.ID)
	ctx = services.WithStage(ctx, string(sr.Stage))
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	logger := logging.WithContext(ctx, m.logger).With(logging.String("worker_id", workerID))

	if version := m.specs.ActiveVersion(); version != "" {
		if err := m.store.StampStageVersion(ctx, sr.ID, version); err != nil {
			logger.Warn("failed to stamp stage spec version", logging.Error(err))
		}
	}

	handler := m.handler(sr.Stage)
	if handler == nil {
		err := services.Fail(services.ErrConfiguration, services.CodeConfigurationMismatch, string(sr.Stage),
			fmt.Sprintf("no handler registered for stage %s", sr.Stage), errMissingHandler)
		m.fail(ctx, logger, run, sr, workerID, err)
		return m.reload(ctx, sr), err
	}

	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	m.track(run.ID, cancel)
	defer m.untrack(run.ID)

	hbCtx, hbCancel := context.WithCancel(execCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, sr.ID, workerID, func() { cancel(errOwnershipLost) })

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", sr.Attempts),
	)
	spanCtx, span := m.recorder.StartSpan(execCtx, "stage."+string(sr.Stage),
		attribute.Int64("run_id", run.ID),
		attribute.Int("attempt", sr.Attempts),
	)
	out, execErr := handler.Execute(spanCtx, stage.Env{Run: run, Stage: sr})
	telemetry.EndSpan(span, execErr)
	hbCancel()
	hbWG.Wait()
	elapsed := time.Since(start)

	cause := context.Cause(execCtx)
	switch {
	case errors.Is(cause, errRunCancelled):
		m.reject(ctx, logger, run, sr, workerID)
		m.recorder.StageFinished(ctx, string(sr.Stage), "cancelled", elapsed)
		return m.reload(ctx, sr), services.Fail(services.ErrCancelled, services.CodeRunCancelled, string(sr.Stage),
			fmt.Sprintf("run %d was cancelled", run.ID), nil)
	case ctx.Err() != nil:
		// Shutdown: hand the stage back to the queue for the next daemon.
		m.requeue(ctx, logger, sr, workerID)
		return m.reload(ctx, sr), ctx.Err()
	case errors.Is(cause, errOwnershipLost):
		m.recorder.StageFinished(ctx, string(sr.Stage), "lost", elapsed)
		return m.reload(ctx, sr), services.Fail(services.ErrConflict, services.CodeStageTimeout, string(sr.Stage),
			"stage was reclaimed while running", nil)
	}

	switch {
	case execErr != nil:
		m.fail(ctx, logger, run, sr, workerID, execErr)
		m.recorder.StageFinished(ctx, string(sr.Stage), "failed", elapsed)
		return m.reload(ctx, sr), execErr
	case out.Defer > 0:
		m.deferStage(ctx, logger, sr, workerID, out)
		m.recorder.StageFinished(ctx, string(sr.Stage), "deferred", elapsed)
		return m.reload(ctx, sr), nil
	}
	err := m.succeed(ctx, logger, run, sr, workerID, out)
	outcome := "succeeded"
	if err != nil {
		outcome = "rejected"
	}
	m.recorder.StageFinished(ctx, string(sr.Stage), outcome, elapsed)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("work_ref", out.WorkRef),
		logging.Duration("stage_duration", elapsed),
	)
	return m.reload(ctx, sr), err
}

func (m *Manager) succeed(ctx context.Context, logger *slog.Logger, run *store.PipelineRun, sr *store.StageRun, workerID string, out stage.Outcome) error {
	result, err := out.Encode()
	if err != nil {
		m.fail(ctx, logger, run, sr, workerID, services.Wrap(services.ErrInfrastructure, string(sr.Stage), "encode result", "", err))
		return err
	}
	var rejected, lost, finished bool
	err = m.store.WithTx(ctx, func(q *store.Queries) error {
		rejected, lost, finished = false, false, false
		current, err := q.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if current.Status == store.RunCancelled {
			rejected = true
			return m.rejectTx(ctx, q, run.ID, sr, workerID)
		}
		ok, err := q.FinishStage(ctx, sr.ID, workerID, store.StageOutcome{
			Status:  store.StageSucceeded,
			WorkRef: out.WorkRef,
			Result:  result,
		})
		if err != nil {
			return err
		}
		if !ok {
			lost = true
			return nil
		}
		if next, ok := sr.Stage.Next(); ok {
			if _, err := q.InsertStageIgnoreConflict(ctx, run.ID, next, "", m.specs.ActiveVersion(), time.Time{}); err != nil {
				return err
			}
		} else {
			if _, err := q.UpdateRunStatus(ctx, run.ID, []store.RunStatus{store.RunPending, store.RunRunning}, store.RunSucceeded, "", ""); err != nil {
				return err
			}
			finished = true
			if err := q.AppendAudit(ctx, store.AuditRecord{
				EntityType: store.EntityRun,
				EntityID:   run.ID,
				Action:     ActionRunFinished,
				Actor:      services.ActorFromContext(ctx),
				Payload:    map[string]any{"status": store.RunSucceeded},
			}); err != nil {
				return err
			}
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityStage,
			EntityID:   sr.ID,
			Action:     ActionStageSucceeded,
			Actor:      services.ActorFromContext(ctx),
			Payload:    map[string]any{"run_id": run.ID, "stage": sr.Stage, "work_ref": out.WorkRef, "attempt": sr.Attempts},
		})
	})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to persist stage result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_persist_failed"),
			logging.String(logging.FieldErrorHint, "the stale-stage cleanup will fail this stage"),
		)
		return services.Wrap(services.ErrInfrastructure, string(sr.Stage), "persist result", "", err)
	}
	switch {
	case rejected:
		logging.WarnWithContext(logger, "stage result rejected; run was cancelled", "stage_result_rejected",
			logging.String(logging.FieldImpact, "result discarded"),
		)
		return services.Fail(services.ErrCancelled, services.CodeRunCancelled, string(sr.Stage),
			fmt.Sprintf("run %d was cancelled", run.ID), nil)
	case lost:
		logging.WarnWithContext(logger, "stage result arrived after reclaim", "stage_result_late",
			logging.String(logging.FieldImpact, "result discarded"),
		)
		return services.Fail(services.ErrConflict, services.CodeStageTimeout, string(sr.Stage),
			"stage was reclaimed before its result was recorded", nil)
	}
	m.setLastStage(sr)
	if finished {
		m.notify(ctx, logger, notifications.EventRunSucceeded, notifications.Payload{
			"run_id":     run.ID,
			"window_key": run.WindowKey,
			"work_ref":   out.WorkRef,
		})
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, logger *slog.Logger, run *store.PipelineRun, sr *store.StageRun, workerID string, stageErr error) {
	details := services.ErrorDetails(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = fmt.Sprintf("%s failed", sr.Stage)
	}
	persistCtx := context.WithoutCancel(ctx)
	var runFailed bool
	err := m.store.WithTx(persistCtx, func(q *store.Queries) error {
		runFailed = false
		current, err := q.GetRun(persistCtx, run.ID)
		if err != nil {
			return err
		}
		if current.Status == store.RunCancelled {
			return m.rejectTx(persistCtx, q, run.ID, sr, workerID)
		}
		ok, err := q.FinishStage(persistCtx, sr.ID, workerID, store.StageOutcome{
			Status:       store.StageFailed,
			ErrorCode:    string(details.Code),
			ErrorMessage: message,
		})
		if err != nil || !ok {
			return err
		}
		changed, err := q.UpdateRunStatus(persistCtx, run.ID, []store.RunStatus{store.RunPending, store.RunRunning},
			store.RunFailed, string(details.Code), message)
		if err != nil {
			return err
		}
		runFailed = changed
		return q.AppendAudit(persistCtx, store.AuditRecord{
			EntityType: store.EntityStage,
			EntityID:   sr.ID,
			Action:     ActionStageFailed,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"run_id":     run.ID,
				"stage":      sr.Stage,
				"attempt":    sr.Attempts,
				"error_code": details.Code,
				"message":    message,
			},
		})
	})
	m.setLastError(stageErr)
	attrs := append([]logging.Attr{
		logging.Alert("stage_failure"),
		logging.String(logging.FieldImpact, "run failed; later stages will not start"),
	}, logging.ErrorDetails(stageErr)...)
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
	if err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
		return
	}
	if runFailed {
		m.notify(ctx, logger, notifications.EventRunFailed, notifications.Payload{
			"run_id":     run.ID,
			"window_key": run.WindowKey,
			"stage":      sr.Stage,
			"code":       details.Code,
			"error":      message,
		})
	}
}

func (m *Manager) rejectTx(ctx context.Context, q *store.Queries, runID int64, sr *store.StageRun, workerID string) error {
	ok, err := q.FinishStage(ctx, sr.ID, workerID, store.StageOutcome{
		Status:       store.StageFailed,
		ErrorCode:    string(services.CodeRunCancelled),
		ErrorMessage: "run was cancelled while the stage was running",
	})
	if err != nil || !ok {
		return err
	}
	return q.AppendAudit(ctx, store.AuditRecord{
		EntityType: store.EntityStage,
		EntityID:   sr.ID,
		Action:     ActionStageRejected,
		Actor:      services.ActorFromContext(ctx),
		Payload:    map[string]any{"run_id": runID, "stage": sr.Stage, "error_code": services.CodeRunCancelled},
	})
}

func (m *Manager) reject(ctx context.Context, logger *slog.Logger, run *store.PipelineRun, sr *store.StageRun, workerID string) {
	persistCtx := context.WithoutCancel(ctx)
	err := m.store.WithTx(persistCtx, func(q *store.Queries) error {
		return m.rejectTx(persistCtx, q, run.ID, sr, workerID)
	})
	if err != nil {
		logger.Error("failed to record cancelled stage", logging.Error(err))
		return
	}
	logger.Info("stage interrupted by run cancellation", logging.String(logging.FieldEventType, "stage_cancelled"))
}

func (m *Manager) deferStage(ctx context.Context, logger *slog.Logger, sr *store.StageRun, workerID string, out stage.Outcome) {
	until := m.store.Now().Add(out.Defer)
	err := m.store.WithTx(ctx, func(q *store.Queries) error {
		ok, err := q.DeferStage(ctx, sr.ID, workerID, until, out.Note)
		if err != nil || !ok {
			return err
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityStage,
			EntityID:   sr.ID,
			Action:     ActionStageDeferred,
			Actor:      services.ActorFromContext(ctx),
			Payload:    map[string]any{"run_id": sr.RunID, "stage": sr.Stage, "until": until, "note": out.Note, "work_ref": out.WorkRef},
		})
	})
	if err != nil {
		logger.Error("failed to defer stage", logging.Error(err))
		return
	}
	logger.Info("stage deferred",
		logging.String(logging.FieldEventType, "stage_deferred"),
		logging.String("note", out.Note),
		logging.Duration("defer", out.Defer),
	)
}

func (m *Manager) requeue(ctx context.Context, logger *slog.Logger, sr *store.StageRun, workerID string) {
	persistCtx := context.WithoutCancel(ctx)
	if _, err := m.store.DeferStage(persistCtx, sr.ID, workerID, m.store.Now(), "interrupted by shutdown"); err != nil {
		logger.Warn("failed to requeue interrupted stage", logging.Error(err))
		return
	}
	logger.Debug("stage interrupted by shutdown; requeued")
}

func (m *Manager) reload(ctx context.Context, sr *store.StageRun) *store.StageRun {
	fresh, err := m.store.GetStageByID(context.WithoutCancel(ctx), sr.ID)
	if err != nil {
		return sr
	}
	return fresh
}

func (m *Manager) track(runID int64, cancel context.CancelCauseFunc) {
	m.mu.Lock()
	m.inflight[runID] = cancel
	m.mu.Unlock()
}

func (m *Manager) untrack(runID int64) {
	m.mu.Lock()
	delete(m.inflight, runID)
	m.mu.Unlock()
}

func (m *Manager) interrupt(runID int64) bool {
	m.mu.RLock()
	cancel, ok := m.inflight[runID]
	m.mu.RUnlock()
	if ok {
		cancel(errRunCancelled)
	}
	return ok
}
