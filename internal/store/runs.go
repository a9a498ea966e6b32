package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const runColumns = `id, window_key, status, params, spec_version, error_code, error_message,
	created_at, updated_at, finished_at`

// InsertRunIgnoreConflict creates a run for windowKey unless one exists. It
// returns the stored run and whether this call created it.
func (q *Queries) InsertRunIgnoreConflict(ctx context.Context, windowKey string, params RunParams, specVersion string) (*PipelineRun, bool, error) {
	raw, err := encodeJSON(params)
	if err != nil {
		return nil, false, err
	}
	now := formatTime(q.now())
	res, err := q.exec(ctx,
		`INSERT INTO pipeline_runs (window_key, status, params, spec_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (window_key) DO NOTHING`,
		windowKey, RunPending, raw, specVersion, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert run %q: %w", windowKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert run %q: %w", windowKey, err)
	}
	run, err := q.GetRunByWindow(ctx, windowKey)
	if err != nil {
		return nil, false, err
	}
	return run, n > 0, nil
}

// GetRun fetches a run by id.
func (q *Queries) GetRun(ctx context.Context, id int64) (*PipelineRun, error) {
	var r PipelineRun
	if err := q.get(ctx, &r, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err, "run", id)
	}
	return &r, nil
}

// GetRunByWindow fetches a run by its idempotency key.
func (q *Queries) GetRunByWindow(ctx context.Context, windowKey string) (*PipelineRun, error) {
	var r PipelineRun
	if err := q.get(ctx, &r, `SELECT `+runColumns+` FROM pipeline_runs WHERE window_key = ?`, windowKey); err != nil {
		return nil, mapGetErr(err, "run", windowKey)
	}
	return &r, nil
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status []RunStatus
	Limit  int
}

// ListRuns returns runs, newest first.
func (q *Queries) ListRuns(ctx context.Context, filter RunFilter) ([]*PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	var args []any
	if len(filter.Status) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(filter.Status)) + ")"
		args = stringArgs(filter.Status)
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	var out []*PipelineRun
	if err := q.selectAll(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// UpdateRunStatus moves a run out of one of the from statuses. Terminal
// statuses stamp finished_at. It returns false when the run was not in from.
func (q *Queries) UpdateRunStatus(ctx context.Context, id int64, from []RunStatus, to RunStatus, code, message string) (bool, error) {
	now := formatTime(q.now())
	var finished any
	if to.IsTerminal() {
		finished = now
	}
	args := []any{to, code, message, now, finished, id}
	args = append(args, stringArgs(from)...)
	ok, err := q.execAffected(ctx,
		`UPDATE pipeline_runs SET status = ?, error_code = ?, error_message = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update run %d status: %w", id, err)
	}
	return ok, nil
}

const stageColumns = `id, run_id, stage, status, attempts, work_ref, result, error_code, error_message,
	worker_id, spec_version, heartbeat_at, available_at, started_at, finished_at, created_at, updated_at`

// InsertStageIgnoreConflict queues a stage for a run unless it already exists.
// It returns whether this call created it.
func (q *Queries) InsertStageIgnoreConflict(ctx context.Context, runID int64, stage StageName, workRef, specVersion string, availableAt time.Time) (bool, error) {
	now := q.now()
	if availableAt.IsZero() {
		availableAt = now
	}
	ok, err := q.execAffected(ctx,
		`INSERT INTO stage_runs (run_id, stage, status, work_ref, spec_version, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (run_id, stage) DO NOTHING`,
		runID, stage, StageQueued, workRef, specVersion, formatTime(availableAt), formatTime(now), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("insert %s stage for run %d: %w", stage, runID, err)
	}
	return ok, nil
}

// GetStage fetches the stage record of a run.
func (q *Queries) GetStage(ctx context.Context, runID int64, stage StageName) (*StageRun, error) {
	var s StageRun
	if err := q.get(ctx, &s, `SELECT `+stageColumns+` FROM stage_runs WHERE run_id = ? AND stage = ?`, runID, stage); err != nil {
		return nil, mapGetErr(err, "stage", fmt.Sprintf("%d/%s", runID, stage))
	}
	return &s, nil
}

// GetStageByID fetches a stage record by id.
func (q *Queries) GetStageByID(ctx context.Context, id int64) (*StageRun, error) {
	var s StageRun
	if err := q.get(ctx, &s, `SELECT `+stageColumns+` FROM stage_runs WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err, "stage", id)
	}
	return &s, nil
}

// ListStages returns a run's stages in creation order.
func (q *Queries) ListStages(ctx context.Context, runID int64) ([]*StageRun, error) {
	var out []*StageRun
	if err := q.selectAll(ctx, &out, `SELECT `+stageColumns+` FROM stage_runs WHERE run_id = ? ORDER BY id`, runID); err != nil {
		return nil, fmt.Errorf("list stages for run %d: %w", runID, err)
	}
	return out, nil
}

const claimAttempts = 3

// ClaimNextStage moves the oldest available queued stage of an active run to
// running for workerID. It returns nil when nothing is ready.
func (q *Queries) ClaimNextStage(ctx context.Context, workerID string) (*StageRun, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		now := formatTime(q.now())
		var ids []int64
		if err := q.selectAll(ctx, &ids,
			`SELECT s.id FROM stage_runs s JOIN pipeline_runs r ON r.id = s.run_id
			WHERE s.status = ? AND s.available_at <= ? AND r.status IN (?, ?)
			ORDER BY s.available_at, s.id LIMIT 1`,
			StageQueued, now, RunPending, RunRunning,
		); err != nil {
			return nil, fmt.Errorf("find queued stage: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		ok, err := q.execAffected(ctx,
			`UPDATE stage_runs SET status = ?, worker_id = ?, attempts = attempts + 1, started_at = ?,
				heartbeat_at = ?, error_code = '', error_message = '', updated_at = ?
			WHERE id = ? AND status = ?`,
			StageRunning, workerID, now, now, now, ids[0], StageQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim stage %d: %w", ids[0], err)
		}
		if !ok {
			continue
		}
		stage, err := q.GetStageByID(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		if _, err := q.UpdateRunStatus(ctx, stage.RunID, []RunStatus{RunPending}, RunRunning, "", ""); err != nil {
			return nil, err
		}
		return stage, nil
	}
	return nil, nil
}

// ClaimStage moves one specific queued stage to running for workerID,
// ignoring its availability time. It returns false when the stage is not queued.
func (q *Queries) ClaimStage(ctx context.Context, id int64, workerID string) (bool, error) {
	now := formatTime(q.now())
	ok, err := q.execAffected(ctx,
		`UPDATE stage_runs SET status = ?, worker_id = ?, attempts = attempts + 1, started_at = ?,
			heartbeat_at = ?, error_code = '', error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		StageRunning, workerID, now, now, now, id, StageQueued,
	)
	if err != nil {
		return false, fmt.Errorf("claim stage %d: %w", id, err)
	}
	return ok, nil
}

// StampStageVersion records the spec version a running stage executes against.
func (q *Queries) StampStageVersion(ctx context.Context, id int64, specVersion string) error {
	if _, err := q.exec(ctx,
		`UPDATE stage_runs SET spec_version = ?, updated_at = ? WHERE id = ?`,
		specVersion, formatTime(q.now()), id,
	); err != nil {
		return fmt.Errorf("stamp stage %d version: %w", id, err)
	}
	return nil
}

// DeferStage returns a running stage to the queue until availableAt. The
// deferral does not count as an attempt.
func (q *Queries) DeferStage(ctx context.Context, id int64, workerID string, availableAt time.Time, note string) (bool, error) {
	ok, err := q.execAffected(ctx,
		`UPDATE stage_runs SET status = ?, worker_id = '', heartbeat_at = NULL, available_at = ?,
			attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END, result = ?, updated_at = ?
		WHERE id = ? AND status = ? AND worker_id = ?`,
		StageQueued, formatTime(availableAt), note, formatTime(q.now()), id, StageRunning, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("defer stage %d: %w", id, err)
	}
	return ok, nil
}

// StageOutcome is the terminal record of a stage execution.
type StageOutcome struct {
	Status       StageStatus
	WorkRef      string
	Result       string
	ErrorCode    string
	ErrorMessage string
}

// FinishStage records a terminal outcome when workerID still owns the
// running stage. It returns false for late results from a reclaimed worker.
func (q *Queries) FinishStage(ctx context.Context, id int64, workerID string, out StageOutcome) (bool, error) {
	now := formatTime(q.now())
	ok, err := q.execAffected(ctx,
		`UPDATE stage_runs SET status = ?, work_ref = CASE WHEN ? <> '' THEN ? ELSE work_ref END,
			result = ?, error_code = ?, error_message = ?, finished_at = ?, heartbeat_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND worker_id = ?`,
		out.Status, out.WorkRef, out.WorkRef, out.Result, out.ErrorCode, out.ErrorMessage, now, now,
		id, StageRunning, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("finish stage %d: %w", id, err)
	}
	return ok, nil
}

// HeartbeatStage refreshes the heartbeat of a running stage owned by workerID.
func (q *Queries) HeartbeatStage(ctx context.Context, id int64, workerID string) (bool, error) {
	now := formatTime(q.now())
	ok, err := q.execAffected(ctx,
		`UPDATE stage_runs SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = ? AND worker_id = ?`,
		now, now, id, StageRunning, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat stage %d: %w", id, err)
	}
	return ok, nil
}

// ReclaimStaleStages fails running stages whose heartbeat is older than cutoff
// and returns them.
func (q *Queries) ReclaimStaleStages(ctx context.Context, cutoff time.Time, code, message string) ([]*StageRun, error) {
	var stale []*StageRun
	if err := q.selectAll(ctx, &stale,
		`SELECT `+stageColumns+` FROM stage_runs
		WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?) ORDER BY id`,
		StageRunning, formatTime(cutoff),
	); err != nil {
		return nil, fmt.Errorf("find stale stages: %w", err)
	}
	reclaimed := make([]*StageRun, 0, len(stale))
	for _, s := range stale {
		ok, err := q.FinishStage(ctx, s.ID, s.WorkerID, StageOutcome{
			Status:       StageFailed,
			ErrorCode:    code,
			ErrorMessage: message,
		})
		if err != nil {
			return reclaimed, err
		}
		if ok {
			s.Status = StageFailed
			s.ErrorCode = code
			s.ErrorMessage = message
			reclaimed = append(reclaimed, s)
		}
	}
	return reclaimed, nil
}

// RetryStage requeues a failed stage. It returns false when the stage is not failed.
func (q *Queries) RetryStage(ctx context.Context, runID int64, stage StageName) (bool, error) {
	now := formatTime(q.now())
	ok, err := q.execAffected(ctx,
		`UPDATE stage_runs SET status = ?, worker_id = '', error_code = '', error_message = '',
			finished_at = NULL, heartbeat_at = NULL, available_at = ?, updated_at = ?
		WHERE run_id = ? AND stage = ? AND status = ?`,
		StageQueued, now, now, runID, stage, StageFailed,
	)
	if err != nil {
		return false, fmt.Errorf("retry %s stage of run %d: %w", stage, runID, err)
	}
	return ok, nil
}

// StageCounts tallies stages by status across all runs.
func (q *Queries) StageCounts(ctx context.Context) (map[StageStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := q.selectAll(ctx, &rows, `SELECT status, COUNT(*) AS n FROM stage_runs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count stages: %w", err)
	}
	out := make(map[StageStatus]int, len(rows))
	for _, r := range rows {
		out[StageStatus(strings.TrimSpace(r.Status))] = r.N
	}
	return out, nil
}
