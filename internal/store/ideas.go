package store

import (
	"context"
	"fmt"
)

const ideaColumns = `id, candidate_id, round_id, run_id, spec_version, compile_status,
	compilation_id, render_status, created_at, updated_at`

// InsertIdea promotes a picked candidate.
func (q *Queries) InsertIdea(ctx context.Context, candidateID, roundID, runID int64, specVersion string) (*Idea, error) {
	now := formatTime(q.now())
	id, err := q.insertID(ctx,
		`INSERT INTO ideas (candidate_id, round_id, run_id, spec_version, compile_status, render_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		candidateID, roundID, runID, specVersion, CompileNotStarted, RenderNone, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert idea for candidate %d: %w", candidateID, err)
	}
	return q.GetIdea(ctx, id)
}

// GetIdea fetches an idea by id.
func (q *Queries) GetIdea(ctx context.Context, id int64) (*Idea, error) {
	var idea Idea
	if err := q.get(ctx, &idea, `SELECT `+ideaColumns+` FROM ideas WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err, "idea", id)
	}
	return &idea, nil
}

// GetIdeaByCandidate fetches the idea promoted from a candidate.
func (q *Queries) GetIdeaByCandidate(ctx context.Context, candidateID int64) (*Idea, error) {
	var idea Idea
	if err := q.get(ctx, &idea, `SELECT `+ideaColumns+` FROM ideas WHERE candidate_id = ?`, candidateID); err != nil {
		return nil, mapGetErr(err, "idea for candidate", candidateID)
	}
	return &idea, nil
}

// GetIdeaByRun fetches the idea picked during a run.
func (q *Queries) GetIdeaByRun(ctx context.Context, runID int64) (*Idea, error) {
	var idea Idea
	if err := q.get(ctx, &idea, `SELECT `+ideaColumns+` FROM ideas WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID); err != nil {
		return nil, mapGetErr(err, "idea for run", runID)
	}
	return &idea, nil
}

// ListIdeas returns ideas, newest first.
func (q *Queries) ListIdeas(ctx context.Context, limit int) ([]*Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var out []*Idea
	if err := q.selectAll(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	return out, nil
}

// UpdateIdeaCompile records the latest compilation outcome for an idea.
func (q *Queries) UpdateIdeaCompile(ctx context.Context, id int64, status CompileStatus, compilationID int64) error {
	if _, err := q.exec(ctx,
		`UPDATE ideas SET compile_status = ?, compilation_id = ?, updated_at = ? WHERE id = ?`,
		status, compilationID, formatTime(q.now()), id,
	); err != nil {
		return fmt.Errorf("update idea %d compile status: %w", id, err)
	}
	return nil
}

// UpdateIdeaRender records the render handoff outcome for an idea.
func (q *Queries) UpdateIdeaRender(ctx context.Context, id int64, status RenderStatus) error {
	if _, err := q.exec(ctx,
		`UPDATE ideas SET render_status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(q.now()), id,
	); err != nil {
		return fmt.Errorf("update idea %d render status: %w", id, err)
	}
	return nil
}

const roundColumns = `id, run_id, sampled_ids, status, picked_candidate_id, created_at, decided_at`

// InsertRound opens a decision round over the sampled candidates.
func (q *Queries) InsertRound(ctx context.Context, runID int64, sampled []int64) (*DecisionRound, error) {
	if sampled == nil {
		sampled = []int64{}
	}
	raw, err := encodeJSON(sampled)
	if err != nil {
		return nil, err
	}
	id, err := q.insertID(ctx,
		`INSERT INTO decision_rounds (run_id, sampled_ids, status, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		runID, raw, RoundOpen, formatTime(q.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision round: %w", err)
	}
	return q.GetRound(ctx, id)
}

// GetRound fetches a decision round by id.
func (q *Queries) GetRound(ctx context.Context, id int64) (*DecisionRound, error) {
	var r DecisionRound
	if err := q.get(ctx, &r, `SELECT `+roundColumns+` FROM decision_rounds WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err, "decision round", id)
	}
	return &r, nil
}

// GetRoundByRun fetches the most recent round opened for a run.
func (q *Queries) GetRoundByRun(ctx context.Context, runID int64) (*DecisionRound, error) {
	var r DecisionRound
	if err := q.get(ctx, &r,
		`SELECT `+roundColumns+` FROM decision_rounds WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID,
	); err != nil {
		return nil, mapGetErr(err, "decision round for run", runID)
	}
	return &r, nil
}

// MarkRoundDecided closes an open round. It returns false when the round was
// already decided.
func (q *Queries) MarkRoundDecided(ctx context.Context, id, pickedCandidateID int64) (bool, error) {
	ok, err := q.execAffected(ctx,
		`UPDATE decision_rounds SET status = ?, picked_candidate_id = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		RoundDecided, pickedCandidateID, formatTime(q.now()), id, RoundOpen,
	)
	if err != nil {
		return false, fmt.Errorf("decide round %d: %w", id, err)
	}
	return ok, nil
}

const compilationColumns = `id, idea_id, status, spec_version, seed, content_hash, document,
	artifact_path, reports, backend_calls, degraded, error_code, error_message, created_at`

// InsertCompilation persists a compilation outcome.
func (q *Queries) InsertCompilation(ctx context.Context, c Compilation) (*Compilation, error) {
	id, err := q.insertID(ctx,
		`INSERT INTO compilations (idea_id, status, spec_version, seed, content_hash, document,
			artifact_path, reports, backend_calls, degraded, error_code, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		c.IdeaID, c.Status, c.SpecVersion, c.Seed, c.ContentHash, c.Document,
		c.ArtifactPath, c.Reports, c.BackendCalls, boolToInt(c.Degraded), c.ErrorCode, c.ErrorMessage,
		formatTime(q.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert compilation for idea %d: %w", c.IdeaID, err)
	}
	return q.GetCompilation(ctx, id)
}

// GetCompilation fetches a compilation by id.
func (q *Queries) GetCompilation(ctx context.Context, id int64) (*Compilation, error) {
	var c Compilation
	if err := q.get(ctx, &c, `SELECT `+compilationColumns+` FROM compilations WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err, "compilation", id)
	}
	return &c, nil
}

// LatestCompilationForIdea fetches the newest compilation of an idea.
func (q *Queries) LatestCompilationForIdea(ctx context.Context, ideaID int64) (*Compilation, error) {
	var c Compilation
	if err := q.get(ctx, &c,
		`SELECT `+compilationColumns+` FROM compilations WHERE idea_id = ? ORDER BY id DESC LIMIT 1`, ideaID,
	); err != nil {
		return nil, mapGetErr(err, "compilation for idea", ideaID)
	}
	return &c, nil
}
