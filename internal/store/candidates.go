package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const candidateColumns = `id, title, summary, expected_outcome, source, similarity_status,
	similarity_score, similar_to_id, capability_status, decision_status, spec_version,
	verify_claim, claimed_at, verified_at, verify_confidence, verify_report, created_at, updated_at`

// NewCandidate holds the caller-supplied fields for a candidate.
type NewCandidate struct {
	Title            string
	Summary          string
	ExpectedOutcome  string
	Source           string
	SimilarityStatus SimilarityStatus
	SimilarityScore  float64
	SimilarToID      int64
}

// InsertCandidate stores a new unverified candidate.
func (q *Queries) InsertCandidate(ctx context.Context, in NewCandidate) (*Candidate, error) {
	now := formatTime(q.now())
	if in.SimilarityStatus == "" {
		in.SimilarityStatus = SimilarityUnknown
	}
	id, err := q.insertID(ctx,
		`INSERT INTO candidates (title, summary, expected_outcome, source, similarity_status,
			similarity_score, similar_to_id, capability_status, decision_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		in.Title, in.Summary, in.ExpectedOutcome, in.Source, in.SimilarityStatus,
		in.SimilarityScore, in.SimilarToID, CapabilityUnverified, DecisionNew, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert candidate: %w", err)
	}
	return q.GetCandidate(ctx, id)
}

// GetCandidate fetches a candidate by id.
func (q *Queries) GetCandidate(ctx context.Context, id int64) (*Candidate, error) {
	var c Candidate
	if err := q.get(ctx, &c, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err, "candidate", id)
	}
	return &c, nil
}

// CandidateFilter narrows ListCandidates.
type CandidateFilter struct {
	Capability []CapabilityStatus
	Decision   []DecisionStatus
	Limit      int
}

// ListCandidates returns candidates ordered by id.
func (q *Queries) ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates`
	var (
		where []string
		args  []any
	)
	if len(filter.Capability) > 0 {
		where = append(where, "capability_status IN ("+makePlaceholders(len(filter.Capability))+")")
		args = append(args, stringArgs(filter.Capability)...)
	}
	if len(filter.Decision) > 0 {
		where = append(where, "decision_status IN ("+makePlaceholders(len(filter.Decision))+")")
		args = append(args, stringArgs(filter.Decision)...)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	var out []*Candidate
	if err := q.selectAll(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// CandidateTexts returns id and title plus summary for every candidate, used
// for similarity checks against new submissions.
func (q *Queries) CandidateTexts(ctx context.Context) ([]int64, []string, error) {
	var rows []struct {
		ID      int64  `db:"id"`
		Title   string `db:"title"`
		Summary string `db:"summary"`
	}
	if err := q.selectAll(ctx, &rows, `SELECT id, title, summary FROM candidates ORDER BY id`); err != nil {
		return nil, nil, fmt.Errorf("list candidate texts: %w", err)
	}
	ids := make([]int64, len(rows))
	texts := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		texts[i] = r.Title + " " + r.Summary
	}
	return ids, texts, nil
}

// ClaimCandidateForVerify marks an unverified, unclaimed candidate as being
// verified by token. It returns false when another verifier holds the claim
// or the candidate is no longer unverified.
func (q *Queries) ClaimCandidateForVerify(ctx context.Context, id int64, token string) (bool, error) {
	now := formatTime(q.now())
	ok, err := q.execAffected(ctx,
		`UPDATE candidates SET verify_claim = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND capability_status = ? AND verify_claim = ''`,
		token, now, now, id, CapabilityUnverified,
	)
	if err != nil {
		return false, fmt.Errorf("claim candidate %d: %w", id, err)
	}
	return ok, nil
}

// ReleaseVerifyClaim drops a claim held by token without changing status.
func (q *Queries) ReleaseVerifyClaim(ctx context.Context, id int64, token string) error {
	if _, err := q.exec(ctx,
		`UPDATE candidates SET verify_claim = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND verify_claim = ?`,
		formatTime(q.now()), id, token,
	); err != nil {
		return fmt.Errorf("release claim on candidate %d: %w", id, err)
	}
	return nil
}

// ReleaseStaleClaims drops verification claims taken before cutoff.
func (q *Queries) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.exec(ctx,
		`UPDATE candidates SET verify_claim = '', claimed_at = NULL, updated_at = ?
		WHERE verify_claim <> '' AND claimed_at IS NOT NULL AND claimed_at < ?`,
		formatTime(q.now()), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}

// ListUnverifiedCandidateIDs returns unclaimed unverified candidates, oldest first.
func (q *Queries) ListUnverifiedCandidateIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `SELECT id FROM candidates WHERE capability_status = ? AND verify_claim = '' ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var ids []int64
	if err := q.selectAll(ctx, &ids, query, CapabilityUnverified); err != nil {
		return nil, fmt.Errorf("list unverified candidates: %w", err)
	}
	return ids, nil
}

// CapabilityResult is the persisted outcome of one verification.
type CapabilityResult struct {
	Status      CapabilityStatus
	SpecVersion string
	Confidence  float64
	Report      string
}

// SetCandidateCapability records a verification outcome when token still holds
// the claim. It returns false when the claim was lost.
func (q *Queries) SetCandidateCapability(ctx context.Context, id int64, token string, result CapabilityResult) (bool, error) {
	now := formatTime(q.now())
	ok, err := q.execAffected(ctx,
		`UPDATE candidates SET capability_status = ?, spec_version = ?, verify_confidence = ?,
			verify_report = ?, verified_at = ?, verify_claim = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND verify_claim = ?`,
		result.Status, result.SpecVersion, result.Confidence, result.Report, now, now, id, token,
	)
	if err != nil {
		return false, fmt.Errorf("set capability for candidate %d: %w", id, err)
	}
	return ok, nil
}

// ResetCandidateForReverify returns a verified candidate to unverified so the
// verifier picks it up again. Claimed candidates are left alone.
func (q *Queries) ResetCandidateForReverify(ctx context.Context, id int64) (bool, error) {
	ok, err := q.execAffected(ctx,
		`UPDATE candidates SET capability_status = ?, updated_at = ?
		WHERE id = ? AND verify_claim = '' AND capability_status <> ?`,
		CapabilityUnverified, formatTime(q.now()), id, CapabilityUnverified,
	)
	if err != nil {
		return false, fmt.Errorf("reset candidate %d: %w", id, err)
	}
	return ok, nil
}

// SetCandidateDecision moves a candidate from one decision status to another.
// It returns false when the candidate was not in from.
func (q *Queries) SetCandidateDecision(ctx context.Context, id int64, from []DecisionStatus, to DecisionStatus) (bool, error) {
	args := []any{to, formatTime(q.now()), id}
	args = append(args, stringArgs(from)...)
	ok, err := q.execAffected(ctx,
		`UPDATE candidates SET decision_status = ?, updated_at = ?
		WHERE id = ? AND decision_status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("set decision for candidate %d: %w", id, err)
	}
	return ok, nil
}

// EligibleCandidateIDs returns feasible candidates awaiting a decision.
func (q *Queries) EligibleCandidateIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := q.selectAll(ctx, &ids,
		`SELECT id FROM candidates WHERE capability_status = ? AND decision_status IN (?, ?) ORDER BY id`,
		CapabilityFeasible, DecisionNew, DecisionLater,
	); err != nil {
		return nil, fmt.Errorf("list eligible candidates: %w", err)
	}
	return ids, nil
}

// DeleteRejectedCandidates removes rejected candidates that never became ideas
// and returns their ids.
func (q *Queries) DeleteRejectedCandidates(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := q.selectAll(ctx, &ids,
		`SELECT id FROM candidates WHERE decision_status = ?
		AND id NOT IN (SELECT candidate_id FROM ideas) ORDER BY id`,
		DecisionRejected,
	); err != nil {
		return nil, fmt.Errorf("list rejected candidates: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := makePlaceholders(len(ids))
	if _, err := q.exec(ctx, `DELETE FROM gap_links WHERE candidate_id IN (`+placeholders+`)`, args...); err != nil {
		return nil, fmt.Errorf("delete rejected gap links: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM reverify_queue WHERE candidate_id IN (`+placeholders+`)`, args...); err != nil {
		return nil, fmt.Errorf("delete rejected reverify entries: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM candidates WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return nil, fmt.Errorf("delete rejected candidates: %w", err)
	}
	return ids, nil
}

// CandidateCounts summarizes candidates by capability and decision status.
type CandidateCounts struct {
	Capability map[CapabilityStatus]int `json:"capability"`
	Decision   map[DecisionStatus]int   `json:"decision"`
}

// CountCandidates tallies candidates by status.
func (q *Queries) CountCandidates(ctx context.Context) (CandidateCounts, error) {
	counts := CandidateCounts{
		Capability: map[CapabilityStatus]int{},
		Decision:   map[DecisionStatus]int{},
	}
	var capRows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := q.selectAll(ctx, &capRows, `SELECT capability_status AS status, COUNT(*) AS n FROM candidates GROUP BY capability_status`); err != nil {
		return counts, fmt.Errorf("count candidates: %w", err)
	}
	for _, r := range capRows {
		counts.Capability[CapabilityStatus(r.Status)] = r.N
	}
	var decRows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := q.selectAll(ctx, &decRows, `SELECT decision_status AS status, COUNT(*) AS n FROM candidates GROUP BY decision_status`); err != nil {
		return counts, fmt.Errorf("count candidates: %w", err)
	}
	for _, r := range decRows {
		counts.Decision[DecisionStatus(r.Status)] = r.N
	}
	return counts, nil
}
