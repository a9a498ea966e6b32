package store

import (
	"context"
	"fmt"
	"strings"
)

const gapColumns = `g.id, g.gap_key, g.feature, g.reason, g.impact, g.spec_version, g.status,
	g.implemented_in_version, g.created_at, g.updated_at,
	(SELECT COUNT(*) FROM gap_links l WHERE l.gap_id = g.id) AS linked_candidates`

// NewGap holds the fields for a gap discovered during verification.
type NewGap struct {
	GapKey      string
	Feature     string
	Reason      string
	Impact      string
	SpecVersion string
}

// InsertGapIgnoreConflict inserts a gap keyed by GapKey, leaving any existing
// row untouched. It returns the stored gap and whether this call created it.
func (q *Queries) InsertGapIgnoreConflict(ctx context.Context, in NewGap) (*Gap, bool, error) {
	now := formatTime(q.now())
	res, err := q.exec(ctx,
		`INSERT INTO gaps (gap_key, feature, reason, impact, spec_version, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (gap_key) DO NOTHING`,
		in.GapKey, in.Feature, in.Reason, in.Impact, in.SpecVersion, GapNew, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert gap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert gap: %w", err)
	}
	gap, err := q.GetGapByKey(ctx, in.GapKey)
	if err != nil {
		return nil, false, err
	}
	return gap, n > 0, nil
}

// GetGap fetches a gap by id.
func (q *Queries) GetGap(ctx context.Context, id int64) (*Gap, error) {
	var g Gap
	if err := q.get(ctx, &g, `SELECT `+gapColumns+` FROM gaps g WHERE g.id = ?`, id); err != nil {
		return nil, mapGetErr(err, "gap", id)
	}
	return &g, nil
}

// GetGapByKey fetches a gap by its content-derived key.
func (q *Queries) GetGapByKey(ctx context.Context, key string) (*Gap, error) {
	var g Gap
	if err := q.get(ctx, &g, `SELECT `+gapColumns+` FROM gaps g WHERE g.gap_key = ?`, key); err != nil {
		return nil, mapGetErr(err, "gap", key)
	}
	return &g, nil
}

// GapFilter narrows ListGaps.
type GapFilter struct {
	Status      []GapStatus
	SpecVersion string
	Impact      string
	Limit       int
}

// ListGaps returns gaps ordered by linked candidate count, then id.
func (q *Queries) ListGaps(ctx context.Context, filter GapFilter) ([]*Gap, error) {
	query := `SELECT ` + gapColumns + ` FROM gaps g`
	var (
		where []string
		args  []any
	)
	if len(filter.Status) > 0 {
		where = append(where, "g.status IN ("+makePlaceholders(len(filter.Status))+")")
		args = append(args, stringArgs(filter.Status)...)
	}
	if filter.SpecVersion != "" {
		where = append(where, "g.spec_version = ?")
		args = append(args, filter.SpecVersion)
	}
	if filter.Impact != "" {
		where = append(where, "g.impact = ?")
		args = append(args, filter.Impact)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY linked_candidates DESC, g.id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	var out []*Gap
	if err := q.selectAll(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	return out, nil
}

// UpdateGapStatus moves a gap from one status to another. It returns false
// when the gap was no longer in from.
func (q *Queries) UpdateGapStatus(ctx context.Context, id int64, from, to GapStatus, implementedIn string) (bool, error) {
	ok, err := q.execAffected(ctx,
		`UPDATE gaps SET status = ?, implemented_in_version = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, implementedIn, formatTime(q.now()), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update gap %d: %w", id, err)
	}
	return ok, nil
}

// GapStats summarizes gaps by status and impact.
type GapStats struct {
	Total    int               `json:"total"`
	ByStatus map[GapStatus]int `json:"by_status"`
	ByImpact map[string]int    `json:"by_impact"`
	Linked   int               `json:"linked_candidates"`
	// Introduced counts gaps by the spec version they were detected under.
	Introduced map[string]int `json:"introduced"`
	// Resolved counts implemented gaps by the version that implemented them.
	Resolved map[string]int `json:"resolved"`
}

// GapStats tallies gaps.
func (q *Queries) GapStats(ctx context.Context) (GapStats, error) {
	stats := GapStats{
		ByStatus:   map[GapStatus]int{},
		ByImpact:   map[string]int{},
		Introduced: map[string]int{},
		Resolved:   map[string]int{},
	}
	var rows []struct {
		Status        string `db:"status"`
		Impact        string `db:"impact"`
		SpecVersion   string `db:"spec_version"`
		ImplementedIn string `db:"implemented_in_version"`
		N             int    `db:"n"`
	}
	if err := q.selectAll(ctx, &rows,
		`SELECT status, impact, spec_version, implemented_in_version, COUNT(*) AS n
		FROM gaps GROUP BY status, impact, spec_version, implemented_in_version`,
	); err != nil {
		return stats, fmt.Errorf("gap stats: %w", err)
	}
	for _, r := range rows {
		stats.Total += r.N
		stats.ByStatus[GapStatus(r.Status)] += r.N
		stats.ByImpact[r.Impact] += r.N
		stats.Introduced[r.SpecVersion] += r.N
		if GapStatus(r.Status) == GapImplemented && r.ImplementedIn != "" {
			stats.Resolved[r.ImplementedIn] += r.N
		}
	}
	if err := q.get(ctx, &stats.Linked, `SELECT COUNT(DISTINCT candidate_id) FROM gap_links`); err != nil {
		return stats, fmt.Errorf("gap stats: %w", err)
	}
	return stats, nil
}

// LinkGap records that gapID blocks candidateID. Existing links are kept.
func (q *Queries) LinkGap(ctx context.Context, candidateID, gapID int64) error {
	if _, err := q.exec(ctx,
		`INSERT INTO gap_links (candidate_id, gap_id, detected_at) VALUES (?, ?, ?)
		ON CONFLICT (candidate_id, gap_id) DO NOTHING`,
		candidateID, gapID, formatTime(q.now()),
	); err != nil {
		return fmt.Errorf("link gap %d to candidate %d: %w", gapID, candidateID, err)
	}
	return nil
}

// LinkedGaps returns the gaps linked to a candidate.
func (q *Queries) LinkedGaps(ctx context.Context, candidateID int64) ([]*Gap, error) {
	var out []*Gap
	if err := q.selectAll(ctx, &out,
		`SELECT `+gapColumns+` FROM gaps g JOIN gap_links gl ON gl.gap_id = g.id
		WHERE gl.candidate_id = ? ORDER BY g.id`,
		candidateID,
	); err != nil {
		return nil, fmt.Errorf("linked gaps for candidate %d: %w", candidateID, err)
	}
	return out, nil
}

// ActiveGapCount counts gaps linked to the candidate that are not implemented.
func (q *Queries) ActiveGapCount(ctx context.Context, candidateID int64) (int, error) {
	var n int
	if err := q.get(ctx, &n,
		`SELECT COUNT(*) FROM gap_links gl JOIN gaps g ON g.id = gl.gap_id
		WHERE gl.candidate_id = ? AND g.status <> ?`,
		candidateID, GapImplemented,
	); err != nil {
		return 0, fmt.Errorf("count active gaps for candidate %d: %w", candidateID, err)
	}
	return n, nil
}

// LinkedCandidateIDs returns the candidates blocked by a gap.
func (q *Queries) LinkedCandidateIDs(ctx context.Context, gapID int64) ([]int64, error) {
	var ids []int64
	if err := q.selectAll(ctx, &ids,
		`SELECT candidate_id FROM gap_links WHERE gap_id = ? ORDER BY candidate_id`, gapID,
	); err != nil {
		return nil, fmt.Errorf("linked candidates for gap %d: %w", gapID, err)
	}
	return ids, nil
}

// EnqueueReverify schedules a candidate for re-verification after gapID changed.
func (q *Queries) EnqueueReverify(ctx context.Context, candidateID, gapID int64) error {
	if _, err := q.exec(ctx,
		`INSERT INTO reverify_queue (candidate_id, gap_id, enqueued_at) VALUES (?, ?, ?)`,
		candidateID, gapID, formatTime(q.now()),
	); err != nil {
		return fmt.Errorf("enqueue reverify for candidate %d: %w", candidateID, err)
	}
	return nil
}

// PendingReverify returns unprocessed re-verification entries, oldest first.
func (q *Queries) PendingReverify(ctx context.Context, limit int) ([]*ReverifyEntry, error) {
	query := `SELECT id, candidate_id, gap_id, enqueued_at, processed_at FROM reverify_queue
		WHERE processed_at IS NULL ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var out []*ReverifyEntry
	if err := q.selectAll(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("pending reverify: %w", err)
	}
	return out, nil
}

// MarkReverifyProcessed stamps a re-verification entry as handled.
func (q *Queries) MarkReverifyProcessed(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx,
		`UPDATE reverify_queue SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		formatTime(q.now()), id,
	); err != nil {
		return fmt.Errorf("mark reverify %d processed: %w", id, err)
	}
	return nil
}
