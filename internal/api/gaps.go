package api

import (
	"context"

	"specforge/internal/store"
)

// ListGaps returns gaps matching filter, most linked first.
func (s *Service) ListGaps(ctx context.Context, filter store.GapFilter) ([]*store.Gap, error) {
	out, err := s.gaps.List(ctx, filter)
	return out, wrapStore("list gaps", err)
}

// GapDetail is a gap with the candidates it blocks.
type GapDetail struct {
	Gap        *store.Gap `json:"gap"`
	Candidates []int64    `json:"candidate_ids"`
}

// GetGap loads a gap and its linked candidate ids.
func (s *Service) GetGap(ctx context.Context, id int64) (*GapDetail, error) {
	g, err := s.gaps.Get(ctx, id)
	if err != nil {
		return nil, wrapStore("get gap", err)
	}
	ids, err := s.store.LinkedCandidateIDs(ctx, id)
	if err != nil {
		return nil, wrapStore("linked candidates", err)
	}
	return &GapDetail{Gap: g, Candidates: ids}, nil
}

// SetGapStatus moves a gap forward in its lifecycle. implementedIn is
// required for implemented and ignored otherwise.
func (s *Service) SetGapStatus(ctx context.Context, id int64, status store.GapStatus, implementedIn string) (*store.Gap, error) {
	return s.gaps.SetStatus(ctx, id, status, implementedIn)
}

// GapStats returns gap counts by status, impact, and spec version.
func (s *Service) GapStats(ctx context.Context) (store.GapStats, error) {
	stats, err := s.gaps.Stats(ctx)
	return stats, wrapStore("gap stats", err)
}
