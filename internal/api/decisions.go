package api

import (
	"context"

	"specforge/internal/gate"
	"specforge/internal/store"
)

// SampleCandidates opens a decision round over up to n eligible candidates.
// A non-positive n uses the configured pool size.
func (s *Service) SampleCandidates(ctx context.Context, n int) (*gate.Round, error) {
	if n <= 0 {
		n = s.cfg.Gate.PoolSize
	}
	return s.gate.Sample(ctx, n, 0)
}

// GetRound loads a decision round with its candidates.
func (s *Service) GetRound(ctx context.Context, id int64) (*gate.Round, error) {
	r, err := s.gate.GetRound(ctx, id)
	return r, wrapStore("get round", err)
}

// Decide applies a full decision batch to a round.
func (s *Service) Decide(ctx context.Context, roundID int64, batch []gate.Decision) (*store.Idea, error) {
	return s.gate.Decide(ctx, roundID, batch)
}
