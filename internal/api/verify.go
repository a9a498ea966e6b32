package api

import (
	"context"

	"specforge/internal/verifier"
)

// Verify runs capability verification for one candidate.
func (s *Service) Verify(ctx context.Context, candidateID int64) (*verifier.Report, error) {
	return s.verifier.Verify(ctx, candidateID)
}

// VerifyBatch verifies up to limit unverified candidates.
func (s *Service) VerifyBatch(ctx context.Context, limit int) (*verifier.BatchResult, error) {
	return s.verifier.VerifyBatch(ctx, limit)
}

// ProcessReverifyQueue drains pending re-verifications.
func (s *Service) ProcessReverifyQueue(ctx context.Context, limit int) (*verifier.ReverifyResult, error) {
	return s.verifier.ProcessReverifyQueue(ctx, limit)
}
