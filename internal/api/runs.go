package api

import (
	"context"
	"time"

	"specforge/internal/store"
	"specforge/internal/workflow"
)

// Enqueue creates a pipeline run for a window, or returns the existing one.
func (s *Service) Enqueue(ctx context.Context, req workflow.EnqueueRequest) (*store.PipelineRun, bool, error) {
	return s.workflow.Enqueue(ctx, req)
}

// RunStage executes one stage of a run synchronously.
func (s *Service) RunStage(ctx context.Context, runID int64, name store.StageName) (*store.StageRun, error) {
	return s.workflow.RunStage(ctx, runID, name)
}

// CancelRun cancels a pending or running run.
func (s *Service) CancelRun(ctx context.Context, runID int64) (*store.PipelineRun, error) {
	return s.workflow.Cancel(ctx, runID)
}

// CleanupStaleStages fails stages whose heartbeat is older than olderThan.
func (s *Service) CleanupStaleStages(ctx context.Context, olderThan time.Duration) (*workflow.CleanupResult, error) {
	return s.workflow.CleanupStaleStages(ctx, olderThan)
}

// ListRuns returns runs matching filter.
func (s *Service) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.PipelineRun, error) {
	return s.workflow.ListRuns(ctx, filter)
}

// ShowRun loads a run with its stages and outputs.
func (s *Service) ShowRun(ctx context.Context, runID int64) (*workflow.RunDetail, error) {
	return s.workflow.Describe(ctx, runID)
}
