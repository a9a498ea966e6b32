package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"specforge/internal/logging"
	"specforge/internal/store"
)

// Start launches the worker pool. Workers run until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = group
	m.running = true
	m.mu.Unlock()

	workers := max(m.cfg.Workflow.Workers, 1)
	prefix := uuid.NewString()[:8]
	for i := range workers {
		workerID := fmt.Sprintf("worker-%s-%d", prefix, i)
		group.Go(func() error {
			m.runWorker(groupCtx, workerID)
			return nil
		})
	}
	m.logger.Info("workflow started", logging.Int("workers", workers))
	return nil
}

// Stop terminates background processing and waits for workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, group := m.cancel, m.group
	m.running = false
	m.cancel = nil
	m.group = nil
	m.mu.Unlock()

	cancel()
	_ = group.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	logger := m.logger.With(logging.String("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sr, run, err := m.claimNext(ctx, workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim next stage",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_claim_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			m.wait(ctx)
			continue
		}
		if sr == nil {
			m.wait(ctx)
			continue
		}
		if _, err := m.execute(ctx, run, sr, workerID); err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) claimNext(ctx context.Context, workerID string) (*store.StageRun, *store.PipelineRun, error) {
	var (
		sr  *store.StageRun
		run *store.PipelineRun
	)
	err := m.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		sr, err = q.ClaimNextStage(ctx, workerID)
		if err != nil || sr == nil {
			return err
		}
		run, err = q.GetRun(ctx, sr.RunID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return sr, run, nil
}

func (m *Manager) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
