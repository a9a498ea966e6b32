package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"specforge/internal/logging"
	"specforge/internal/store"
)

// HeartbeatMonitor refreshes heartbeats of running stages.
type HeartbeatMonitor struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HeartbeatMonitor{store: st, logger: logger, interval: interval, timeout: timeout}
}

// Timeout is the heartbeat age after which a running stage counts as stale.
func (h *HeartbeatMonitor) Timeout() time.Duration { return h.timeout }

// StartLoop refreshes the stage heartbeat until ctx is cancelled. It calls
// lost when the stage is no longer owned by workerID.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, stageID int64, workerID string, lost func()) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String("component", "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := h.store.HeartbeatStage(ctx, stageID, workerID)
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				return
			case err != nil:
				logger.Warn("heartbeat update failed", logging.Error(err))
			case !ok:
				logging.WarnWithContext(logger, "stage ownership lost", "heartbeat_lost",
					logging.Int64("stage_run_id", stageID),
					logging.String(logging.FieldImpact, "late result will be rejected"),
				)
				if lost != nil {
					lost()
				}
				return
			}
		}
	}
}
