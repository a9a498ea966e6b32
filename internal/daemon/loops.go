package daemon

import (
	"context"
	"time"

	"specforge/internal/logging"
	"specforge/internal/services"
)

const systemActor = "system:daemon"

func (d *Daemon) startLoops(ctx context.Context) {
	ctx = services.WithActor(ctx, systemActor)
	if interval := d.cfg.ReverifyPollInterval(); interval > 0 {
		d.runLoop(ctx, "reverify", interval, d.reverifyOnce)
	}
	if timeout := d.cfg.HeartbeatTimeout(); timeout > 0 {
		d.runLoop(ctx, "stale_cleanup", max(timeout/2, time.Second), d.cleanupOnce)
	}
}

func (d *Daemon) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		d.logger.Debug("loop started", logging.String("loop", name), logging.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (d *Daemon) reverifyOnce(ctx context.Context) {
	result, err := d.svc.ProcessReverifyQueue(ctx, d.cfg.Verifier.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "re-verify pass failed", "reverify_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "entries stay queued for the next pass"),
		)
		return
	}
	if result.Processed > 0 {
		d.logger.Info("re-verify pass complete",
			logging.String(logging.FieldEventType, "reverify_complete"),
			logging.Int("processed", result.Processed),
			logging.Int("failed", result.Failed),
		)
	}
}

func (d *Daemon) cleanupOnce(ctx context.Context) {
	if _, err := d.svc.CleanupStaleStages(ctx, 0); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "stale stage cleanup failed", "cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stuck stages stay running until the next pass"),
		)
	}
}
