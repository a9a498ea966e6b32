package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"specforge/internal/api"
	"specforge/internal/config"
	"specforge/internal/logging"
	"specforge/internal/preflight"
)

// Daemon coordinates background processing and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	svc    *api.Service
	logger *slog.Logger
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool        `json:"running"`
	PID          int         `json:"pid"`
	LockFilePath string      `json:"lock_file_path"`
	APIAddress   string      `json:"api_address,omitempty"`
	Service      *api.Status `json:"service,omitempty"`
}

// New constructs a daemon around an operator service.
func New(svc *api.Service, logger *slog.Logger) (*Daemon, error) {
	if svc == nil {
		return nil, errors.New("daemon requires an operator service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg := svc.Config()
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, svc, d, d.logger)
	return d, nil
}

// Start acquires the daemon lock and launches workers, loops, and the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another specforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.svc.Workflow().Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.svc.Workflow().Stop()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.startLoops(runCtx)
	d.watchGrammars(runCtx)
	go d.logPreflight(runCtx)

	d.running.Store(true)
	d.logger.Info("specforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldSpecVersion, d.svc.Specs().ActiveVersion()),
		logging.Int("workers", d.cfg.Workflow.Workers),
	)
	return nil
}

// logPreflight reports failed readiness checks. Failures never stop the daemon.
func (d *Daemon) logPreflight(ctx context.Context) {
	results := d.svc.Preflight(ctx)
	if ctx.Err() != nil {
		return
	}
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "stages depending on this check may fail"),
		)
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.loops.Wait()
	d.svc.Workflow().Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("specforge daemon stopped")
}

// Close stops the daemon and releases the service.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Close()
}

// Addr returns the API listener address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		APIAddress:   d.Addr(),
	}
	if svcStatus, err := d.svc.Status(ctx); err == nil {
		st.Service = svcStatus
	} else {
		d.logger.Warn("status collection failed", logging.Error(err))
	}
	return st
}

func (d *Daemon) watchGrammars(ctx context.Context) {
	dir := d.cfg.Paths.GrammarDir
	if !d.cfg.Spec.Watch || dir == "" {
		return
	}
	if err := d.svc.Specs().Watch(ctx, dir); err != nil {
		logging.WarnWithContext(d.logger, "grammar watch unavailable", "grammar_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "new grammar files need a daemon restart"),
		)
		return
	}
	d.logger.Info("watching grammar directory", logging.String("path", dir))
}
