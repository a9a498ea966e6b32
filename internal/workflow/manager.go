package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"specforge/internal/config"
	"specforge/internal/logging"
	"specforge/internal/notifications"
	"specforge/internal/specreg"
	"specforge/internal/stage"
	"specforge/internal/store"
	"specforge/internal/telemetry"
)

// Audit actions written by the manager.
const (
	ActionRunEnqueued    = "run_enqueued"
	ActionRunCancelled   = "run_cancelled"
	ActionRunFinished    = "run_finished"
	ActionStageSucceeded = "stage_succeeded"
	ActionStageFailed    = "stage_failed"
	ActionStageDeferred  = "stage_deferred"
	ActionStageRetried   = "stage_retried"
	ActionStageRejected  = "stage_result_rejected"
	ActionStageTimedOut  = "stage_timed_out"
)

// ClaimReleaser frees verification claims held by workers that disappeared.
type ClaimReleaser interface {
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Manager coordinates pipeline runs using registered stage handlers.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	specs    *specreg.Registry
	logger   *slog.Logger
	recorder *telemetry.Recorder
	claims   ClaimReleaser
	notifier notifications.Service

	handlers     map[store.StageName]stage.Handler
	pollInterval time.Duration
	heartbeat    *HeartbeatMonitor

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	lastErr   error
	lastStage *store.StageRun
	inflight  map[int64]context.CancelCauseFunc
}

// NewManager constructs a workflow manager. claims may be nil.
func NewManager(cfg *config.Config, st *store.Store, specs *specreg.Registry, claims ClaimReleaser, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	poll := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = time.Second
	}
	return &Manager{
		cfg:          cfg,
		store:        st,
		specs:        specs,
		logger:       logger,
		recorder:     telemetry.Default(),
		claims:       claims,
		notifier:     notifications.NewNoop(),
		handlers:     make(map[store.StageName]stage.Handler),
		pollInterval: poll,
		heartbeat: NewHeartbeatMonitor(st, logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		inflight: make(map[int64]context.CancelCauseFunc),
	}
}

// ConfigureStages registers stage handlers by their names.
func (m *Manager) ConfigureStages(handlers ...stage.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			m.handlers[h.Name()] = h
		}
	}
}

// SetNotifier replaces the run outcome notifier. nil disables notifications.
func (m *Manager) SetNotifier(n notifications.Service) {
	if n == nil {
		n = notifications.NewNoop()
	}
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

func (m *Manager) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	m.mu.RLock()
	n := m.notifier
	m.mu.RUnlock()
	if err := n.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator was not notified"),
		)
	}
}

func (m *Manager) handler(name store.StageName) stage.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[name]
}
