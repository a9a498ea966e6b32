package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"specforge/internal/compiler"
	"specforge/internal/config"
	"specforge/internal/gaps"
	"specforge/internal/gate"
	"specforge/internal/logging"
	"specforge/internal/notifications"
	"specforge/internal/render"
	"specforge/internal/services"
	"specforge/internal/specreg"
	"specforge/internal/stage"
	"specforge/internal/store"
	"specforge/internal/textgen"
	"specforge/internal/verifier"
	"specforge/internal/workflow"
)

// Options configure New. Store and Backend are built from Config when nil.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	Specs   *specreg.Registry
	Backend textgen.Backend
	Logger  *slog.Logger
}

// Service is the operator-facing facade over every component.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	ownStore bool
	specs    *specreg.Registry
	backend  textgen.Backend
	gaps     *gaps.Registry
	verifier *verifier.Verifier
	gate     *gate.Gate
	compiler *compiler.Compiler
	handoff  *render.Handoff
	workflow *workflow.Manager
	logger   *slog.Logger
}

// New wires a Service. The workflow manager is configured with every stage
// handler but not started.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	svc := &Service{cfg: cfg, logger: logging.NewComponentLogger(logger, "api")}
	svc.store = opts.Store
	if svc.store == nil {
		st, err := store.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		svc.store = st
		svc.ownStore = true
	}

	specs := opts.Specs
	if specs == nil {
		var err error
		specs, err = loadSpecs(cfg, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		if err := svc.restoreActiveSpec(context.Background(), specs); err != nil {
			svc.Close()
			return nil, err
		}
	}
	svc.specs = specs

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = textgen.New(cfg.GetLLM())
		if err != nil {
			svc.Close()
			return nil, err
		}
	}
	svc.backend = backend

	svc.gaps = gaps.New(svc.store, specs, logger)
	svc.verifier = verifier.New(svc.store, specs, svc.gaps, backend, cfg.Verifier, logger)
	svc.gate = gate.New(svc.store, specs, cfg.Gate, logger)
	svc.compiler = compiler.New(svc.store, specs, backend, cfg.Compiler, cfg.Paths.ArtifactDir, logger)
	svc.handoff = render.NewHandoff(svc.store, cfg.Render, logger)
	svc.workflow = workflow.NewManager(cfg, svc.store, specs, svc.verifier, logger)
	svc.workflow.SetNotifier(notifications.NewService(cfg.Notifications))
	svc.workflow.ConfigureStages(
		stage.NewVerify(svc.verifier, backend),
		stage.NewSelect(svc.gate, svc.store, cfg.SelectDeferDelay()),
		stage.NewCompile(svc.compiler, svc.store, backend),
		stage.NewHandoff(svc.handoff, svc.store),
	)
	return svc, nil
}

func loadSpecs(cfg *config.Config, logger *slog.Logger) (*specreg.Registry, error) {
	specs, err := specreg.New(logger)
	if err != nil {
		return nil, err
	}
	if cfg.Paths.GrammarDir != "" {
		if _, err := specs.LoadDir(cfg.Paths.GrammarDir); err != nil {
			return nil, fmt.Errorf("load grammars: %w", err)
		}
	}
	return specs, nil
}

// restoreActiveSpec applies the configured active version, or the most
// recent operator activation when none is configured.
func (s *Service) restoreActiveSpec(ctx context.Context, specs *specreg.Registry) error {
	if v := s.cfg.Spec.ActiveVersion; v != "" {
		return specs.Activate(v)
	}
	events, err := s.store.ListAudit(ctx, store.AuditFilter{EntityType: store.EntitySpec, Action: ActionSpecActivated})
	if err != nil {
		return fmt.Errorf("load spec activations: %w", err)
	}
	for _, ev := range slices.Backward(events) {
		version := activatedVersion(ev)
		if version != "" && specs.Has(version) {
			return specs.Activate(version)
		}
	}
	return nil
}

// Close releases the store when the Service opened it.
func (s *Service) Close() error {
	if s == nil || !s.ownStore || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store { return s.store }

// Specs returns the specification registry.
func (s *Service) Specs() *specreg.Registry { return s.specs }

// Workflow returns the pipeline manager.
func (s *Service) Workflow() *workflow.Manager { return s.workflow }

// Verifier returns the capability verifier.
func (s *Service) Verifier() *verifier.Verifier { return s.verifier }

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, s.logger)
}

func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	if store.IsNotFound(err) {
		return services.Fail(services.ErrNotFound, services.CodeNotFound, op, "", err)
	}
	return services.Wrap(services.ErrInfrastructure, "api", op, "", err)
}
