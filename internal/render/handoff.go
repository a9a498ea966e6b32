package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"specforge/internal/config"
	"specforge/internal/fileutil"
	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/telemetry"
)

// ActionHandoff is the audit action written for every handoff outcome.
const ActionHandoff = "render_handoff"

// Outcome is the result of handing one idea to the engine.
type Outcome struct {
	IdeaID        int64              `json:"idea_id"`
	CompilationID int64              `json:"compilation_id"`
	Status        store.RenderStatus `json:"status"`
	SpecPath      string             `json:"spec_path,omitempty"`
	Seed          int64              `json:"seed"`
	Artifacts     []string           `json:"artifacts,omitempty"`
	ExitCode      int                `json:"exit_code"`
}

// Handoff passes compiled documents to an Engine. A nil engine records a
// skip instead.
type Handoff struct {
	store    *store.Store
	engine   Engine
	timeout  time.Duration
	logger   *slog.Logger
	recorder *telemetry.Recorder
}

// NewHandoff builds a handoff from configuration. Rendering disabled yields
// a handoff that records skips.
func NewHandoff(st *store.Store, cfg config.Render, logger *slog.Logger) *Handoff {
	var engine Engine
	if cfg.Enabled {
		engine = NewCommand(cfg.Command, cfg.Args, logger)
	}
	return NewHandoffWithEngine(st, engine, time.Duration(cfg.TimeoutSeconds)*time.Second, logger)
}

// NewHandoffWithEngine wires an explicit engine.
func NewHandoffWithEngine(st *store.Store, engine Engine, timeout time.Duration, logger *slog.Logger) *Handoff {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handoff{
		store:    st,
		engine:   engine,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "render"),
		recorder: telemetry.Default(),
	}
}

// Enabled reports whether an engine is configured.
func (h *Handoff) Enabled() bool { return h.engine != nil }

// Run hands the idea's latest successful compilation to the engine. render
// overrides the configured enablement when false.
func (h *Handoff) Run(ctx context.Context, ideaID int64, render bool) (*Outcome, error) {
	logger := logging.WithContext(ctx, h.logger).With(logging.Args(logging.Int64(logging.FieldIdeaID, ideaID))...)
	idea, err := h.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, services.Fail(services.ErrNotFound, services.CodeNotFound, "handoff", fmt.Sprintf("idea %d not found", ideaID), err)
		}
		return nil, services.Wrap(services.ErrInfrastructure, "handoff", "load idea", "", err)
	}
	if idea.CompileStatus != store.CompileCompiled || idea.CompilationID == 0 {
		return nil, services.Fail(services.ErrPrecondition, services.CodeStageOrder, "handoff",
			fmt.Sprintf("idea %d has no successful compilation", ideaID), nil)
	}
	comp, err := h.store.GetCompilation(ctx, idea.CompilationID)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "handoff", "load compilation", "", err)
	}
	out := &Outcome{
		IdeaID:        ideaID,
		CompilationID: comp.ID,
		SpecPath:      comp.ArtifactPath,
		Seed:          comp.Seed,
	}

	if h.engine == nil || !render {
		out.Status = store.RenderSkipped
		if err := h.record(ctx, out, nil); err != nil {
			return nil, err
		}
		logger.Info("render handoff skipped", logging.String(logging.FieldDecisionType, "render_disabled"))
		return out, nil
	}
	if comp.ArtifactPath == "" {
		return nil, services.Fail(services.ErrPrecondition, services.CodeRenderFailed, "handoff",
			fmt.Sprintf("compilation %d has no artifact on disk", comp.ID), nil)
	}

	// The engine reads a private copy so a later compilation cannot change
	// the input mid-render.
	outputDir := filepath.Join(filepath.Dir(comp.ArtifactPath), fmt.Sprintf("render-%d", comp.ID))
	input := filepath.Join(outputDir, "input", filepath.Base(comp.ArtifactPath))
	if err := fileutil.CopyVerified(comp.ArtifactPath, input); err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "handoff", "stage spec", comp.ArtifactPath, err)
	}

	spanCtx, span := h.recorder.StartSpan(ctx, "render.handoff",
		attribute.Int64("idea_id", ideaID),
		attribute.Int64("seed", comp.Seed),
	)
	res, renderErr := h.engine.Render(spanCtx, Job{
		SpecPath:  input,
		Seed:      comp.Seed,
		OutputDir: outputDir,
		Limits:    Limits{Timeout: h.timeout},
	})
	telemetry.EndSpan(span, renderErr)
	if renderErr != nil && ctx.Err() != nil {
		return nil, services.Wrap(services.ErrCancelled, "handoff", "render", "", ctx.Err())
	}
	out.ExitCode = res.ExitCode
	out.Artifacts = res.Artifacts
	out.Status = store.RenderRendered
	var failure error
	if renderErr != nil {
		out.Status = store.RenderFailed
		failure = services.Fail(services.ErrInfrastructure, services.CodeRenderFailed, "handoff", renderErr.Error(), renderErr)
		if errors.Is(renderErr, ErrTimeout) {
			failure = services.Fail(services.ErrInfrastructure, services.CodeRenderFailed, "handoff",
				fmt.Sprintf("render exceeded %s", h.timeout), renderErr).WithHint("raise render.timeout_seconds or simplify the spec")
		}
	}
	if err := h.record(ctx, out, failure); err != nil {
		return nil, err
	}
	if failure != nil {
		logging.WarnWithContext(logger, "render failed", "render_failed",
			append([]logging.Attr{
				logging.Int("exit_code", res.ExitCode),
				logging.String(logging.FieldImpact, "idea compiled but not rendered"),
			}, logging.ErrorDetails(failure)...)...,
		)
		return out, failure
	}
	logger.Info("render handoff complete",
		logging.Int("artifacts", len(out.Artifacts)),
		logging.Int64("seed", out.Seed),
	)
	return out, nil
}

func (h *Handoff) record(ctx context.Context, out *Outcome, failure error) error {
	payload := map[string]any{
		"status":         out.Status,
		"compilation_id": out.CompilationID,
		"seed":           out.Seed,
		"exit_code":      out.ExitCode,
		"artifacts":      out.Artifacts,
	}
	if failure != nil {
		payload["error_code"] = services.CodeOf(failure)
	}
	err := h.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.UpdateIdeaRender(ctx, out.IdeaID, out.Status); err != nil {
			return err
		}
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityIdea,
			EntityID:   out.IdeaID,
			Action:     ActionHandoff,
			Actor:      services.ActorFromContext(ctx),
			Payload:    payload,
		})
	})
	if err != nil {
		return services.Wrap(services.ErrInfrastructure, "handoff", "record outcome", "", err)
	}
	return nil
}

// HealthCheck reports whether the configured command can be executed.
func (h *Handoff) HealthCheck() error {
	cmd, ok := h.engine.(*Command)
	if !ok {
		return nil
	}
	return checkExecutable(cmd.Path)
}
