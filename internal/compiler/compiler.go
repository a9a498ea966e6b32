// Package compiler turns a picked idea into a validated specification
// document through a bounded generate, validate, and repair loop.
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"specforge/internal/config"
	"specforge/internal/dsl"
	"specforge/internal/fileutil"
	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/specreg"
	"specforge/internal/store"
	"specforge/internal/telemetry"
	"specforge/internal/textgen"
)

// Audit actions written by the compiler.
const (
	ActionCompiled      = "idea_compiled"
	ActionCompileFailed = "idea_compile_failed"
)

// Options bounds one compilation. Unset values fall back to configuration.
type Options struct {
	MaxAttempts   int
	MaxRepairs    *int
	AllowFallback *bool
	Seed          int64
}

// Result is the outcome of one compilation.
type Result struct {
	Compilation *store.Compilation `json:"compilation"`
	Document    *dsl.Document      `json:"document,omitempty"`
	Reports     []dsl.Report       `json:"reports"`
	Trace       []State            `json:"trace"`
	Degraded    bool               `json:"degraded"`
}

// Compiler runs the compile loop for ideas.
type Compiler struct {
	store       *store.Store
	specs       *specreg.Registry
	backend     textgen.Backend
	cfg         config.Compiler
	artifactDir string
	logger      *slog.Logger
	recorder    *telemetry.Recorder
}

// New constructs a compiler that writes artifacts beneath artifactDir.
func New(st *store.Store, specs *specreg.Registry, backend textgen.Backend, cfg config.Compiler, artifactDir string, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Compiler{
		store:       st,
		specs:       specs,
		backend:     backend,
		cfg:         cfg,
		artifactDir: artifactDir,
		logger:      logging.NewComponentLogger(logger, "compiler"),
		recorder:    telemetry.Default(),
	}
}

func (c *Compiler) resolve(opts Options) (attempts, repairs int, fallback bool) {
	attempts = opts.MaxAttempts
	if attempts <= 0 {
		attempts = max(c.cfg.MaxAttempts, 1)
	}
	repairs = max(c.cfg.MaxRepairs, 0)
	if opts.MaxRepairs != nil {
		repairs = max(*opts.MaxRepairs, 0)
	}
	fallback = c.cfg.AllowFallback
	if opts.AllowFallback != nil {
		fallback = *opts.AllowFallback
	}
	return attempts, repairs, fallback
}

// Compile compiles one idea against the active specification version. A
// failed compilation is persisted and returned together with a
// compile_failed error.
func (c *Compiler) Compile(ctx context.Context, ideaID int64, opts Options) (*Result, error) {
	logger := logging.WithContext(ctx, c.logger).With(logging.Args(logging.Int64(logging.FieldIdeaID, ideaID))...)

	idea, err := c.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, services.Fail(services.ErrNotFound, services.CodeNotFound, "compile", fmt.Sprintf("idea %d not found", ideaID), err)
		}
		return nil, services.Wrap(services.ErrInfrastructure, "compile", "load idea", "", err)
	}
	candidate, err := c.store.GetCandidate(ctx, idea.CandidateID)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "compile", "load candidate", "", err)
	}
	active, err := c.store.ActiveGapCount(ctx, candidate.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "compile", "count active gaps", "", err)
	}
	if candidate.CapabilityStatus != store.CapabilityFeasible || active > 0 {
		return nil, services.Fail(services.ErrPrecondition, services.CodeIdeaNotFeasible, "compile",
			fmt.Sprintf("candidate %d is %s with %d active gaps", candidate.ID, candidate.CapabilityStatus, active), nil)
	}

	grammar := c.specs.Active()
	if grammar == nil {
		return nil, services.Fail(services.ErrConfiguration, services.CodeUnknownSpecVersion, "compile", "no active spec version", nil)
	}
	attempts, repairs, allowFallback := c.resolve(opts)
	seed := opts.Seed
	if seed == 0 {
		seed = DeriveSeed(ideaID, grammar.Version)
	}

	ctx, span := c.recorder.StartSpan(ctx, "compiler.compile",
		attribute.Int64("idea_id", ideaID),
		attribute.String("spec_version", grammar.Version),
	)
	out, loopErr := c.run(ctx, candidate, grammar, attempts, repairs)
	result := &Result{Reports: out.reports, Trace: out.machine.trace}

	record := store.Compilation{
		IdeaID:       ideaID,
		SpecVersion:  grammar.Version,
		Seed:         seed,
		BackendCalls: out.calls,
	}
	doc := out.doc
	if doc == nil && allowFallback && loopErr == nil {
		fb, err := c.fallback(grammar, candidate.Title)
		if err != nil {
			logging.WarnWithContext(logger, "fallback template unusable", "compile_fallback_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "compilation fails without a degraded document"),
			)
		} else {
			doc = fb
			result.Degraded = true
		}
	}

	var failure error
	switch {
	case doc != nil:
		doc.Meta.IdeaID = ideaID
		doc.Meta.SpecVersion = grammar.Version
		doc.Meta.Seed = seed
		doc.Meta.Degraded = result.Degraded
		if err := c.finalize(&record, doc); err != nil {
			telemetry.EndSpan(span, err)
			return nil, err
		}
		record.Status = store.CompilationSucceeded
		if result.Degraded {
			record.Status = store.CompilationDegraded
		}
		result.Document = doc
	case loopErr != nil:
		failure = loopErr
	default:
		failure = services.Fail(services.ErrValidation, services.CodeCompileFailed, "compile",
			fmt.Sprintf("no valid document after %d backend calls", out.calls), nil).
			WithHint("inspect the attached validation reports")
	}
	if failure != nil {
		details := services.ErrorDetails(failure)
		record.Status = store.CompilationFailed
		record.ErrorCode = string(details.Code)
		record.ErrorMessage = details.Message
	}
	encoded, err := json.Marshal(result.Reports)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, fmt.Errorf("encode reports: %w", err)
	}
	record.Reports = string(encoded)
	record.Degraded = result.Degraded

	if err := c.persist(ctx, idea, &record, result); err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}
	c.recorder.Compiled(ctx, string(record.Status))
	telemetry.EndSpan(span, failure)

	if failure != nil {
		logging.WarnWithContext(logger, "compilation failed", "compile_failed",
			append([]logging.Attr{
				logging.Int("backend_calls", out.calls),
				logging.Int("reports", len(result.Reports)),
				logging.String(logging.FieldImpact, "idea stays uncompiled"),
			}, logging.ErrorDetails(failure)...)...,
		)
		return result, failure
	}
	logger.Info("idea compiled",
		logging.String("status", string(record.Status)),
		logging.String(logging.FieldSpecVersion, grammar.Version),
		logging.String("content_hash", record.ContentHash),
		logging.Int("backend_calls", out.calls),
		logging.Bool("degraded", result.Degraded),
	)
	return result, nil
}

type loopOutcome struct {
	machine *machine
	doc     *dsl.Document
	reports []dsl.Report
	calls   int
}

// run drives the state machine. It returns a nil document when validation
// never passed, and an error only for backend failures that end the loop.
func (c *Compiler) run(ctx context.Context, candidate *store.Candidate, grammar *specreg.Grammar, maxAttempts, maxRepairs int) (loopOutcome, error) {
	out := loopOutcome{machine: newMachine()}
	m := out.machine
	base := baseTemplate(c.cfg.TemplatePath)
	attempt, repairsUsed := 1, 0
	var (
		text   string
		failed dsl.Report
	)

	for !m.state.Terminal() {
		if err := ctx.Err(); err != nil {
			m.to(StateFailed)
			return out, services.Wrap(services.ErrCancelled, "compile", "", "", err)
		}
		switch m.state {
		case StateGenerating, StateRepairing:
			req := generateRequest(candidate, grammar, base)
			if m.state == StateRepairing {
				req = repairRequest(grammar, text, failed)
			}
			out.calls++
			reply, err := c.backend.Complete(ctx, req)
			if err != nil {
				if textgen.IsRetryable(err) && attempt < maxAttempts && ctx.Err() == nil {
					attempt++
					repairsUsed = 0
					m.to(StateGenerating)
					continue
				}
				m.to(StateFailed)
				if ctxErr := ctx.Err(); ctxErr != nil && textgen.KindOf(err) == "" {
					return out, services.Wrap(services.ErrCancelled, "compile", "backend call", "", ctxErr)
				}
				return out, textgen.AsServiceError("compile", err)
			}
			text = stripFences(reply)
			m.to(StateValidating)
		case StateValidating:
			doc, reports := grammar.Validate(text)
			last := reports[len(reports)-1]
			if last.OK() {
				out.doc = doc
				m.to(StateSucceeded)
				continue
			}
			failed = last
			out.reports = append(out.reports, last)
			switch {
			case repairsUsed < maxRepairs:
				repairsUsed++
				m.to(StateRepairing)
			case attempt < maxAttempts:
				attempt++
				repairsUsed = 0
				m.to(StateGenerating)
			default:
				m.to(StateFailed)
			}
		}
	}
	return out, nil
}

func (c *Compiler) fallback(grammar *specreg.Grammar, title string) (*dsl.Document, error) {
	doc, err := fallbackDocument(grammar, c.cfg.TemplatePath, title)
	if err != nil {
		return nil, err
	}
	if report := grammar.SemanticValidate(doc); !report.OK() {
		return nil, fmt.Errorf("fallback template invalid: %s", report.Summary())
	}
	return doc, nil
}

// finalize hashes the canonical document and writes it to the artifact
// directory.
func (c *Compiler) finalize(record *store.Compilation, doc *dsl.Document) error {
	data, err := dsl.Canonical(doc)
	if err != nil {
		return services.Wrap(services.ErrInfrastructure, "compile", "encode document", "", err)
	}
	hash, err := dsl.ContentHash(doc)
	if err != nil {
		return services.Wrap(services.ErrInfrastructure, "compile", "hash document", "", err)
	}
	record.ContentHash = hash
	record.Document = string(data)
	if c.artifactDir == "" {
		return nil
	}
	path := ArtifactPath(c.artifactDir, record.IdeaID, hash)
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrInfrastructure, "compile", "write artifact", path, err)
	}
	record.ArtifactPath = path
	return nil
}

func (c *Compiler) persist(ctx context.Context, idea *store.Idea, record *store.Compilation, result *Result) error {
	status := store.CompileCompiled
	action := ActionCompiled
	if record.Status == store.CompilationFailed {
		status = store.CompileFailed
		action = ActionCompileFailed
	}
	err := c.store.WithTx(ctx, func(q *store.Queries) error {
		saved, err := q.InsertCompilation(ctx, *record)
		if err != nil {
			return err
		}
		if err := q.UpdateIdeaCompile(ctx, idea.ID, status, saved.ID); err != nil {
			return err
		}
		result.Compilation = saved
		return q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityIdea,
			EntityID:   idea.ID,
			Action:     action,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"compilation_id": saved.ID,
				"status":         saved.Status,
				"spec_version":   saved.SpecVersion,
				"seed":           saved.Seed,
				"content_hash":   saved.ContentHash,
				"degraded":       saved.Degraded,
				"backend_calls":  saved.BackendCalls,
				"error_code":     saved.ErrorCode,
			},
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return services.Wrap(services.ErrCancelled, "compile", "persist", "", err)
		}
		return services.Wrap(services.ErrInfrastructure, "compile", "persist compilation", "", err)
	}
	return nil
}

// ArtifactPath returns where a compiled document with hash is written.
func ArtifactPath(root string, ideaID int64, hash string) string {
	short := hash
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(root, "idea-"+strconv.FormatInt(ideaID, 10), "spec-"+short+".yaml")
}

// DeriveSeed returns a stable non-negative seed for an idea and version.
func DeriveSeed(ideaID int64, specVersion string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "idea:%d:%s", ideaID, specVersion)
	return int64(h.Sum64() >> 1)
}
